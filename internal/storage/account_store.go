package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/theycallmesabb/bank-api/internal/models"
)

// PostgresAccountStore keeps one balance row per username in the
// accounts table and detects write races through the version column.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

var _ AccountStore = (*PostgresAccountStore)(nil)
var _ PairWriter = (*PostgresAccountStore)(nil)

func (s *PostgresAccountStore) Get(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT username, balance, version, created_at, updated_at
		FROM accounts
		WHERE username = $1`, username).
		Scan(&account.Username, &account.Balance, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", username, err)
	}
	return &account, nil
}

func (s *PostgresAccountStore) ConditionalPut(ctx context.Context, account *models.Account, expectedVersion int64) error {
	return s.conditionalPut(ctx, s.db, account, expectedVersion)
}

// execer covers both *sql.DB and *sql.Tx so single writes and the
// pair path share one implementation.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresAccountStore) conditionalPut(ctx context.Context, ex execer, account *models.Account, expectedVersion int64) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE username = $3 AND version = $4`,
		account.Balance, time.Now().UTC(), account.Username, expectedVersion)
	if err != nil {
		return fmt.Errorf("put account %s: %w", account.Username, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put account %s: %w", account.Username, err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// The row was not written: either the account vanished or another
	// writer bumped the version since our read.
	var exists bool
	err = ex.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, account.Username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("put account %s: %w", account.Username, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// ConditionalPutPair commits both conditional writes in one database
// transaction. A conflict on either account rolls back the whole pair,
// so no partial transfer is ever observable.
func (s *PostgresAccountStore) ConditionalPutPair(ctx context.Context, first, second *models.Account, firstVersion, secondVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pair write: %w", err)
	}
	defer tx.Rollback()

	if err := s.conditionalPut(ctx, tx, first, firstVersion); err != nil {
		return err
	}
	if err := s.conditionalPut(ctx, tx, second, secondVersion); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pair write: %w", err)
	}
	return nil
}

func (s *PostgresAccountStore) Create(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, balance, version, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (username) DO NOTHING`,
		account.Username, account.Balance, now)
	if err != nil {
		return fmt.Errorf("create account %s: %w", account.Username, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create account %s: %w", account.Username, err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}
