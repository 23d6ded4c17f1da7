package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/theycallmesabb/bank-api/internal/models"
)

// PostgresTransactionLog stores one row per (username, transaction_id)
// in the transactions table. Rows are insert-only.
type PostgresTransactionLog struct {
	db *sql.DB
}

func NewPostgresTransactionLog(db *sql.DB) *PostgresTransactionLog {
	return &PostgresTransactionLog{db: db}
}

var _ TransactionLog = (*PostgresTransactionLog)(nil)

func (l *PostgresTransactionLog) Append(ctx context.Context, record *models.TransactionRecord) error {
	var counterparty sql.NullString
	if record.Counterparty != "" {
		counterparty = sql.NullString{String: record.Counterparty, Valid: true}
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, username, kind, amount, resulting_balance, description, counterparty, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING`,
		record.TransactionID, record.Username, record.Kind, record.Amount,
		record.ResultingBalance, record.Description, counterparty, record.Timestamp)
	if err != nil {
		return fmt.Errorf("append record %s: %w", record.TransactionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append record %s: %w", record.TransactionID, err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (l *PostgresTransactionLog) ListByUser(ctx context.Context, username string) ([]models.TransactionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT transaction_id, username, kind, amount, resulting_balance, description, counterparty, created_at
		FROM transactions
		WHERE username = $1
		ORDER BY created_at DESC, transaction_id DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("list records for %s: %w", username, err)
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var record models.TransactionRecord
		var counterparty sql.NullString
		if err := rows.Scan(&record.TransactionID, &record.Username, &record.Kind, &record.Amount,
			&record.ResultingBalance, &record.Description, &counterparty, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("scan record for %s: %w", username, err)
		}
		record.Counterparty = counterparty.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records for %s: %w", username, err)
	}
	return records, nil
}
