package storage

import (
	"context"
	"errors"

	"github.com/theycallmesabb/bank-api/internal/models"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates a conditional write lost to a
	// concurrent modification of the same account.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a create or append hit a key that is
	// already present.
	ErrAlreadyExists = errors.New("record already exists")
)

// AccountStore is the durable key-value home of one balance record per
// user. All mutation goes through conditional writes keyed on the
// version read beforehand.
type AccountStore interface {
	// Get returns the account, including the version to condition
	// subsequent writes on. Returns ErrNotFound if absent.
	Get(ctx context.Context, username string) (*models.Account, error)

	// ConditionalPut writes balance and timestamps from account and
	// bumps the stored version, but only if the stored version still
	// equals expectedVersion. Returns ErrVersionConflict when another
	// writer got there first, ErrNotFound if the account is gone.
	ConditionalPut(ctx context.Context, account *models.Account, expectedVersion int64) error

	// Create inserts a fresh zero-balance account at version 1.
	// Returns ErrAlreadyExists on duplicate username.
	Create(ctx context.Context, account *models.Account) error
}

// PairWriter is implemented by stores that can commit two conditional
// puts as a single unit, so a transfer never exposes a half-applied
// state. The ledger uses it when available and falls back to ordered
// single-key writes with compensation otherwise.
type PairWriter interface {
	ConditionalPutPair(ctx context.Context, first, second *models.Account, firstVersion, secondVersion int64) error
}

// TransactionLog is the append-only, per-user ordered record of
// completed ledger operations. Entries are never mutated once written.
type TransactionLog interface {
	// Append writes one record. It is idempotent on TransactionID:
	// re-appending an already-stored ID returns ErrAlreadyExists and
	// leaves the log unchanged.
	Append(ctx context.Context, record *models.TransactionRecord) error

	// ListByUser returns the user's records, most recent first.
	ListByUser(ctx context.Context, username string) ([]models.TransactionRecord, error)
}
