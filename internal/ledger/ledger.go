// Package ledger is the sole writer of account balances and their
// transaction history. Every mutation is a conditional write keyed on
// the account version read beforehand, retried a bounded number of
// times, with the history record appended only after the balance
// commit is durable.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/theycallmesabb/bank-api/internal/models"
	"github.com/theycallmesabb/bank-api/internal/storage"
)

const (
	maxWriteAttempts  = 5
	maxAppendAttempts = 3
	baseBackoff       = 10 * time.Millisecond
)

type Ledger struct {
	accounts storage.AccountStore
	records  storage.TransactionLog
}

func New(accounts storage.AccountStore, records storage.TransactionLog) *Ledger {
	return &Ledger{
		accounts: accounts,
		records:  records,
	}
}

// Fund credits amount (minor units) to the account and appends one
// credit record. Returns the new balance.
func (l *Ledger) Fund(ctx context.Context, username string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	// Generated once so append retries stay idempotent.
	transactionID := uuid.New().String()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		account, err := l.accounts.Get(ctx, username)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("account %s: %w", username, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		updated := *account
		updated.Balance = account.Balance + amount

		// Once the conditional write commits the operation must run to
		// completion, so the caller's cancellation no longer applies.
		commitCtx := context.WithoutCancel(ctx)

		err = l.accounts.ConditionalPut(commitCtx, &updated, account.Version)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrVersionConflict):
			if err := backoff(ctx, attempt); err != nil {
				return 0, err
			}
			continue
		case errors.Is(err, storage.ErrNotFound):
			return 0, fmt.Errorf("account %s: %w", username, ErrNotFound)
		default:
			return 0, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		record := &models.TransactionRecord{
			Username:         username,
			TransactionID:    transactionID,
			Kind:             models.KindCredit,
			Amount:           amount,
			ResultingBalance: updated.Balance,
			Timestamp:        time.Now().UTC(),
			Description:      "Account funding",
		}
		if err := l.append(commitCtx, record); err != nil {
			return updated.Balance, err
		}
		return updated.Balance, nil
	}

	log.Printf("[LEDGER] Fund for %s gave up after %d attempts", username, maxWriteAttempts)
	return 0, ErrContention
}

// conditionalWrite is one half of a transfer: the updated account copy,
// the version the write is conditioned on, and the applied delta so a
// committed half can be reversed if its partner conflicts.
type conditionalWrite struct {
	account         *models.Account
	expectedVersion int64
	delta           int64
}

// Transfer moves amount from one account to the other: both balances
// change or neither does, and one debit plus one credit record share
// the same timestamp. Returns the sender's new balance.
func (l *Ledger) Transfer(ctx context.Context, fromUsername, toUsername string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if fromUsername == toUsername {
		return 0, fmt.Errorf("sender and recipient are the same: %w", ErrInvalidAmount)
	}

	debitID := uuid.New().String()
	creditID := uuid.New().String()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		from, err := l.accounts.Get(ctx, fromUsername)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("sender %s: %w", fromUsername, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		to, err := l.accounts.Get(ctx, toUsername)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", toUsername, ErrRecipientNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		if from.Balance < amount {
			return 0, ErrInsufficientFunds
		}

		updatedFrom := *from
		updatedFrom.Balance = from.Balance - amount
		updatedTo := *to
		updatedTo.Balance = to.Balance + amount

		// Accounts are always written in lexicographic username order,
		// regardless of which side is the sender, so two opposing
		// transfers over the same pair cannot deadlock.
		first := conditionalWrite{account: &updatedFrom, expectedVersion: from.Version, delta: -amount}
		second := conditionalWrite{account: &updatedTo, expectedVersion: to.Version, delta: amount}
		if fromUsername > toUsername {
			first, second = second, first
		}

		commitCtx := context.WithoutCancel(ctx)

		err = l.putPair(commitCtx, first, second)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrVersionConflict):
			if err := backoff(ctx, attempt); err != nil {
				return 0, err
			}
			continue
		case errors.Is(err, storage.ErrNotFound):
			return 0, fmt.Errorf("transfer %s -> %s: %w", fromUsername, toUsername, ErrNotFound)
		default:
			return 0, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		now := time.Now().UTC()
		debit := &models.TransactionRecord{
			Username:         fromUsername,
			TransactionID:    debitID,
			Kind:             models.KindDebit,
			Amount:           amount,
			ResultingBalance: updatedFrom.Balance,
			Timestamp:        now,
			Description:      "Payment to " + toUsername,
			Counterparty:     toUsername,
		}
		credit := &models.TransactionRecord{
			Username:         toUsername,
			TransactionID:    creditID,
			Kind:             models.KindCredit,
			Amount:           amount,
			ResultingBalance: updatedTo.Balance,
			Timestamp:        now,
			Description:      "Payment from " + fromUsername,
			Counterparty:     fromUsername,
		}
		if err := l.append(commitCtx, debit); err != nil {
			return updatedFrom.Balance, err
		}
		if err := l.append(commitCtx, credit); err != nil {
			return updatedFrom.Balance, err
		}
		return updatedFrom.Balance, nil
	}

	log.Printf("[LEDGER] Transfer %s -> %s gave up after %d attempts", fromUsername, toUsername, maxWriteAttempts)
	return 0, ErrContention
}

// putPair commits both conditional writes. Stores that can write two
// keys as one unit take the atomic path; otherwise the writes go out in
// order and a conflict on the second reverses the first before the
// conflict is reported, so no partial transfer survives.
func (l *Ledger) putPair(ctx context.Context, first, second conditionalWrite) error {
	if pw, ok := l.accounts.(storage.PairWriter); ok {
		return pw.ConditionalPutPair(ctx, first.account, second.account, first.expectedVersion, second.expectedVersion)
	}

	if err := l.accounts.ConditionalPut(ctx, first.account, first.expectedVersion); err != nil {
		return err
	}

	err := l.accounts.ConditionalPut(ctx, second.account, second.expectedVersion)
	if err == nil {
		return nil
	}
	if compErr := l.compensate(ctx, first.account.Username, first.delta); compErr != nil {
		log.Printf("[LEDGER] Compensation failed for %s after partial transfer: %v", first.account.Username, compErr)
		return fmt.Errorf("reversing %s after pair conflict: %w", first.account.Username, compErr)
	}
	return err
}

// compensate reverses a committed delta on one account with a fresh
// conditional write.
func (l *Ledger) compensate(ctx context.Context, username string, delta int64) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		account, err := l.accounts.Get(ctx, username)
		if err != nil {
			return err
		}

		updated := *account
		updated.Balance = account.Balance - delta

		err = l.accounts.ConditionalPut(ctx, &updated, account.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		if err := backoff(ctx, attempt); err != nil {
			return err
		}
	}
	return ErrContention
}

// Balance returns the stored balance in minor units.
func (l *Ledger) Balance(ctx context.Context, username string) (int64, error) {
	account, err := l.accounts.Get(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("account %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return account.Balance, nil
}

// History returns the account's records most recent first as a lazy,
// restartable sequence: every range re-reads the log.
func (l *Ledger) History(ctx context.Context, username string) (iter.Seq2[models.TransactionRecord, error], error) {
	if _, err := l.accounts.Get(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	seq := func(yield func(models.TransactionRecord, error) bool) {
		records, err := l.records.ListByUser(ctx, username)
		if err != nil {
			yield(models.TransactionRecord{}, fmt.Errorf("%w: %v", ErrStorage, err))
			return
		}
		for _, record := range records {
			if !yield(record, nil) {
				return
			}
		}
	}
	return seq, nil
}

// append writes one record to the log. The balance mutation is already
// durable by the time append runs, so failures are retried against the
// pre-generated transaction ID rather than rolled back; a duplicate
// means an earlier attempt landed and counts as success.
func (l *Ledger) append(ctx context.Context, record *models.TransactionRecord) error {
	var err error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err = l.records.Append(ctx, record)
		if err == nil || errors.Is(err, storage.ErrAlreadyExists) {
			return nil
		}
		log.Printf("[LEDGER] Record append failed for %s (attempt %d/%d): %v",
			record.TransactionID, attempt+1, maxAppendAttempts, err)
		time.Sleep(baseBackoff << attempt)
	}
	return fmt.Errorf("%w: balance committed but record %s not appended: %v", ErrStorage, record.TransactionID, err)
}

func backoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(baseBackoff << attempt):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
