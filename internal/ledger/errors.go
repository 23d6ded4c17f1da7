package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive amounts and self-payments.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNotFound indicates the account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrRecipientNotFound narrows ErrNotFound to a transfer's
	// recipient side; errors.Is(err, ErrNotFound) still holds.
	ErrRecipientNotFound = fmt.Errorf("recipient: %w", ErrNotFound)

	// ErrInsufficientFunds indicates the transfer would drive the
	// sender's balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrContention indicates the bounded optimistic retries were
	// exhausted by concurrent writers.
	ErrContention = errors.New("account contention, retries exhausted")

	// ErrStorage wraps storage I/O failures unrelated to versioning.
	ErrStorage = errors.New("storage failure")
)
