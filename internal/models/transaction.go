package models

import (
	"time"
)

const (
	KindCredit = "credit"
	KindDebit  = "debit"
)

// TransactionRecord is one immutable entry in a user's transaction
// history. The records for a user, applied oldest-first starting from
// zero, reproduce the balances observed on the account.
type TransactionRecord struct {
	Username         string    `json:"username" db:"username"`
	TransactionID    string    `json:"transaction_id" db:"transaction_id"`
	Kind             string    `json:"kind" db:"kind"`     // credit or debit
	Amount           int64     `json:"amount" db:"amount"` // minor units, always > 0
	ResultingBalance int64     `json:"resulting_balance" db:"resulting_balance"`
	Timestamp        time.Time `json:"timestamp" db:"created_at"`
	Description      string    `json:"description" db:"description"`
	Counterparty     string    `json:"counterparty,omitempty" db:"counterparty"`
}
