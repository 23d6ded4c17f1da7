package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		username   TEXT PRIMARY KEY REFERENCES users (username),
		balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version    BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		transaction_id    TEXT PRIMARY KEY,
		username          TEXT NOT NULL REFERENCES users (username),
		kind              TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
		amount            BIGINT NOT NULL CHECK (amount > 0),
		resulting_balance BIGINT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		counterparty      TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_username_created_at
		ON transactions (username, created_at DESC)`,
}

// EnsureSchema provisions the tables at startup so a fresh database
// works without manual migration.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	log.Println("[STORAGE] Schema verified")
	return nil
}
