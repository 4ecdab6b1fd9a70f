package database

import (
	"database/sql"
	"fmt"
)

// Persisted state of the payments core: wallets keyed by user id, league
// pots keyed by league id, and the append-only transaction audit trail.
// Uniqueness of (provider, provider_ref) and of idempotency_key is enforced
// here; the services layer maps the violations to typed errors.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id        BIGINT PRIMARY KEY,
		balance_cents  BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS league_pots (
		league_id    BIGINT PRIMARY KEY,
		pot_cents    BIGINT NOT NULL DEFAULT 0 CHECK (pot_cents >= 0),
		house_cents  BIGINT NOT NULL DEFAULT 0 CHECK (house_cents >= 0),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL,
		league_id        BIGINT,
		type             VARCHAR(32) NOT NULL,
		provider         VARCHAR(32),
		amount_cents     BIGINT NOT NULL CHECK (amount_cents > 0),
		currency         CHAR(3) NOT NULL,
		status           VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		provider_ref     VARCHAR(100),
		idempotency_key  VARCHAR(64),
		error            VARCHAR(255),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uq_transactions_provider_ref UNIQUE (provider, provider_ref),
		CONSTRAINT uq_transactions_idempotency UNIQUE (idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_provider_ref ON transactions (provider_ref)`,
}

// EnsureSchema creates the payments tables if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	return nil
}
