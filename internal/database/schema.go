package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration DDL, applied in order when auto-migrate is enabled. The unique
// indexes on users.email and refresh_tokens.token_hash are correctness
// requirements, not performance tweaks.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS account_holders (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE REFERENCES users(id),
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		dob DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		holder_id BIGINT NOT NULL REFERENCES account_holders(id),
		type VARCHAR(20) NOT NULL,
		currency VARCHAR(10) NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		type VARCHAR(20) NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		currency VARCHAR(10) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_created
		ON transactions (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id BIGSERIAL PRIMARY KEY,
		from_account_id BIGINT NOT NULL REFERENCES accounts(id),
		to_account_id BIGINT NOT NULL REFERENCES accounts(id),
		amount BIGINT NOT NULL CHECK (amount > 0),
		currency VARCHAR(10) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		type VARCHAR(20) NOT NULL,
		last4 VARCHAR(4) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		token_hash VARCHAR(128) NOT NULL UNIQUE,
		family_id VARCHAR(36) NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		ip_address VARCHAR(45) NOT NULL,
		device_id VARCHAR(200) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_family
		ON refresh_tokens (family_id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT REFERENCES users(id),
		event_type VARCHAR(50) NOT NULL,
		resource_type VARCHAR(50),
		resource_id VARCHAR(64),
		status VARCHAR(20) NOT NULL,
		ip_address VARCHAR(45) NOT NULL,
		device_id VARCHAR(200) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema. Statements are idempotent so re-running on an
// existing database is safe.
func Migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	log.Println("Database schema up to date")
	return nil
}
