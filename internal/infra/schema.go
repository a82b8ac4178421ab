package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for every table the service owns. Statements are
// idempotent so EnsureSchema can run on each boot when AUTO_MIGRATE is set.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id UUID PRIMARY KEY,
        phone TEXT,
        email TEXT,
        password_hash TEXT,
        full_name TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT '',
        phone_verified BOOLEAN NOT NULL DEFAULT FALSE,
        email_verified BOOLEAN NOT NULL DEFAULT FALSE,
        role TEXT NOT NULL DEFAULT 'customer',
        active BOOLEAN NOT NULL DEFAULT TRUE,
        token_version INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL,
        last_login_at TIMESTAMPTZ,
        CONSTRAINT accounts_phone_key UNIQUE (phone),
        CONSTRAINT accounts_email_key UNIQUE (email),
        CONSTRAINT accounts_contact_check CHECK (phone IS NOT NULL OR email IS NOT NULL)
    )`,
	`CREATE TABLE IF NOT EXISTS reward_programs (
        id TEXT PRIMARY KEY,
        establishment_id TEXT NOT NULL,
        points_required BIGINT NOT NULL DEFAULT 0,
        points_per_unit NUMERIC(12,4) NOT NULL DEFAULT 0,
        valid_from TIMESTAMPTZ,
        valid_until TIMESTAMPTZ
    )`,
	`CREATE TABLE IF NOT EXISTS redemption_tokens (
        id UUID PRIMARY KEY,
        code TEXT NOT NULL,
        establishment_id TEXT NOT NULL,
        program_id TEXT NOT NULL DEFAULT '',
        kind TEXT NOT NULL CHECK (kind IN ('earn', 'redeem')),
        point_delta BIGINT NOT NULL CHECK (point_delta <> 0),
        source_amount NUMERIC(12,2),
        issued_by UUID NOT NULL REFERENCES accounts (id),
        created_at TIMESTAMPTZ NOT NULL,
        expires_at TIMESTAMPTZ NOT NULL,
        consumed BOOLEAN NOT NULL DEFAULT FALSE,
        consumed_by UUID REFERENCES accounts (id),
        consumed_at TIMESTAMPTZ,
        CONSTRAINT redemption_tokens_code_key UNIQUE (code),
        CONSTRAINT redemption_tokens_consumed_check
            CHECK (NOT consumed OR (consumed_by IS NOT NULL AND consumed_at IS NOT NULL))
    )`,
	`CREATE INDEX IF NOT EXISTS redemption_tokens_sweep_idx
        ON redemption_tokens (expires_at) WHERE consumed = FALSE`,
	`CREATE TABLE IF NOT EXISTS point_balances (
        account_id UUID NOT NULL REFERENCES accounts (id),
        establishment_id TEXT NOT NULL,
        total_earned BIGINT NOT NULL DEFAULT 0,
        total_redeemed BIGINT NOT NULL DEFAULT 0,
        current_balance BIGINT NOT NULL DEFAULT 0,
        visit_count BIGINT NOT NULL DEFAULT 0,
        first_activity_at TIMESTAMPTZ,
        last_activity_at TIMESTAMPTZ,
        PRIMARY KEY (account_id, establishment_id)
    )`,
	`CREATE TABLE IF NOT EXISTS point_activities (
        id UUID PRIMARY KEY,
        account_id UUID NOT NULL REFERENCES accounts (id),
        establishment_id TEXT NOT NULL,
        program_id TEXT NOT NULL DEFAULT '',
        kind TEXT NOT NULL CHECK (kind IN ('earned', 'redeemed', 'expired', 'adjusted')),
        points_change BIGINT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        token_id UUID REFERENCES redemption_tokens (id) ON DELETE RESTRICT,
        processed_by UUID REFERENCES accounts (id),
        source_amount NUMERIC(12,2),
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS point_activities_pair_idx
        ON point_activities (account_id, establishment_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS point_activities_token_key
        ON point_activities (token_id) WHERE token_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS otp_challenges (
        id UUID PRIMARY KEY,
        phone TEXT NOT NULL,
        code_hash BYTEA NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        expires_at TIMESTAMPTZ NOT NULL,
        consumed BOOLEAN NOT NULL DEFAULT FALSE,
        outcome TEXT NOT NULL DEFAULT '',
        attempts INTEGER NOT NULL DEFAULT 0,
        max_attempts INTEGER NOT NULL
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS otp_challenges_active_phone_key
        ON otp_challenges (phone) WHERE consumed = FALSE`,
	`CREATE INDEX IF NOT EXISTS otp_challenges_expiry_idx ON otp_challenges (expires_at)`,
}

// EnsureSchema applies Schema in order.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
