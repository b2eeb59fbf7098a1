package repository

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Migrate applies the database schema. Statements are idempotent so the
// server can run them on every startup.
func Migrate(ctx context.Context, db Querier) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: profiles
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			streak_days INT NOT NULL DEFAULT 0,
			last_claimed TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}

	// Migration 2: epochs. The partial unique index is the hard backstop
	// for the single-active-epoch invariant: a second concurrent insert of
	// an active epoch fails at the database regardless of application bugs.
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS epochs (
			id BIGSERIAL PRIMARY KEY,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_epochs_single_active
			ON epochs (is_active) WHERE is_active;
	`)
	if err != nil {
		return err
	}

	// Migration 3: mining sessions. Client-generated UUID ids so offline
	// sessions can be created locally and upserted later. The partial
	// unique index enforces one active session per user.
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mining_sessions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES profiles(user_id),
			epoch_id BIGINT NOT NULL REFERENCES epochs(id),
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			waves_mined DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_update TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_sessions_one_active_per_user
			ON mining_sessions (user_id) WHERE active;
		CREATE INDEX IF NOT EXISTS idx_sessions_epoch ON mining_sessions(epoch_id);
	`)
	if err != nil {
		return err
	}

	// Migration 4: user balances
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_balances (
			user_id VARCHAR(64) PRIMARY KEY REFERENCES profiles(user_id),
			waves DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (waves >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}

	// Migration 5: epoch rewards (one immutable record per settled epoch)
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS epoch_rewards (
			epoch_id BIGINT PRIMARY KEY REFERENCES epochs(id),
			total_distributed DOUBLE PRECISION NOT NULL,
			participant_count INT NOT NULL,
			distribution JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}

	// Migration 6: streak claims. claim_day is the UTC+1 calendar day of
	// the claim; the unique index enforces one claim per user per day.
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS streak_claims (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES profiles(user_id),
			claimed_at TIMESTAMPTZ NOT NULL,
			claim_day DATE NOT NULL,
			streak_days INT NOT NULL,
			waves_awarded DOUBLE PRECISION NOT NULL,
			CONSTRAINT uq_streak_claims_day UNIQUE (user_id, claim_day)
		);
	`)
	if err != nil {
		return err
	}

	// Migration 7: NFTs and ownership
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS nfts (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			boost_percent DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS user_nfts (
			user_id VARCHAR(64) NOT NULL REFERENCES profiles(user_id),
			nft_id BIGINT NOT NULL REFERENCES nfts(id),
			acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, nft_id)
		);
	`)
	if err != nil {
		return err
	}

	// Migration 8: wave transactions (append-only balance change ledger)
	_, err = db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wave_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES profiles(user_id),
			amount DOUBLE PRECISION NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_wave_tx_user_time
			ON wave_transactions(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
