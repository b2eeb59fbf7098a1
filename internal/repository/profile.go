package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// ProfileRepository handles user profile persistence, including the
// daily-streak fields and streak claim audit rows.
type ProfileRepository struct {
	db Querier
}

// NewProfileRepository creates a new ProfileRepository instance.
func NewProfileRepository(db Querier) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *ProfileRepository) WithTx(tx pgx.Tx) *ProfileRepository {
	return &ProfileRepository{db: tx}
}

const profileColumns = `user_id, username, streak_days, last_claimed, created_at, updated_at`

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.UserID, &p.Username, &p.StreakDays, &p.LastClaimed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a profile by user id.
// Returns ErrProfileNotFound if the profile does not exist.
func (r *ProfileRepository) GetByID(ctx context.Context, userID string) (*model.Profile, error) {
	const query = `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE user_id = $1
	`

	profile, err := scanProfile(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}

// GetOrCreate retrieves a profile, creating an empty one if it doesn't
// exist. Safe under concurrent first requests for the same user.
func (r *ProfileRepository) GetOrCreate(ctx context.Context, userID, username string) (*model.Profile, bool, error) {
	profile, err := r.GetByID(ctx, userID)
	if err == nil {
		return profile, false, nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, false, err
	}

	const query = `
		INSERT INTO profiles (user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING ` + profileColumns

	profile, err = scanProfile(r.db.QueryRow(ctx, query, userID, username))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create profile: %w", err)
	}

	return profile, true, nil
}

// GetForUpdate retrieves a profile with a row lock so the streak claim
// check-then-update runs without a concurrent claim interleaving.
func (r *ProfileRepository) GetForUpdate(ctx context.Context, userID string) (*model.Profile, error) {
	const query = `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE user_id = $1
		FOR UPDATE
	`

	profile, err := scanProfile(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}

	return profile, nil
}

// UpdateStreak sets the streak counter and last claim time.
func (r *ProfileRepository) UpdateStreak(ctx context.Context, userID string, streakDays int, claimedAt time.Time) error {
	const query = `
		UPDATE profiles
		SET streak_days = $2, last_claimed = $3, updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.db.Exec(ctx, query, userID, streakDays, claimedAt)
	if err != nil {
		return fmt.Errorf("failed to update streak: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

// RecordClaim appends a streak claim audit row. The (user_id, claim_day)
// unique constraint is the database-level double-claim backstop.
func (r *ProfileRepository) RecordClaim(ctx context.Context, claim *model.StreakClaim) (*model.StreakClaim, error) {
	const query = `
		INSERT INTO streak_claims (user_id, claimed_at, claim_day, streak_days, waves_awarded)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, claimed_at, claim_day, streak_days, waves_awarded
	`

	var created model.StreakClaim
	err := r.db.QueryRow(ctx, query, claim.UserID, claim.ClaimedAt, claim.ClaimDay, claim.StreakDays, claim.WavesAwarded).Scan(
		&created.ID,
		&created.UserID,
		&created.ClaimedAt,
		&created.ClaimDay,
		&created.StreakDays,
		&created.WavesAwarded,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record streak claim: %w", err)
	}

	return &created, nil
}

// StreakDaysFor returns the current streak counter for each of the given
// users. Users without a profile are absent from the result.
func (r *ProfileRepository) StreakDaysFor(ctx context.Context, userIDs []string) (map[string]int, error) {
	const query = `
		SELECT user_id, streak_days
		FROM profiles
		WHERE user_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query streaks: %w", err)
	}
	defer rows.Close()

	streaks := make(map[string]int)
	for rows.Next() {
		var id string
		var days int
		if err := rows.Scan(&id, &days); err != nil {
			return nil, fmt.Errorf("failed to scan streak: %w", err)
		}
		streaks[id] = days
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streaks: %w", err)
	}

	return streaks, nil
}

// ListClaims retrieves a user's claim history, newest first.
func (r *ProfileRepository) ListClaims(ctx context.Context, userID string, limit int) ([]*model.StreakClaim, error) {
	const query = `
		SELECT id, user_id, claimed_at, claim_day, streak_days, waves_awarded
		FROM streak_claims
		WHERE user_id = $1
		ORDER BY claimed_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list streak claims: %w", err)
	}
	defer rows.Close()

	var claims []*model.StreakClaim
	for rows.Next() {
		var c model.StreakClaim
		if err := rows.Scan(&c.ID, &c.UserID, &c.ClaimedAt, &c.ClaimDay, &c.StreakDays, &c.WavesAwarded); err != nil {
			return nil, fmt.Errorf("failed to scan streak claim: %w", err)
		}
		claims = append(claims, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streak claims: %w", err)
	}

	return claims, nil
}
