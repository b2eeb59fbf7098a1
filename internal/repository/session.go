package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// SessionRepository handles mining session persistence.
type SessionRepository struct {
	db Querier
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	return &SessionRepository{db: tx}
}

const sessionColumns = `id, user_id, epoch_id, start_time, end_time, active, waves_mined, last_update`

func scanSession(row pgx.Row) (*model.MiningSession, error) {
	var s model.MiningSession
	err := row.Scan(&s.ID, &s.UserID, &s.EpochID, &s.StartTime, &s.EndTime, &s.Active, &s.WavesMined, &s.LastUpdate)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new active session with zero accrual.
func (r *SessionRepository) Create(ctx context.Context, id, userID string, epochID int64, start time.Time) (*model.MiningSession, error) {
	const query = `
		INSERT INTO mining_sessions (id, user_id, epoch_id, start_time, active, waves_mined, last_update)
		VALUES ($1, $2, $3, $4, TRUE, 0, $4)
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query, id, userID, epochID, start))
	if err != nil {
		return nil, fmt.Errorf("failed to create mining session: %w", err)
	}

	return session, nil
}

// GetByID retrieves a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.MiningSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM mining_sessions
		WHERE id = $1
	`

	session, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get mining session: %w", err)
	}

	return session, nil
}

// GetActiveByUser retrieves the user's active session, if any.
func (r *SessionRepository) GetActiveByUser(ctx context.Context, userID string) (*model.MiningSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM mining_sessions
		WHERE user_id = $1 AND active
	`

	session, err := scanSession(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	return session, nil
}

// ApplyTick adds a mining increment to an active session and advances
// last_update. The last_update predicate rejects out-of-order ticks so a
// stale buffered tick can never be applied after a newer one.
func (r *SessionRepository) ApplyTick(ctx context.Context, id string, mined float64, now time.Time) (*model.MiningSession, error) {
	const query = `
		UPDATE mining_sessions
		SET waves_mined = waves_mined + $2, last_update = $3
		WHERE id = $1 AND active AND last_update <= $3
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query, id, mined, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to apply mining tick: %w", err)
	}

	return session, nil
}

// Upsert reconciles an offline-buffered session. Insert if unknown; on
// conflict take the larger waves_mined and the later timestamps, since
// accrual is monotonic ("max wins" merge). Idempotent on session id.
// Returns the waves_mined delta this call actually applied, so the caller
// can credit the balance for exactly the newly recorded accrual.
func (r *SessionRepository) Upsert(ctx context.Context, s *model.MiningSession) (float64, error) {
	const query = `
		WITH prior AS (
			SELECT waves_mined FROM mining_sessions WHERE id = $1
		)
		INSERT INTO mining_sessions (id, user_id, epoch_id, start_time, end_time, active, waves_mined, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			waves_mined = GREATEST(mining_sessions.waves_mined, EXCLUDED.waves_mined),
			last_update = GREATEST(mining_sessions.last_update, EXCLUDED.last_update),
			active = mining_sessions.active AND EXCLUDED.active,
			end_time = COALESCE(mining_sessions.end_time, EXCLUDED.end_time)
		RETURNING waves_mined - COALESCE((SELECT waves_mined FROM prior), 0)
	`

	var delta float64
	err := r.db.QueryRow(ctx, query, s.ID, s.UserID, s.EpochID, s.StartTime, s.EndTime, s.Active, s.WavesMined, s.LastUpdate).Scan(&delta)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert mining session: %w", err)
	}

	return delta, nil
}

// Finalize closes a session, recording the final accrual with the same
// monotonic merge as Upsert. Closing an already-inactive session is a no-op.
// Like Upsert it returns the waves_mined delta this call applied, so the
// caller can credit the balance for exactly the newly recorded accrual.
func (r *SessionRepository) Finalize(ctx context.Context, id string, finalWaves float64, endedAt time.Time) (*model.MiningSession, float64, error) {
	const query = `
		WITH prior AS (
			SELECT waves_mined FROM mining_sessions WHERE id = $1
		)
		UPDATE mining_sessions
		SET waves_mined = GREATEST(mining_sessions.waves_mined, $2),
		    last_update = GREATEST(mining_sessions.last_update, $3),
		    end_time = COALESCE(mining_sessions.end_time, $3),
		    active = FALSE
		WHERE id = $1
		RETURNING ` + sessionColumns + `,
			waves_mined - (SELECT waves_mined FROM prior)`

	var s model.MiningSession
	var delta float64
	err := r.db.QueryRow(ctx, query, id, finalWaves, endedAt).Scan(
		&s.ID, &s.UserID, &s.EpochID, &s.StartTime, &s.EndTime, &s.Active, &s.WavesMined, &s.LastUpdate, &delta,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrSessionNotFound
		}
		return nil, 0, fmt.Errorf("failed to finalize session: %w", err)
	}

	return &s, delta, nil
}

// CloseAllForEpoch marks every session of the epoch inactive at settlement
// time. Sessions already closed keep their end_time.
func (r *SessionRepository) CloseAllForEpoch(ctx context.Context, epochID int64, closedAt time.Time) error {
	const query = `
		UPDATE mining_sessions
		SET active = FALSE, end_time = COALESCE(end_time, $2)
		WHERE epoch_id = $1 AND active
	`

	if _, err := r.db.Exec(ctx, query, epochID, closedAt); err != nil {
		return fmt.Errorf("failed to close epoch sessions: %w", err)
	}

	return nil
}

// UserMined holds a user's aggregate accrual within one epoch.
type UserMined struct {
	UserID     string
	WavesMined float64
}

// AggregateByEpoch sums waves_mined per user across all sessions tagged
// with the epoch. Users with zero accrual are excluded.
func (r *SessionRepository) AggregateByEpoch(ctx context.Context, epochID int64) ([]UserMined, error) {
	const query = `
		SELECT user_id, SUM(waves_mined)
		FROM mining_sessions
		WHERE epoch_id = $1
		GROUP BY user_id
		HAVING SUM(waves_mined) > 0
		ORDER BY user_id
	`

	rows, err := r.db.Query(ctx, query, epochID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate epoch sessions: %w", err)
	}
	defer rows.Close()

	var totals []UserMined
	for rows.Next() {
		var um UserMined
		if err := rows.Scan(&um.UserID, &um.WavesMined); err != nil {
			return nil, fmt.Errorf("failed to scan epoch aggregate: %w", err)
		}
		totals = append(totals, um)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epoch aggregates: %w", err)
	}

	return totals, nil
}

// TotalMinedByEpoch returns the total waves mined across all sessions of
// the epoch.
func (r *SessionRepository) TotalMinedByEpoch(ctx context.Context, epochID int64) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(waves_mined), 0)
		FROM mining_sessions
		WHERE epoch_id = $1
	`

	var total float64
	if err := r.db.QueryRow(ctx, query, epochID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to total epoch mining: %w", err)
	}

	return total, nil
}
