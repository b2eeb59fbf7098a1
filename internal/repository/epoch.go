package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// EpochRepository handles epoch data persistence. Epochs are append-only
// history; the only mutation ever performed is the compare-and-set flip of
// is_active at closure.
type EpochRepository struct {
	db Querier
}

// NewEpochRepository creates a new EpochRepository instance.
func NewEpochRepository(db Querier) *EpochRepository {
	return &EpochRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *EpochRepository) WithTx(tx pgx.Tx) *EpochRepository {
	return &EpochRepository{db: tx}
}

const epochColumns = `id, start_time, end_time, is_active, created_at`

func scanEpoch(row pgx.Row) (*model.Epoch, error) {
	var e model.Epoch
	err := row.Scan(&e.ID, &e.StartTime, &e.EndTime, &e.IsActive, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetActive retrieves the currently active epoch.
// Returns ErrNoActiveEpoch if none exists.
func (r *EpochRepository) GetActive(ctx context.Context) (*model.Epoch, error) {
	const query = `
		SELECT ` + epochColumns + `
		FROM epochs
		WHERE is_active
	`

	epoch, err := scanEpoch(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveEpoch
		}
		return nil, fmt.Errorf("failed to get active epoch: %w", err)
	}

	return epoch, nil
}

// GetByID retrieves an epoch by id.
func (r *EpochRepository) GetByID(ctx context.Context, id int64) (*model.Epoch, error) {
	const query = `
		SELECT ` + epochColumns + `
		FROM epochs
		WHERE id = $1
	`

	epoch, err := scanEpoch(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEpochNotFound
		}
		return nil, fmt.Errorf("failed to get epoch: %w", err)
	}

	return epoch, nil
}

// Create inserts a new active epoch. The partial unique index on is_active
// rejects the insert if another active epoch already exists.
func (r *EpochRepository) Create(ctx context.Context, start, end time.Time) (*model.Epoch, error) {
	const query = `
		INSERT INTO epochs (start_time, end_time, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING ` + epochColumns

	epoch, err := scanEpoch(r.db.QueryRow(ctx, query, start, end))
	if err != nil {
		return nil, fmt.Errorf("failed to create epoch: %w", err)
	}

	return epoch, nil
}

// Deactivate flips is_active to false for the given epoch, but only if it
// is still active. Returns true when this call performed the flip; false
// means another transition already closed it.
func (r *EpochRepository) Deactivate(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE epochs
		SET is_active = FALSE
		WHERE id = $1 AND is_active
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate epoch: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// CountActive returns the number of active epochs. Anything other than
// zero or one indicates a broken invariant.
func (r *EpochRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM epochs WHERE is_active`

	var count int
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active epochs: %w", err)
	}

	return count, nil
}

// ListRecent retrieves the most recent epochs, newest first.
func (r *EpochRepository) ListRecent(ctx context.Context, limit int) ([]*model.Epoch, error) {
	const query = `
		SELECT ` + epochColumns + `
		FROM epochs
		ORDER BY start_time DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list epochs: %w", err)
	}
	defer rows.Close()

	var epochs []*model.Epoch
	for rows.Next() {
		var e model.Epoch
		if err := rows.Scan(&e.ID, &e.StartTime, &e.EndTime, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		epochs = append(epochs, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epochs: %w", err)
	}

	return epochs, nil
}
