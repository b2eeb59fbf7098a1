package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/event"
	"wavemine-server/internal/model"
	"wavemine-server/internal/repository"
)

// ErrEpochTransition wraps a failed epoch transition. The failure is
// retryable: the transaction rolled back, the old epoch is still active,
// and a later EnsureCurrentEpoch will attempt the transition again.
var ErrEpochTransition = errors.New("epoch transition failed")

const uniqueViolation = "23505"

// EpochService owns the epoch lifecycle: NoActiveEpoch -> Active ->
// Ending -> Active. Concurrent transitions collapse into a single
// effective one through the compare-and-set flip of is_active and the
// partial unique index on active epochs.
type EpochService struct {
	pool      *pgxpool.Pool
	epochRepo *repository.EpochRepository
	settler   *SettlementEngine
	bus       *event.Bus
	duration  time.Duration
}

// NewEpochService creates a new EpochService instance.
func NewEpochService(
	pool *pgxpool.Pool,
	epochRepo *repository.EpochRepository,
	settler *SettlementEngine,
	bus *event.Bus,
	duration time.Duration,
) *EpochService {
	return &EpochService{
		pool:      pool,
		epochRepo: epochRepo,
		settler:   settler,
		bus:       bus,
		duration:  duration,
	}
}

// Current returns the active epoch without driving any transition.
func (s *EpochService) Current(ctx context.Context) (*model.Epoch, error) {
	return s.epochRepo.GetActive(ctx)
}

// EnsureCurrentEpoch returns the active epoch, creating or transitioning
// as needed. Safe to call from any number of clients concurrently.
func (s *EpochService) EnsureCurrentEpoch(ctx context.Context) (*model.Epoch, error) {
	now := time.Now()

	active, err := s.epochRepo.GetActive(ctx)
	if errors.Is(err, repository.ErrNoActiveEpoch) {
		return s.createFresh(ctx, now)
	}
	if err != nil {
		return nil, err
	}

	if !active.Expired(now) {
		return active, nil
	}

	return s.transition(ctx, active, now)
}

// createFresh creates the first epoch when none is active. No settlement
// is performed. A concurrent creator losing the unique-index race falls
// back to the winner's epoch.
func (s *EpochService) createFresh(ctx context.Context, now time.Time) (*model.Epoch, error) {
	epoch, err := s.epochRepo.Create(ctx, now, now.Add(s.duration))
	if err != nil {
		if isUniqueViolation(err) {
			return s.epochRepo.GetActive(ctx)
		}
		return nil, err
	}

	log.Info().
		Int64("epoch_id", epoch.ID).
		Time("end_time", epoch.EndTime).
		Msg("Created first epoch")
	s.bus.Notify(event.TypeEpochStarted, "", fmt.Sprintf("Epoch %d has started", epoch.ID))

	return epoch, nil
}

// transition settles the expired epoch, deactivates it, and creates its
// successor as one atomic unit. The flip is the serialization point: of
// any number of racing transitions, exactly one sees RowsAffected == 1;
// the rest roll back untouched and adopt the new epoch.
func (s *EpochService) transition(ctx context.Context, expired *model.Epoch, now time.Time) (*model.Epoch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEpochTransition, err)
	}
	defer tx.Rollback(ctx)

	epochs := s.epochRepo.WithTx(tx)

	flipped, err := epochs.Deactivate(ctx, expired.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEpochTransition, err)
	}
	if !flipped {
		// Another transition already closed this epoch. Roll back and
		// return whatever is active now.
		if err := tx.Rollback(ctx); err != nil {
			log.Warn().Err(err).Msg("Rollback after lost transition race")
		}
		return s.epochRepo.GetActive(ctx)
	}

	if _, err := s.settler.settleInTx(ctx, tx, expired.ID, now); err != nil {
		log.Error().Err(err).Int64("epoch_id", expired.ID).Msg("Epoch settlement failed, rolling back transition")
		return nil, fmt.Errorf("%w: settlement: %v", ErrEpochTransition, err)
	}

	next, err := epochs.Create(ctx, now, now.Add(s.duration))
	if err != nil {
		return nil, fmt.Errorf("%w: create successor: %v", ErrEpochTransition, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrEpochTransition, err)
	}

	log.Info().
		Int64("closed_epoch", expired.ID).
		Int64("new_epoch", next.ID).
		Msg("Epoch transition complete")
	s.bus.Notify(event.TypeEpochEnded, "", fmt.Sprintf("Epoch %d has ended, rewards distributed", expired.ID))
	s.bus.Notify(event.TypeEpochStarted, "", fmt.Sprintf("Epoch %d has started", next.ID))

	return next, nil
}

// Run polls for epoch expiry until the context is cancelled. Transition
// failures are logged and retried on the next check.
func (s *EpochService) Run(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.EnsureCurrentEpoch(ctx); err != nil {
				log.Error().Err(err).Msg("Epoch check failed")
			}
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
