package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/event"
	"wavemine-server/internal/model"
	"wavemine-server/internal/repository"
)

// ErrAlreadyClaimed is returned when the user already claimed the daily
// bonus on the current UTC+1 calendar day.
var ErrAlreadyClaimed = errors.New("streak already claimed today")

// claimZone is the fixed offset used for calendar-day boundaries.
var claimZone = time.FixedZone("UTC+1", 3600)

// ClaimDay truncates a timestamp to its UTC+1 calendar day.
func ClaimDay(t time.Time) time.Time {
	local := t.In(claimZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, claimZone)
}

// NextStreak computes the streak counter a claim at now should record
// given the previous claim time: +1 on the immediately following UTC+1
// day, reset to 1 after a gap or on first claim.
func NextStreak(lastClaimed *time.Time, now time.Time, current int) int {
	if lastClaimed == nil {
		return 1
	}
	if ClaimDay(*lastClaimed).AddDate(0, 0, 1).Equal(ClaimDay(now)) {
		return current + 1
	}
	return 1
}

// StreakService handles the once-per-day bonus claim. It shares the
// exactly-once-per-time-window shape of epoch settlement: the unique
// (user_id, claim_day) constraint is the database-level idempotency guard
// behind the row-locked check.
type StreakService struct {
	pool        *pgxpool.Pool
	profileRepo *repository.ProfileRepository
	balanceRepo *repository.BalanceRepository
	txRepo      *repository.TransactionRepository
	bus         *event.Bus
	reward      float64
}

// NewStreakService creates a new StreakService instance.
func NewStreakService(
	pool *pgxpool.Pool,
	profileRepo *repository.ProfileRepository,
	balanceRepo *repository.BalanceRepository,
	txRepo *repository.TransactionRepository,
	bus *event.Bus,
	reward float64,
) *StreakService {
	return &StreakService{
		pool:        pool,
		profileRepo: profileRepo,
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		bus:         bus,
		reward:      reward,
	}
}

// Claim performs the daily streak claim for the user at the given time.
// The audit row, profile update, and balance credit all commit together or
// not at all; after a rollback the day-based check makes a retry safe.
func (s *StreakService) Claim(ctx context.Context, userID string, now time.Time) (*model.StreakClaim, error) {
	if _, _, err := s.profileRepo.GetOrCreate(ctx, userID, ""); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin streak claim: %w", err)
	}
	defer tx.Rollback(ctx)

	profiles := s.profileRepo.WithTx(tx)

	profile, err := profiles.GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := ClaimDay(now)
	if profile.LastClaimed != nil && ClaimDay(*profile.LastClaimed).Equal(today) {
		return nil, ErrAlreadyClaimed
	}

	streak := NextStreak(profile.LastClaimed, now, profile.StreakDays)

	claim, err := profiles.RecordClaim(ctx, &model.StreakClaim{
		UserID:       userID,
		ClaimedAt:    now,
		ClaimDay:     today,
		StreakDays:   streak,
		WavesAwarded: s.reward,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	if err := profiles.UpdateStreak(ctx, userID, streak, now); err != nil {
		return nil, err
	}

	if _, err := s.balanceRepo.WithTx(tx).Credit(ctx, userID, s.reward); err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("Day %d streak reward", streak)
	if _, err := s.txRepo.WithTx(tx).Create(ctx, userID, s.reward, model.TxTypeStreak, &desc); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit streak claim: %w", err)
	}

	log.Info().Str("user_id", userID).Int("streak_days", streak).Msg("Streak claimed")
	s.bus.Notify(event.TypeStreakClaimed, userID,
		fmt.Sprintf("Day %d streak! +%.0f waves", streak, s.reward))

	return claim, nil
}

// History returns the user's recent claims.
func (s *StreakService) History(ctx context.Context, userID string, limit int) ([]*model.StreakClaim, error) {
	return s.profileRepo.ListClaims(ctx, userID, limit)
}
