package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/event"
	"wavemine-server/internal/model"
	"wavemine-server/internal/pkg/lock"
	"wavemine-server/internal/repository"
)

// Mining errors.
var (
	ErrAlreadyMining  = errors.New("user already has an active mining session")
	ErrSessionClosed  = errors.New("mining session is not active")
	ErrSessionUnknown = errors.New("mining session not found")
)

// OfflineLedger buffers session snapshots that could not be persisted to
// storage, for later replay. Implemented by the bbolt-backed ledger.
type OfflineLedger interface {
	Store(session *model.MiningSession) error
	Get(id string) (*model.MiningSession, error)
	ForEach(fn func(session *model.MiningSession) error) error
	Delete(id string) error
}

// MiningService is the accumulator: it converts wall-clock elapsed time
// into wave accrual for active sessions. A session's ticks are serialized
// per user; last_update only advances after the increment has been durably
// recorded online or buffered in the offline ledger, never before.
type MiningService struct {
	pool        *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	balanceRepo *repository.BalanceRepository
	txRepo      *repository.TransactionRepository
	profileRepo *repository.ProfileRepository
	nftRepo     *repository.NFTRepository
	epochs      *EpochService
	ledger      OfflineLedger
	bus         *event.Bus
	locks       *lock.UserLock
	baseRate    float64
}

// NewMiningService creates a new MiningService instance.
func NewMiningService(
	pool *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	balanceRepo *repository.BalanceRepository,
	txRepo *repository.TransactionRepository,
	profileRepo *repository.ProfileRepository,
	nftRepo *repository.NFTRepository,
	epochs *EpochService,
	ledger OfflineLedger,
	bus *event.Bus,
	locks *lock.UserLock,
	baseRate float64,
) *MiningService {
	return &MiningService{
		pool:        pool,
		sessionRepo: sessionRepo,
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		profileRepo: profileRepo,
		nftRepo:     nftRepo,
		epochs:      epochs,
		ledger:      ledger,
		bus:         bus,
		locks:       locks,
		baseRate:    baseRate,
	}
}

// RateBreakdown describes a user's current accrual rate and its inputs.
type RateBreakdown struct {
	BaseRate        float64 `json:"base_rate"`
	BoostPercent    float64 `json:"boost_percent"`
	StreakDays      int     `json:"streak_days"`
	StreakBonus     float64 `json:"streak_bonus"`
	EffectiveRate   float64 `json:"effective_rate"`
	DailyProjection float64 `json:"daily_projection"`
}

// Rate computes the user's current effective rate in waves per minute.
func (s *MiningService) Rate(ctx context.Context, userID string) (*RateBreakdown, error) {
	boost, err := s.nftRepo.BoostPercent(ctx, userID)
	if err != nil {
		return nil, err
	}

	streakDays := 0
	profile, err := s.profileRepo.GetByID(ctx, userID)
	if err == nil {
		streakDays = profile.StreakDays
	} else if !errors.Is(err, repository.ErrProfileNotFound) {
		return nil, err
	}

	rate := EffectiveRate(s.baseRate, boost, streakDays)
	return &RateBreakdown{
		BaseRate:        s.baseRate,
		BoostPercent:    boost,
		StreakDays:      streakDays,
		StreakBonus:     StreakBonus(streakDays),
		EffectiveRate:   rate,
		DailyProjection: rate * 60 * 24,
	}, nil
}

// Start begins a mining session for the user. Fails with ErrAlreadyMining
// if the user already has one; the partial unique index on active sessions
// is the backstop for racing starts.
func (s *MiningService) Start(ctx context.Context, userID string) (*model.MiningSession, error) {
	if _, _, err := s.profileRepo.GetOrCreate(ctx, userID, ""); err != nil {
		return nil, err
	}

	var session *model.MiningSession
	err := s.locks.WithLock(userID, func() error {
		_, err := s.sessionRepo.GetActiveByUser(ctx, userID)
		if err == nil {
			return ErrAlreadyMining
		}
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return err
		}

		epoch, err := s.epochs.EnsureCurrentEpoch(ctx)
		if err != nil {
			return err
		}

		session, err = s.sessionRepo.Create(ctx, uuid.NewString(), userID, epoch.ID, time.Now())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyMining
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Str("session_id", session.ID).Msg("Mining session started")
	return session, nil
}

// Tick accrues elapsed time for the session at the user's effective rate.
// The increment is persisted to storage when possible and buffered in the
// offline ledger otherwise - never both, never neither. Idempotent for a
// given now: a repeated tick sees zero elapsed time.
func (s *MiningService) Tick(ctx context.Context, sessionID string, now time.Time) (*model.MiningSession, error) {
	peek, err := s.loadFreshest(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var ticked *model.MiningSession
	err = s.locks.WithLock(peek.UserID, func() error {
		// Re-read under the lock: an overlapping tick may have advanced
		// last_update after the first read, and the elapsed interval must
		// be computed against the current value or it would accrue twice.
		session, err := s.loadFreshest(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.Active {
			return ErrSessionClosed
		}

		elapsed := now.Sub(session.LastUpdate)
		if elapsed <= 0 {
			ticked = session
			return nil
		}

		rate, err := s.Rate(ctx, session.UserID)
		if err != nil {
			return err
		}
		mined := elapsed.Minutes() * rate.EffectiveRate

		ticked, err = s.persistTick(ctx, session, mined, now)
		if err != nil {
			return err
		}

		if math.Floor(session.WavesMined) < math.Floor(ticked.WavesMined) {
			s.bus.Notify(event.TypeMiningMilestone, session.UserID,
				fmt.Sprintf("You have mined %.0f waves", math.Floor(ticked.WavesMined)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ticked, nil
}

// persistTick applies the increment online, falling back to the offline
// ledger when storage is unavailable. The online path updates the session,
// credits the balance, and records the ledger entry in one transaction.
func (s *MiningService) persistTick(ctx context.Context, session *model.MiningSession, mined float64, now time.Time) (*model.MiningSession, error) {
	updated, err := s.applyTickOnline(ctx, session.ID, session.UserID, mined, now)
	if err == nil {
		return updated, nil
	}
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrSessionClosed
	}

	log.Warn().Err(err).Str("session_id", session.ID).Msg("Storage unavailable, buffering tick offline")

	snapshot := *session
	snapshot.WavesMined += mined
	snapshot.LastUpdate = now
	if storeErr := s.ledger.Store(&snapshot); storeErr != nil {
		// Neither persisted nor buffered: surface the original failure so
		// the accrued time is retried on the next tick.
		return nil, fmt.Errorf("failed to buffer tick: %w", err)
	}

	return &snapshot, nil
}

func (s *MiningService) applyTickOnline(ctx context.Context, sessionID, userID string, mined float64, now time.Time) (*model.MiningSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updated, err := s.sessionRepo.WithTx(tx).ApplyTick(ctx, sessionID, mined, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.balanceRepo.WithTx(tx).Credit(ctx, userID, mined); err != nil {
		return nil, err
	}
	if _, err := s.txRepo.WithTx(tx).Create(ctx, userID, mined, model.TxTypeMining, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// Stop performs one final tick, then closes the user's active session.
// Stopping when no session is active is a no-op.
func (s *MiningService) Stop(ctx context.Context, userID string, now time.Time) (*model.MiningSession, error) {
	session, err := s.sessionRepo.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Best-effort final flush; the offline ledger is the fallback. A
	// closed-session error here means something (a racing stop, settlement,
	// or a buffered closed snapshot) got there first, and the finalize
	// below is a no-op for it anyway.
	flushed, err := s.Tick(ctx, session.ID, now)
	if err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Final tick failed on stop")
		}
		flushed = session
	}

	final, err := s.finalizeAndCredit(ctx, session.ID, flushed.WavesMined, now)
	if err != nil {
		// Close it in the offline buffer instead so sync reconciles later.
		snapshot := *flushed
		snapshot.Active = false
		snapshot.EndTime = &now
		if storeErr := s.ledger.Store(&snapshot); storeErr != nil {
			return nil, err
		}
		return &snapshot, nil
	}

	log.Info().Str("user_id", userID).Str("session_id", final.ID).
		Float64("waves_mined", final.WavesMined).Msg("Mining session stopped")
	return final, nil
}

// Finalize records a client-reported final amount for a session and closes
// it. The monotonic merge keeps a stale report from regressing progress;
// finalizing an already-closed session is a no-op.
func (s *MiningService) Finalize(ctx context.Context, sessionID string, amount float64, now time.Time) (*model.MiningSession, error) {
	session, err := s.finalizeAndCredit(ctx, sessionID, amount, now)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionUnknown
		}
		return nil, err
	}
	return session, nil
}

// finalizeAndCredit closes the session and credits the balance for whatever
// accrual the monotonic merge newly recorded, in one transaction. A report
// at or below the stored value applies a zero delta and credits nothing.
func (s *MiningService) finalizeAndCredit(ctx context.Context, sessionID string, amount float64, now time.Time) (*model.MiningSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	session, delta, err := s.sessionRepo.WithTx(tx).Finalize(ctx, sessionID, amount, now)
	if err != nil {
		return nil, err
	}

	if delta > 0 {
		if _, err := s.balanceRepo.WithTx(tx).Credit(ctx, session.UserID, delta); err != nil {
			return nil, err
		}
		desc := "Session finalization"
		if _, err := s.txRepo.WithTx(tx).Create(ctx, session.UserID, delta, model.TxTypeMining, &desc); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit finalize: %w", err)
	}

	return session, nil
}

// ActiveSession returns the user's active session, or nil when idle.
func (s *MiningService) ActiveSession(ctx context.Context, userID string) (*model.MiningSession, error) {
	session, err := s.sessionRepo.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// loadFreshest returns the session state with the newest last_update,
// preferring an offline-buffered snapshot over a stale stored row.
func (s *MiningService) loadFreshest(ctx context.Context, sessionID string) (*model.MiningSession, error) {
	stored, storedErr := s.sessionRepo.GetByID(ctx, sessionID)

	buffered, err := s.ledger.Get(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Offline ledger read failed")
	}

	switch {
	case buffered != nil && (storedErr != nil || buffered.LastUpdate.After(stored.LastUpdate)):
		return buffered, nil
	case storedErr != nil:
		if errors.Is(storedErr, repository.ErrSessionNotFound) {
			return nil, ErrSessionUnknown
		}
		return nil, storedErr
	default:
		return stored, nil
	}
}
