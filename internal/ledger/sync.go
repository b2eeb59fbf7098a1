package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/model"
	"wavemine-server/internal/repository"
)

// Syncer replays buffered sessions against storage: at-least-once
// delivery on top of the repository's idempotent max-wins upsert. Entries
// are deleted only after a confirmed sync; failures leave them buffered
// for the next round.
type Syncer struct {
	ledger      *Ledger
	pool        *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	balanceRepo *repository.BalanceRepository
	txRepo      *repository.TransactionRepository
	reconnect   chan struct{}
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(
	l *Ledger,
	pool *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	balanceRepo *repository.BalanceRepository,
	txRepo *repository.TransactionRepository,
) *Syncer {
	return &Syncer{
		ledger:      l,
		pool:        pool,
		sessionRepo: sessionRepo,
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		reconnect:   make(chan struct{}, 1),
	}
}

// NotifyReconnect signals that connectivity has returned and a sync round
// should run soon. Coalesces repeated signals.
func (s *Syncer) NotifyReconnect() {
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Run performs sync rounds on the reconnect signal and on a periodic
// background interval until the context is cancelled.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reconnect:
		case <-ticker.C:
		}

		if err := s.SyncOnce(ctx); err != nil {
			log.Warn().Err(err).Msg("Offline sync round failed, will retry")
		}
	}
}

// SyncOnce replays every buffered session once. A failed entry stays
// buffered; a synced entry is removed. Returns the first error seen, after
// attempting all entries.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	var firstErr error

	err := s.ledger.ForEach(func(session *model.MiningSession) error {
		if err := s.replay(ctx, session); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to replay buffered session")
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}

		if err := s.ledger.Delete(session.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return firstErr
}

// replay upserts one buffered session and credits the balance for the
// accrual the upsert actually applied, in a single transaction.
func (s *Syncer) replay(ctx context.Context, session *model.MiningSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	delta, err := s.sessionRepo.WithTx(tx).Upsert(ctx, session)
	if err != nil {
		return err
	}

	if delta > 0 {
		if _, err := s.balanceRepo.WithTx(tx).Credit(ctx, session.UserID, delta); err != nil {
			return err
		}
		desc := "Offline mining sync"
		if _, err := s.txRepo.WithTx(tx).Create(ctx, session.UserID, delta, model.TxTypeMining, &desc); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
