package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/model"
	"wavemine-server/internal/repository"
)

// SettlementEngine computes and distributes epoch rewards. Settlement is
// effectively run-once-per-epoch: the EpochReward row is both the output
// and the idempotency marker.
type SettlementEngine struct {
	pool        *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	balanceRepo *repository.BalanceRepository
	rewardRepo  *repository.RewardRepository
	profileRepo *repository.ProfileRepository
	nftRepo     *repository.NFTRepository
	txRepo      *repository.TransactionRepository
	rules       []MultiplierRule
}

// NewSettlementEngine creates a new SettlementEngine instance.
func NewSettlementEngine(
	pool *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	balanceRepo *repository.BalanceRepository,
	rewardRepo *repository.RewardRepository,
	profileRepo *repository.ProfileRepository,
	nftRepo *repository.NFTRepository,
	txRepo *repository.TransactionRepository,
	rules []MultiplierRule,
) *SettlementEngine {
	return &SettlementEngine{
		pool:        pool,
		sessionRepo: sessionRepo,
		balanceRepo: balanceRepo,
		rewardRepo:  rewardRepo,
		profileRepo: profileRepo,
		nftRepo:     nftRepo,
		txRepo:      txRepo,
		rules:       rules,
	}
}

// Settle closes out an epoch's rewards in a single transaction. Invoking
// it on an already-settled epoch returns the existing record without
// touching any balance.
func (e *SettlementEngine) Settle(ctx context.Context, epochID int64) (*model.EpochReward, error) {
	existing, err := e.rewardRepo.GetByEpoch(ctx, epochID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrRewardNotFound) {
		return nil, err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	reward, err := e.settleInTx(ctx, tx, epochID, time.Now())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return reward, nil
}

// settleInTx performs the settlement inside an existing transaction so the
// epoch state machine can bundle it with the active-epoch flip. The
// re-check against epoch_rewards under the transaction makes a concurrent
// double settlement impossible: the second writer aborts on the primary key.
func (e *SettlementEngine) settleInTx(ctx context.Context, tx pgx.Tx, epochID int64, closedAt time.Time) (*model.EpochReward, error) {
	rewards := e.rewardRepo.WithTx(tx)
	sessions := e.sessionRepo.WithTx(tx)
	balances := e.balanceRepo.WithTx(tx)
	profiles := e.profileRepo.WithTx(tx)
	nfts := e.nftRepo.WithTx(tx)
	waveTxs := e.txRepo.WithTx(tx)

	existing, err := rewards.GetByEpoch(ctx, epochID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrRewardNotFound) {
		return nil, err
	}

	if err := sessions.CloseAllForEpoch(ctx, epochID, closedAt); err != nil {
		return nil, err
	}

	totals, err := sessions.AggregateByEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, len(totals))
	for i, um := range totals {
		userIDs[i] = um.UserID
	}

	owners := map[string]bool{}
	streaks := map[string]int{}
	if len(userIDs) > 0 {
		if owners, err = nfts.OwnersWithNFTs(ctx, userIDs); err != nil {
			return nil, err
		}
		if streaks, err = profiles.StreakDaysFor(ctx, userIDs); err != nil {
			return nil, err
		}
	}

	distribution, total := ComputeDistribution(totals, owners, streaks, e.rules)

	desc := fmt.Sprintf("Epoch %d settlement", epochID)
	for _, um := range totals {
		amount := distribution[um.UserID]
		if _, err := balances.Credit(ctx, um.UserID, amount); err != nil {
			return nil, err
		}
		if _, err := waveTxs.Create(ctx, um.UserID, amount, model.TxTypeEpochReward, &desc); err != nil {
			return nil, err
		}
	}

	reward, err := rewards.Create(ctx, &model.EpochReward{
		EpochID:          epochID,
		TotalDistributed: total,
		ParticipantCount: len(totals),
		Distribution:     distribution,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("epoch_id", epochID).
		Int("participants", reward.ParticipantCount).
		Float64("total_distributed", reward.TotalDistributed).
		Msg("Epoch rewards settled")

	return reward, nil
}
