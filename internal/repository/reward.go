package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// RewardRepository handles epoch reward settlement records. Rows are
// written exactly once per epoch and never updated.
type RewardRepository struct {
	db Querier
}

// NewRewardRepository creates a new RewardRepository instance.
func NewRewardRepository(db Querier) *RewardRepository {
	return &RewardRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *RewardRepository) WithTx(tx pgx.Tx) *RewardRepository {
	return &RewardRepository{db: tx}
}

// Create inserts the settlement record for an epoch. The epoch_id primary
// key rejects a second settlement of the same epoch.
func (r *RewardRepository) Create(ctx context.Context, reward *model.EpochReward) (*model.EpochReward, error) {
	distribution, err := json.Marshal(reward.Distribution)
	if err != nil {
		return nil, fmt.Errorf("failed to encode distribution: %w", err)
	}

	const query = `
		INSERT INTO epoch_rewards (epoch_id, total_distributed, participant_count, distribution)
		VALUES ($1, $2, $3, $4)
		RETURNING epoch_id, total_distributed, participant_count, created_at
	`

	var created model.EpochReward
	err = r.db.QueryRow(ctx, query, reward.EpochID, reward.TotalDistributed, reward.ParticipantCount, distribution).Scan(
		&created.EpochID,
		&created.TotalDistributed,
		&created.ParticipantCount,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoch reward: %w", err)
	}
	created.Distribution = reward.Distribution

	return &created, nil
}

// GetByEpoch retrieves the settlement record for an epoch.
// Returns ErrRewardNotFound if the epoch has not been settled.
func (r *RewardRepository) GetByEpoch(ctx context.Context, epochID int64) (*model.EpochReward, error) {
	const query = `
		SELECT epoch_id, total_distributed, participant_count, distribution, created_at
		FROM epoch_rewards
		WHERE epoch_id = $1
	`

	var reward model.EpochReward
	var distribution []byte
	err := r.db.QueryRow(ctx, query, epochID).Scan(
		&reward.EpochID,
		&reward.TotalDistributed,
		&reward.ParticipantCount,
		&distribution,
		&reward.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("failed to get epoch reward: %w", err)
	}

	if err := json.Unmarshal(distribution, &reward.Distribution); err != nil {
		return nil, fmt.Errorf("failed to decode distribution: %w", err)
	}

	return &reward, nil
}
