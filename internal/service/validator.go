package service

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"

	"wavemine-server/internal/repository"
)

// Validator errors. Both indicate corruption that needs manual
// intervention rather than a retry.
var (
	ErrMultipleActiveEpochs = errors.New("multiple active epochs detected")
	ErrRewardMismatch       = errors.New("epoch reward does not match mining activity")
)

// rewardTolerance is the floating-point slack allowed between a recorded
// settlement total and its recomputation.
const rewardTolerance = 0.01

// ConsistencyValidator audits epoch state. It never mutates anything and
// is safe to run on a schedule or on demand.
type ConsistencyValidator struct {
	epochRepo   *repository.EpochRepository
	sessionRepo *repository.SessionRepository
	rewardRepo  *repository.RewardRepository
	profileRepo *repository.ProfileRepository
	nftRepo     *repository.NFTRepository
	rules       []MultiplierRule
}

// NewConsistencyValidator creates a new ConsistencyValidator instance.
func NewConsistencyValidator(
	epochRepo *repository.EpochRepository,
	sessionRepo *repository.SessionRepository,
	rewardRepo *repository.RewardRepository,
	profileRepo *repository.ProfileRepository,
	nftRepo *repository.NFTRepository,
	rules []MultiplierRule,
) *ConsistencyValidator {
	return &ConsistencyValidator{
		epochRepo:   epochRepo,
		sessionRepo: sessionRepo,
		rewardRepo:  rewardRepo,
		profileRepo: profileRepo,
		nftRepo:     nftRepo,
		rules:       rules,
	}
}

// Validate checks the epoch invariants. Fails with
// ErrMultipleActiveEpochs when more than one epoch is active, and with
// ErrRewardMismatch when an active epoch carries a settlement record whose
// total diverges from a recomputation over its mining activity.
func (v *ConsistencyValidator) Validate(ctx context.Context) error {
	count, err := v.epochRepo.CountActive(ctx)
	if err != nil {
		return err
	}
	if count > 1 {
		log.Error().Int("active_epochs", count).Msg("Epoch invariant violated")
		return ErrMultipleActiveEpochs
	}
	if count == 0 {
		return nil
	}

	active, err := v.epochRepo.GetActive(ctx)
	if err != nil {
		return err
	}

	// An active epoch should not have been settled. If one has, verify
	// the record against the raw activity before anyone pages an operator.
	reward, err := v.rewardRepo.GetByEpoch(ctx, active.ID)
	if errors.Is(err, repository.ErrRewardNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Warn().Int64("epoch_id", active.ID).Msg("Active epoch already has a settlement record")

	expected, err := v.recomputeTotal(ctx, active.ID)
	if err != nil {
		return err
	}

	if math.Abs(reward.TotalDistributed-expected) > rewardTolerance {
		log.Error().
			Int64("epoch_id", active.ID).
			Float64("recorded", reward.TotalDistributed).
			Float64("recomputed", expected).
			Msg("Reward mismatch detected")
		return ErrRewardMismatch
	}

	return nil
}

// recomputeTotal rebuilds the expected settlement total from the epoch's
// sessions using the same multiplier rules as the settlement engine.
func (v *ConsistencyValidator) recomputeTotal(ctx context.Context, epochID int64) (float64, error) {
	totals, err := v.sessionRepo.AggregateByEpoch(ctx, epochID)
	if err != nil {
		return 0, err
	}
	if len(totals) == 0 {
		return 0, nil
	}

	userIDs := make([]string, len(totals))
	for i, um := range totals {
		userIDs[i] = um.UserID
	}

	owners, err := v.nftRepo.OwnersWithNFTs(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	streaks, err := v.profileRepo.StreakDaysFor(ctx, userIDs)
	if err != nil {
		return 0, err
	}

	_, total := ComputeDistribution(totals, owners, streaks, v.rules)
	return total, nil
}
