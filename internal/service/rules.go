// Package service provides business logic implementations.
package service

import (
	"math"

	"wavemine-server/internal/repository"
)

// RewardContext carries the per-user facts the multiplier rules inspect.
type RewardContext struct {
	UserID     string
	OwnsNFT    bool
	StreakDays int
}

// MultiplierRule is one named, pure reward multiplier. Rules are composed
// left-to-right, so the full formula stays auditable and each rule can be
// tested in isolation.
type MultiplierRule struct {
	Name       string
	Multiplier func(rc RewardContext) float64
}

// DefaultRules returns the production rule chain: NFT ownership boost
// followed by the long-streak bonus.
func DefaultRules(nftMultiplier, streakMultiplier float64, streakThreshold int) []MultiplierRule {
	return []MultiplierRule{
		{
			Name: "nft_boost",
			Multiplier: func(rc RewardContext) float64 {
				if rc.OwnsNFT {
					return nftMultiplier
				}
				return 1.0
			},
		},
		{
			Name: "streak_bonus",
			Multiplier: func(rc RewardContext) float64 {
				if rc.StreakDays >= streakThreshold {
					return streakMultiplier
				}
				return 1.0
			},
		},
	}
}

// ApplyRules multiplies the base amount through the rule chain.
func ApplyRules(base float64, rc RewardContext, rules []MultiplierRule) float64 {
	amount := base
	for _, rule := range rules {
		amount *= rule.Multiplier(rc)
	}
	return amount
}

// ComputeDistribution builds the per-user reward map for a set of epoch
// aggregates. Returns the distribution and its exact total.
func ComputeDistribution(
	totals []repository.UserMined,
	owners map[string]bool,
	streaks map[string]int,
	rules []MultiplierRule,
) (map[string]float64, float64) {
	distribution := make(map[string]float64, len(totals))
	var total float64
	for _, um := range totals {
		rc := RewardContext{
			UserID:     um.UserID,
			OwnsNFT:    owners[um.UserID],
			StreakDays: streaks[um.UserID],
		}
		reward := ApplyRules(um.WavesMined, rc, rules)
		distribution[um.UserID] = reward
		total += reward
	}
	return distribution, total
}

// StreakBonus converts a streak length into the mining-rate bonus fraction,
// one percentage point per day capped at ten percent.
func StreakBonus(streakDays int) float64 {
	return math.Min(float64(streakDays)*0.01, 0.10)
}

// EffectiveRate computes the accrual rate in waves per minute.
func EffectiveRate(baseRate, boostPercent float64, streakDays int) float64 {
	return baseRate * (1 + boostPercent/100 + StreakBonus(streakDays))
}
