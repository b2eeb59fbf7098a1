package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"wavemine-server/internal/repository"
)

func TestEffectiveRate(t *testing.T) {
	tests := []struct {
		name       string
		baseRate   float64
		boost      float64
		streakDays int
		expected   float64
	}{
		{"no modifiers", 1.0, 0, 0, 1.0},
		{"nft boost only", 1.0, 50, 0, 1.50},
		{"streak bonus only", 1.0, 0, 5, 1.05},
		{"boost and capped streak", 1.0, 50, 10, 1.60},
		{"streak bonus caps at ten percent", 1.0, 0, 365, 1.10},
		{"doubled base rate", 2.0, 25, 3, 2.56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, EffectiveRate(tt.baseRate, tt.boost, tt.streakDays), 1e-9)
		})
	}
}

func TestStreakBonus(t *testing.T) {
	assert.Equal(t, 0.0, StreakBonus(0))
	assert.InDelta(t, 0.01, StreakBonus(1), 1e-9)
	assert.InDelta(t, 0.09, StreakBonus(9), 1e-9)
	assert.InDelta(t, 0.10, StreakBonus(10), 1e-9)
	assert.InDelta(t, 0.10, StreakBonus(11), 1e-9)
}

func TestApplyRules(t *testing.T) {
	rules := DefaultRules(1.5, 1.10, 7)

	tests := []struct {
		name     string
		base     float64
		rc       RewardContext
		expected float64
	}{
		{"no multipliers", 100, RewardContext{}, 100},
		{"nft only", 100, RewardContext{OwnsNFT: true}, 150},
		{"streak at threshold", 100, RewardContext{StreakDays: 7}, 110},
		{"streak below threshold", 100, RewardContext{StreakDays: 6}, 100},
		{"nft and streak stack", 100, RewardContext{OwnsNFT: true, StreakDays: 8}, 165},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ApplyRules(tt.base, tt.rc, rules), 1e-9)
		})
	}
}

func TestComputeDistribution(t *testing.T) {
	rules := DefaultRules(1.5, 1.10, 7)

	totals := []repository.UserMined{
		{UserID: "alice", WavesMined: 100},
		{UserID: "bob", WavesMined: 50},
		{UserID: "carol", WavesMined: 20},
	}
	owners := map[string]bool{"alice": true}
	streaks := map[string]int{"alice": 8, "bob": 3}

	distribution, total := ComputeDistribution(totals, owners, streaks, rules)

	assert.InDelta(t, 165.0, distribution["alice"], 1e-9)
	assert.InDelta(t, 50.0, distribution["bob"], 1e-9)
	assert.InDelta(t, 20.0, distribution["carol"], 1e-9)
	assert.InDelta(t, 235.0, total, 1e-9)
}

func TestComputeDistribution_Empty(t *testing.T) {
	distribution, total := ComputeDistribution(nil, nil, nil, DefaultRules(1.5, 1.10, 7))
	assert.Empty(t, distribution)
	assert.Equal(t, 0.0, total)
}

// ============================================================================
// Property-Based Tests
// ============================================================================

func TestStreakBonusBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		days := rapid.IntRange(0, 10000).Draw(t, "days")
		bonus := StreakBonus(days)

		if bonus < 0 || bonus > 0.10 {
			t.Fatalf("bonus %v for %d days outside [0, 0.10]", bonus, days)
		}
		if next := StreakBonus(days + 1); next < bonus {
			t.Fatalf("bonus decreased from %v to %v at %d days", bonus, next, days)
		}
	})
}

func TestEffectiveRateNeverBelowBase(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Float64Range(0.01, 100).Draw(t, "base")
		boost := rapid.Float64Range(0, 500).Draw(t, "boost")
		days := rapid.IntRange(0, 1000).Draw(t, "days")

		rate := EffectiveRate(base, boost, days)
		if rate < base {
			t.Fatalf("effective rate %v below base %v", rate, base)
		}
	})
}

func TestApplyRulesBounds(t *testing.T) {
	rules := DefaultRules(1.5, 1.10, 7)

	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Float64Range(0, 1e6).Draw(t, "base")
		rc := RewardContext{
			OwnsNFT:    rapid.Bool().Draw(t, "ownsNFT"),
			StreakDays: rapid.IntRange(0, 100).Draw(t, "streak"),
		}

		reward := ApplyRules(base, rc, rules)
		if reward < base {
			t.Fatalf("reward %v below base %v", reward, base)
		}
		if max := base * 1.5 * 1.10; reward > max+1e-9 {
			t.Fatalf("reward %v above maximum %v", reward, max)
		}
	})
}

func TestComputeDistributionTotalMatchesSum(t *testing.T) {
	rules := DefaultRules(1.5, 1.10, 7)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "users")

		totals := make([]repository.UserMined, 0, n)
		owners := make(map[string]bool)
		streaks := make(map[string]int)
		for i := 0; i < n; i++ {
			id := rapid.StringMatching(`user-[0-9]{4}`).Draw(t, "id")
			if _, seen := streaks[id]; seen {
				continue
			}
			totals = append(totals, repository.UserMined{
				UserID:     id,
				WavesMined: rapid.Float64Range(0, 10000).Draw(t, "mined"),
			})
			owners[id] = rapid.Bool().Draw(t, "owns")
			streaks[id] = rapid.IntRange(0, 30).Draw(t, "streak")
		}

		distribution, total := ComputeDistribution(totals, owners, streaks, rules)

		if len(distribution) != len(totals) {
			t.Fatalf("distribution has %d entries for %d users", len(distribution), len(totals))
		}
		var sum float64
		for _, reward := range distribution {
			sum += reward
		}
		if diff := total - sum; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("recorded total %v differs from distribution sum %v", total, sum)
		}
	})
}
