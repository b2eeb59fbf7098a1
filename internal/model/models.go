// Package model defines the data models for the WaveMine mining simulation.
package model

import "time"

// Profile represents a user's account profile, including the daily-streak
// state used by the streak claim service.
type Profile struct {
	UserID      string     `db:"user_id" json:"user_id"`
	Username    string     `db:"username" json:"username"`
	StreakDays  int        `db:"streak_days" json:"streak_days"`
	LastClaimed *time.Time `db:"last_claimed" json:"last_claimed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Epoch represents one fixed-length mining period. At most one epoch may be
// active at any moment; closed epochs are kept as append-only history.
type Epoch struct {
	ID        int64     `db:"id" json:"id"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the epoch's end time has passed at the given moment.
func (e *Epoch) Expired(now time.Time) bool {
	return !now.Before(e.EndTime)
}

// MiningSession represents one user's mining run within an epoch.
// WavesMined is monotonically non-decreasing while the session is active;
// ticks advance LastUpdate only after the accrual has been persisted.
type MiningSession struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	EpochID    int64      `db:"epoch_id" json:"epoch_id"`
	StartTime  time.Time  `db:"start_time" json:"start_time"`
	EndTime    *time.Time `db:"end_time" json:"end_time"`
	Active     bool       `db:"active" json:"active"`
	WavesMined float64    `db:"waves_mined" json:"waves_mined"`
	LastUpdate time.Time  `db:"last_update" json:"last_update"`
}

// UserBalance holds a user's spendable wave balance. All mutations go
// through atomic SQL increments, never read-modify-write.
type UserBalance struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Waves     float64   `db:"waves" json:"waves"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EpochReward is the immutable settlement record written exactly once when
// an epoch closes. Distribution maps user id to the credited amount; the
// sum of its values equals TotalDistributed.
type EpochReward struct {
	EpochID          int64              `db:"epoch_id" json:"epoch_id"`
	TotalDistributed float64            `db:"total_distributed" json:"total_distributed"`
	ParticipantCount int                `db:"participant_count" json:"participant_count"`
	Distribution     map[string]float64 `db:"distribution" json:"distribution"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
}

// StreakClaim is the append-only audit row recorded for every successful
// daily claim, one per user per UTC+1 calendar day.
type StreakClaim struct {
	ID           int64     `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	ClaimedAt    time.Time `db:"claimed_at" json:"claimed_at"`
	ClaimDay     time.Time `db:"claim_day" json:"claim_day"`
	StreakDays   int       `db:"streak_days" json:"streak_days"`
	WavesAwarded float64   `db:"waves_awarded" json:"waves_awarded"`
}

// NFT represents a purchasable boost item. BoostPercent is added to the
// owner's mining rate as a percentage of the base rate.
type NFT struct {
	ID           int64   `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	Price        float64 `db:"price" json:"price"`
	BoostPercent float64 `db:"boost_percent" json:"boost_percent"`
}

// UserNFT links a user to an owned NFT.
type UserNFT struct {
	UserID     string    `db:"user_id" json:"user_id"`
	NFTID      int64     `db:"nft_id" json:"nft_id"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquired_at"`
}

// WaveTransaction records a single balance change.
type WaveTransaction struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Amount      float64   `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeMining      = "mining"       // Accrual from mining ticks
	TxTypeEpochReward = "epoch_reward" // Epoch settlement credit
	TxTypeStreak      = "streak"       // Daily streak claim reward
	TxTypeNFTPurchase = "nft_purchase" // NFT purchase debit
)
