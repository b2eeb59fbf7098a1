package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// BalanceRepository handles user balance persistence. Every mutation is an
// atomic SQL increment; balances are never written by read-modify-write.
type BalanceRepository struct {
	db Querier
}

// NewBalanceRepository creates a new BalanceRepository instance.
func NewBalanceRepository(db Querier) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *BalanceRepository) WithTx(tx pgx.Tx) *BalanceRepository {
	return &BalanceRepository{db: tx}
}

// Get retrieves a user's balance, treating a missing row as zero.
func (r *BalanceRepository) Get(ctx context.Context, userID string) (*model.UserBalance, error) {
	const query = `
		SELECT user_id, waves, updated_at
		FROM user_balances
		WHERE user_id = $1
	`

	var b model.UserBalance
	err := r.db.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Waves, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.UserBalance{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &b, nil
}

// Credit atomically adds amount to the user's balance, creating the row on
// first credit.
func (r *BalanceRepository) Credit(ctx context.Context, userID string, amount float64) (*model.UserBalance, error) {
	const query = `
		INSERT INTO user_balances (user_id, waves, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
			SET waves = user_balances.waves + EXCLUDED.waves, updated_at = NOW()
		RETURNING user_id, waves, updated_at
	`

	var b model.UserBalance
	err := r.db.QueryRow(ctx, query, userID, amount).Scan(&b.UserID, &b.Waves, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	return &b, nil
}

// Debit atomically subtracts amount from the user's balance. The WHERE
// predicate makes the sufficiency check and the decrement one atomic
// operation; ErrInsufficientBalance is returned when the row is missing or
// the balance would go negative.
func (r *BalanceRepository) Debit(ctx context.Context, userID string, amount float64) (*model.UserBalance, error) {
	const query = `
		UPDATE user_balances
		SET waves = waves - $2, updated_at = NOW()
		WHERE user_id = $1 AND waves >= $2
		RETURNING user_id, waves, updated_at
	`

	var b model.UserBalance
	err := r.db.QueryRow(ctx, query, userID, amount).Scan(&b.UserID, &b.Waves, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	return &b, nil
}
