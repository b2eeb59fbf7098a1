package service

import (
	"context"

	"wavemine-server/internal/model"
	"wavemine-server/internal/repository"
)

// BalanceService exposes read access to balances and their history.
type BalanceService struct {
	balanceRepo *repository.BalanceRepository
	txRepo      *repository.TransactionRepository
}

// NewBalanceService creates a new BalanceService instance.
func NewBalanceService(balanceRepo *repository.BalanceRepository, txRepo *repository.TransactionRepository) *BalanceService {
	return &BalanceService{balanceRepo: balanceRepo, txRepo: txRepo}
}

// Get retrieves a user's current balance.
func (s *BalanceService) Get(ctx context.Context, userID string) (*model.UserBalance, error) {
	return s.balanceRepo.Get(ctx, userID)
}

// History retrieves a user's recent balance changes.
func (s *BalanceService) History(ctx context.Context, userID string, limit int) ([]*model.WaveTransaction, error) {
	return s.txRepo.GetByUserID(ctx, userID, limit)
}
