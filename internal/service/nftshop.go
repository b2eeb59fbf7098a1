package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/model"
	"wavemine-server/internal/pkg/lock"
	"wavemine-server/internal/repository"
)

// NFT shop errors.
var (
	ErrNFTNotFound         = errors.New("nft not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyOwned        = errors.New("nft already owned")
)

// NFTShopService handles NFT purchases. The debit and the ownership grant
// commit together; the atomic conditional debit guarantees the balance
// never goes negative.
type NFTShopService struct {
	pool        *pgxpool.Pool
	nftRepo     *repository.NFTRepository
	balanceRepo *repository.BalanceRepository
	txRepo      *repository.TransactionRepository
	locks       *lock.UserLock
}

// NewNFTShopService creates a new NFTShopService instance.
func NewNFTShopService(
	pool *pgxpool.Pool,
	nftRepo *repository.NFTRepository,
	balanceRepo *repository.BalanceRepository,
	txRepo *repository.TransactionRepository,
	locks *lock.UserLock,
) *NFTShopService {
	return &NFTShopService{
		pool:        pool,
		nftRepo:     nftRepo,
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		locks:       locks,
	}
}

// Catalog returns all purchasable NFTs.
func (s *NFTShopService) Catalog(ctx context.Context) ([]*model.NFT, error) {
	return s.nftRepo.List(ctx)
}

// Purchase debits the NFT price from the user and grants ownership.
func (s *NFTShopService) Purchase(ctx context.Context, userID string, nftID int64) (*model.NFT, error) {
	nft, err := s.nftRepo.GetByID(ctx, nftID)
	if err != nil {
		if errors.Is(err, repository.ErrNFTNotFound) {
			return nil, ErrNFTNotFound
		}
		return nil, err
	}

	err = s.locks.WithLock(userID, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin purchase: %w", err)
		}
		defer tx.Rollback(ctx)

		owned, err := s.nftRepo.WithTx(tx).Owned(ctx, userID, nft.ID)
		if err != nil {
			return err
		}
		if owned {
			return ErrAlreadyOwned
		}

		if _, err := s.balanceRepo.WithTx(tx).Debit(ctx, userID, nft.Price); err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return ErrInsufficientBalance
			}
			return err
		}
		if err := s.nftRepo.WithTx(tx).Grant(ctx, userID, nft.ID); err != nil {
			return err
		}
		desc := "Purchased " + nft.Name
		if _, err := s.txRepo.WithTx(tx).Create(ctx, userID, -nft.Price, model.TxTypeNFTPurchase, &desc); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Int64("nft_id", nft.ID).Msg("NFT purchased")
	return nft, nil
}
