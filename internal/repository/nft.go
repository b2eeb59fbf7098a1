package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// NFTRepository handles NFT catalog and ownership lookups. Ownership is
// read-only for the mining and settlement paths; rows are only written by
// the purchase flow.
type NFTRepository struct {
	db Querier
}

// NewNFTRepository creates a new NFTRepository instance.
func NewNFTRepository(db Querier) *NFTRepository {
	return &NFTRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *NFTRepository) WithTx(tx pgx.Tx) *NFTRepository {
	return &NFTRepository{db: tx}
}

// GetByID retrieves an NFT from the catalog.
func (r *NFTRepository) GetByID(ctx context.Context, id int64) (*model.NFT, error) {
	const query = `
		SELECT id, name, price, boost_percent
		FROM nfts
		WHERE id = $1
	`

	var nft model.NFT
	err := r.db.QueryRow(ctx, query, id).Scan(&nft.ID, &nft.Name, &nft.Price, &nft.BoostPercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNFTNotFound
		}
		return nil, fmt.Errorf("failed to get nft: %w", err)
	}

	return &nft, nil
}

// List retrieves the NFT catalog.
func (r *NFTRepository) List(ctx context.Context) ([]*model.NFT, error) {
	const query = `
		SELECT id, name, price, boost_percent
		FROM nfts
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nfts: %w", err)
	}
	defer rows.Close()

	var nfts []*model.NFT
	for rows.Next() {
		var nft model.NFT
		if err := rows.Scan(&nft.ID, &nft.Name, &nft.Price, &nft.BoostPercent); err != nil {
			return nil, fmt.Errorf("failed to scan nft: %w", err)
		}
		nfts = append(nfts, &nft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nfts: %w", err)
	}

	return nfts, nil
}

// CountOwned returns how many NFTs the user owns.
func (r *NFTRepository) CountOwned(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM user_nfts WHERE user_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count owned nfts: %w", err)
	}

	return count, nil
}

// BoostPercent returns the sum of boost percentages across the user's
// owned NFTs.
func (r *NFTRepository) BoostPercent(ctx context.Context, userID string) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(n.boost_percent), 0)
		FROM user_nfts un
		JOIN nfts n ON n.id = un.nft_id
		WHERE un.user_id = $1
	`

	var boost float64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&boost); err != nil {
		return 0, fmt.Errorf("failed to get nft boost: %w", err)
	}

	return boost, nil
}

// OwnersWithNFTs returns the set of user ids that own at least one NFT.
// Used by the settlement engine to apply the ownership multiplier in a
// single query instead of one lookup per participant.
func (r *NFTRepository) OwnersWithNFTs(ctx context.Context, userIDs []string) (map[string]bool, error) {
	const query = `
		SELECT DISTINCT user_id
		FROM user_nfts
		WHERE user_id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query nft owners: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan nft owner: %w", err)
		}
		owners[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nft owners: %w", err)
	}

	return owners, nil
}

// Owned reports whether the user already owns the given NFT.
func (r *NFTRepository) Owned(ctx context.Context, userID string, nftID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM user_nfts WHERE user_id = $1 AND nft_id = $2)`

	var owned bool
	if err := r.db.QueryRow(ctx, query, userID, nftID).Scan(&owned); err != nil {
		return false, fmt.Errorf("failed to check nft ownership: %w", err)
	}

	return owned, nil
}

// Grant records NFT ownership. Granting an already-owned NFT is a no-op.
func (r *NFTRepository) Grant(ctx context.Context, userID string, nftID int64) error {
	const query = `
		INSERT INTO user_nfts (user_id, nft_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, nft_id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, userID, nftID); err != nil {
		return fmt.Errorf("failed to grant nft: %w", err)
	}

	return nil
}
