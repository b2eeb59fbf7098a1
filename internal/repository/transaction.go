package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wavemine-server/internal/model"
)

// TransactionRepository handles the append-only wave transaction ledger.
type TransactionRepository struct {
	db Querier
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(db Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *TransactionRepository) WithTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// Create appends a balance change record.
func (r *TransactionRepository) Create(ctx context.Context, userID string, amount float64, txType string, description *string) (*model.WaveTransaction, error) {
	const query = `
		INSERT INTO wave_transactions (user_id, amount, type, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, amount, type, description, created_at
	`

	var tx model.WaveTransaction
	err := r.db.QueryRow(ctx, query, userID, amount, txType, description).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Type,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wave transaction: %w", err)
	}

	return &tx, nil
}

// GetByUserID retrieves a user's balance history, newest first.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID string, limit int) ([]*model.WaveTransaction, error) {
	const query = `
		SELECT id, user_id, amount, type, description, created_at
		FROM wave_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get wave transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.WaveTransaction
	for rows.Next() {
		var tx model.WaveTransaction
		err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &tx.Description, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wave transaction: %w", err)
		}
		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wave transactions: %w", err)
	}

	return txs, nil
}
