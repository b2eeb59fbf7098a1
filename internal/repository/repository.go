// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrProfileNotFound     = errors.New("profile not found")
	ErrSessionNotFound     = errors.New("mining session not found")
	ErrNoActiveEpoch       = errors.New("no active epoch")
	ErrEpochNotFound       = errors.New("epoch not found")
	ErrRewardNotFound      = errors.New("epoch reward not found")
	ErrNFTNotFound         = errors.New("nft not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Querier is the subset of pgx operations the repositories need. It is
// satisfied by both *pgxpool.Pool and pgx.Tx, so every repository method
// can run standalone or inside an enclosing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
