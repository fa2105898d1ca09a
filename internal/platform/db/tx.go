package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const TxKey contextKey = "db_tx"

// TxFromContext retrieves an open transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(TxKey).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a transaction. It begins on the tenant connection
// when one is on the context so the tenant search_path applies, and on the
// pool otherwise. Repositories pick the transaction up from the context
// passed to fn.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	switch conn := ConnFromContext(ctx); {
	case conn != nil:
		tx, err = conn.Begin(ctx)
	case pool != nil:
		tx, err = pool.Begin(ctx)
	default:
		return fmt.Errorf("begin transaction: no connection available")
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, TxKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
