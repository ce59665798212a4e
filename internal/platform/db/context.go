package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	txKey     contextKey = "db_tx"
	clinicKey contextKey = "clinic_id"
)

// WithTx runs fn inside a transaction carried on the context. Repositories
// pick the transaction up via TxFromContext, so a service-level mutation that
// spans several repository calls commits as a single atomic write.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction carried on the context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// WithClinic tags the context with the clinic the request operates on.
func WithClinic(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, clinicKey, clinicID)
}

// ClinicFromContext returns the clinic id carried on the context, or "".
func ClinicFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clinicKey).(string)
	return id
}
