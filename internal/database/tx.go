package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
	// BaseBackoff is the first sleep between attempts; it doubles on every retry.
	BaseBackoff time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
		BaseBackoff:    50 * time.Millisecond,
	}
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// WithRetry runs fn in a transaction and retries serialization failures, deadlocks and
// lock timeouts up to opts.MaxRetries times with jittered exponential backoff. Permanent
// errors are returned as-is on the first occurrence.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	return retry(ctx, opts, func() error {
		return WithTransaction(ctx, db, opts, fn)
	})
}

func retry(ctx context.Context, opts TxOptions, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := backoff.Retry(func() error {
		err := op()
		if err != nil && ClassifyError(err) == ErrorClassPermanent {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(retryPolicy(opts), uint64(max(opts.MaxRetries, 0))), ctx))
	if err == nil || ClassifyError(err) == ErrorClassPermanent {
		return err
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
}

func retryPolicy(opts TxOptions) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BaseBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = 50 * time.Millisecond
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
