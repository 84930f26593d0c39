package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/observability"
)

// Postgres error codes that surface as retryable contention.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// DB wraps *sql.DB with the transaction discipline every multi-step
// operation in the core runs under: one SQL transaction, a bounded
// lock_timeout, and full rollback on any failure.
type DB struct {
	*sql.DB
	lockTimeout time.Duration
	maxRetries  int
	metrics     *observability.Metrics
}

// Open connects to Postgres with the standard pool settings.
func Open(dsn string, lockTimeout time.Duration, maxRetries int) (*DB, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	sqldb.SetMaxOpenConns(20)
	sqldb.SetMaxIdleConns(10)
	sqldb.SetConnMaxLifetime(5 * time.Minute)

	return NewDB(sqldb, lockTimeout, maxRetries), nil
}

// NewDB wraps an existing connection pool.
func NewDB(sqldb *sql.DB, lockTimeout time.Duration, maxRetries int) *DB {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &DB{DB: sqldb, lockTimeout: lockTimeout, maxRetries: maxRetries}
}

// InTx runs fn inside a single transaction. A lock wait beyond the
// configured lock_timeout, a deadlock, or a serialization failure is
// mapped to a retryable Contention error; everything fn wrote is rolled
// back on any error, so partial application is never observable.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	timeoutMS := d.lockTimeout.Milliseconds()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", timeoutMS)); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		return d.noteContention(mapContention(err))
	}

	if err := tx.Commit(); err != nil {
		return d.noteContention(mapContention(fmt.Errorf("commit tx: %w", err)))
	}
	return nil
}

// WithMetrics attaches contention/retry counters to the runner.
func (d *DB) WithMetrics(m *observability.Metrics) *DB {
	d.metrics = m
	return d
}

func (d *DB) noteContention(err error) error {
	if d.metrics != nil && errs.IsCode(err, errs.CodeContention) {
		d.metrics.TxContention.Inc()
	}
	return err
}

// InTxRetry runs the whole of fn under InTx, retrying from scratch with
// exponential backoff while the failure is contention. Callers must make
// fn safe to re-run; nothing from a failed attempt survives the rollback.
func (d *DB) InTxRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		err = d.InTx(ctx, fn)
		if err == nil || !errs.IsRetryable(err) {
			return err
		}
		if d.metrics != nil {
			d.metrics.TxRetries.Inc()
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

func mapContention(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return errs.Wrap("persistence.tx", errs.CodeContention, err)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-index
// violation. Idempotent writers race on unique keys and treat the loss
// as "already applied".
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}
