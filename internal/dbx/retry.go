package dbx

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
)

// RetryPolicy bounds how often and how fast a conflicting transaction is
// replayed.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is three replays with 10ms exponential backoff capped at 200ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  10 * time.Millisecond,
	MaxDelay:   200 * time.Millisecond,
}

// Retryable decides whether a failed transaction may be replayed as a whole.
type Retryable func(error) bool

const (
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgLockNotAvailable     = "55P03"

	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsTransient reports deadlocks, serialization failures and lock timeouts
// for Postgres (pgx) and SQLite (modernc). Everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlockDetected, pgSerializationFailure, pgLockNotAvailable:
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "database is locked")
}

// WithRetryTx runs fn inside WithTx and replays the whole transaction when
// the failure satisfies retryable. The error of the last attempt is returned.
func WithRetryTx(
	ctx context.Context,
	db *sql.DB,
	policy RetryPolicy,
	retryable Retryable,
	fn func(ctx context.Context, tx DBTX) error,
) error {
	if retryable == nil {
		retryable = IsTransient
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy.BaseDelay
	}

	backoff := retry.NewExponential(policy.BaseDelay)
	if policy.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(policy.MaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(policy.MaxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := WithTx(ctx, db, nil, fn)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
