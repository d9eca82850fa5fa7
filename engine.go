package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/mfa"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine defines a public type used by authcore APIs.
//
// Engine instances are created by [Builder.Build], are immutable afterwards
// and are safe for concurrent use.
type Engine struct {
	config     Config
	logger     *zap.Logger
	now        func() time.Time
	store      *stores.Store
	limiter    *rate.Limiter
	redis      redis.UniversalClient
	sessions   *session.Store
	hasher     *password.Hasher
	jwtManager *jwt.Manager
	totp       *mfa.TOTP
	mailer     Mailer
	audit      *audit.Dispatcher
	metrics    *Metrics
}

// Close describes the close operation and its observable behavior.
//
// Close drains queued audit events. It does not close the database or Redis
// client, which belong to the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Sessions returns the cookie session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

/*
====================================
CRYPTO PRIMITIVES
====================================
*/

// HashPassword describes the hashpassword operation and its observable behavior.
//
// HashPassword may return an error when input validation, dependency calls, or security checks fail.
// HashPassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) HashPassword(plain string) (string, error) {
	return e.hasher.Hash(plain)
}

// VerifyPassword reports whether plain matches hash. A malformed hash is an
// error, a mismatch is not.
func (e *Engine) VerifyPassword(plain, hash string) (bool, error) {
	return e.hasher.Verify(plain, hash)
}

// HashToken returns the hex SHA-256 of an opaque bearer artifact.
func (e *Engine) HashToken(raw string) string {
	return internal.HashToken(raw)
}

// GenerateSecureToken returns 256 random bits as 64 hex characters.
func (e *Engine) GenerateSecureToken() (string, error) {
	return internal.GenerateSecureToken()
}

/*
====================================
ERROR MAPPING
====================================
*/

// unavailable logs a backend failure and hides it behind ErrUnavailable.
func (e *Engine) unavailable(op string, err error, fields ...zap.Field) error {
	e.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	return ErrUnavailable
}

func isNotFound(err error) bool {
	return errors.Is(err, stores.ErrNotFound)
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*User, error) {
	u, err := e.store.Q().UserByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, e.unavailable("load user", err, zap.String("user_id", userID))
	}
	return u, nil
}
