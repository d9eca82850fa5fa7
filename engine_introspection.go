package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	DatabaseAvailable bool
	DatabaseLatency   time.Duration
	RedisAvailable    bool
	RedisLatency      time.Duration
}

// Healthy reports whether both backends answered.
func (h HealthStatus) Healthy() bool {
	return h.DatabaseAvailable && h.RedisAvailable
}

// GetActiveSessionCount describes the getactivesessioncount operation and its observable behavior.
//
// GetActiveSessionCount counts the unrevoked, unexpired refresh tokens of
// userID, i.e. the devices that can still obtain access tokens.
// GetActiveSessionCount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrUserNotFound
	}
	n, err := e.store.Q().CountActiveRefreshTokens(ctx, userID, e.clock())
	if err != nil {
		return 0, e.unavailable("count active sessions", err, zap.String("user_id", userID))
	}
	return n, nil
}

// Health describes the health operation and its observable behavior.
//
// Health pings the database and Redis and reports their latency.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.store == nil {
		return HealthStatus{}
	}

	var h HealthStatus
	start := time.Now()
	h.DatabaseAvailable = e.store.DB().PingContext(ctx) == nil
	h.DatabaseLatency = time.Since(start)

	if e.redis != nil {
		start = time.Now()
		h.RedisAvailable = e.redis.Ping(ctx).Err() == nil
		h.RedisLatency = time.Since(start)
	}
	return h
}

// GetLoginAttempts describes the getloginattempts operation and its observable behavior.
//
// GetLoginAttempts returns the login attempts recorded for identifier in
// the current rate-limit window.
func (e *Engine) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	if identifier == "" {
		return 0, nil
	}
	n, err := e.limiter.Count(ctx, ActionLogin, identifier)
	if err != nil {
		return 0, e.unavailable("login attempts", err)
	}
	return n, nil
}
