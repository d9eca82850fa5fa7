package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/rate"
	"go.uber.org/zap"
)

// CheckRateLimit describes the checkratelimit operation and its observable behavior.
//
// CheckRateLimit records one attempt of action for identifier. Once the
// window holds more than the rule's MaxAttempts it returns a
// *RateLimitError carrying the time until the window resets. An action
// without a rule returns ErrUnknownRateLimitAction.
func (e *Engine) CheckRateLimit(ctx context.Context, action, identifier string) error {
	d, err := e.limiter.Allow(ctx, action, identifier)
	if err != nil {
		if errors.Is(err, rate.ErrUnknownAction) {
			return ErrUnknownRateLimitAction
		}
		return e.unavailable("rate limit check", err, zap.String("action", action))
	}
	if !d.Allowed {
		return &RateLimitError{Action: action, RetryAfter: d.RetryAfter}
	}
	return nil
}

// ResetRateLimit clears the window of action for identifier.
func (e *Engine) ResetRateLimit(ctx context.Context, action, identifier string) error {
	if err := e.limiter.Reset(ctx, action, identifier); err != nil {
		if errors.Is(err, rate.ErrUnknownAction) {
			return ErrUnknownRateLimitAction
		}
		return e.unavailable("rate limit reset", err, zap.String("action", action))
	}
	return nil
}

// enforceRateLimit is CheckRateLimit plus the metric and audit trail of a
// denied attempt. An empty identifier is not limited.
func (e *Engine) enforceRateLimit(ctx context.Context, action, identifier string, device DeviceContext) error {
	if identifier == "" {
		return nil
	}
	err := e.CheckRateLimit(ctx, action, identifier)
	var rl *RateLimitError
	if errors.As(err, &rl) {
		e.emitRateLimit(ctx, action, identifier, device)
	}
	return err
}

// resetRateLimitQuietly is used after a successful attempt; failures only
// leave the window to expire on its own.
func (e *Engine) resetRateLimitQuietly(ctx context.Context, action, identifier string) {
	if identifier == "" {
		return
	}
	if err := e.limiter.Reset(ctx, action, identifier); err != nil {
		e.logger.Warn("rate limit reset failed", zap.String("action", action), zap.Error(err))
	}
}
