package rate

import "errors"

var (
	// ErrUnknownAction is returned for an action without a configured rule.
	ErrUnknownAction = errors.New("unknown rate limit action")
	// ErrRedisUnavailable wraps Redis transport and script failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
