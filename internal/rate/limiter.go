package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is the budget for one action: at most MaxAttempts per Window.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a Redis fixed-window counter per (action, identifier).
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	rules  map[string]Rule
}

// New creates a Limiter. prefix defaults to "rl".
func New(redisClient redis.UniversalClient, prefix string, rules map[string]Rule) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.New("rate: nil redis client")
	}
	if prefix == "" {
		prefix = "rl"
	}
	copied := make(map[string]Rule, len(rules))
	for action, r := range rules {
		if r.MaxAttempts <= 0 || r.Window <= 0 {
			return nil, fmt.Errorf("rate: invalid rule for %q", action)
		}
		copied[action] = r
	}
	return &Limiter{redis: redisClient, prefix: prefix, rules: copied}, nil
}

// Rule returns the configured rule for action.
func (l *Limiter) Rule(action string) (Rule, bool) {
	r, ok := l.rules[action]
	return r, ok
}

// hitScript increments the window counter, arms the TTL on the first hit
// and repairs a counter that somehow lost its TTL.
// Returns {count, pttl_ms}.
var hitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Allow records one attempt and reports whether it fits the budget.
func (l *Limiter) Allow(ctx context.Context, action, identifier string) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	res, err := hitScript.Run(ctx, l.redis, []string{l.key(action, identifier)}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script result", ErrRedisUnavailable)
	}

	count := int(res[0])
	d := Decision{
		Allowed: count <= rule.MaxAttempts,
		Count:   count,
	}
	if d.Allowed {
		d.Remaining = rule.MaxAttempts - count
		return d, nil
	}
	d.RetryAfter = time.Duration(res[1]) * time.Millisecond
	if d.RetryAfter <= 0 {
		d.RetryAfter = time.Millisecond
	}
	return d, nil
}

// Reset forgets every attempt in the current window.
func (l *Limiter) Reset(ctx context.Context, action, identifier string) error {
	if _, ok := l.rules[action]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err := l.redis.Del(ctx, l.key(action, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Count returns attempts recorded in the current window.
// Missing keys return zero.
func (l *Limiter) Count(ctx context.Context, action, identifier string) (int, error) {
	if _, ok := l.rules[action]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	n, err := l.redis.Get(ctx, l.key(action, identifier)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

func (l *Limiter) key(action, identifier string) string {
	return l.prefix + ":" + action + ":" + identifier
}
