package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l, err := New(rdb, "", map[string]Rule{
		"login": {MaxAttempts: 5, Window: 15 * time.Minute},
		"mfa":   {MaxAttempts: 2, Window: time.Minute},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l, mr
}

func TestAllowExactlyMaxAttempts(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Allow(ctx, "login", "203.0.113.1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !d.Allowed || d.Count != i || d.Remaining != 5-i {
			t.Fatalf("attempt %d: unexpected decision %+v", i, d)
		}
	}

	d, err := l.Allow(ctx, "login", "203.0.113.1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("sixth attempt must be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected RetryAfter %v", d.RetryAfter)
	}

	if ttl := mr.TTL("rl:login:203.0.113.1"); ttl <= 0 {
		t.Fatalf("expected key TTL, got %v", ttl)
	}

	mr.FastForward(15*time.Minute + time.Second)
	d, err = l.Allow(ctx, "login", "203.0.113.1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("expected fresh window after expiry, got %+v", d)
	}
}

func TestWindowIsFixedNotSliding(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	if _, err := l.Allow(ctx, "mfa", "u1"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	mr.FastForward(40 * time.Second)
	if _, err := l.Allow(ctx, "mfa", "u1"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	d, err := l.Allow(ctx, "mfa", "u1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("third attempt must be rejected")
	}
	if d.RetryAfter > 20*time.Second {
		t.Fatalf("retry-after must count from the first hit, got %v", d.RetryAfter)
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Allow(ctx, "mfa", "u1"); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
	}
	d, err := l.Allow(ctx, "mfa", "u2")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("other identifier must not share the window")
	}
}

func TestResetClearsWindow(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Allow(ctx, "mfa", "u1")
	}
	if err := l.Reset(ctx, "mfa", "u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	n, err := l.Count(ctx, "mfa", "u1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero after reset, got %d", n)
	}
}

func TestUnknownAction(t *testing.T) {
	l, _ := newTestLimiter(t)
	if _, err := l.Allow(context.Background(), "upload", "x"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if err := l.Reset(context.Background(), "upload", "x"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestRedisDownIsReported(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()
	if _, err := l.Allow(context.Background(), "login", "ip"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNewRejectsInvalidRule(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := New(rdb, "rl", map[string]Rule{"login": {MaxAttempts: 0, Window: time.Minute}}); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}
