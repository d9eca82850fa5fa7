package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEndToEndSilentRotation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "alice@example.com")
	sess := env.login(t, user.Email)

	got, err := env.engine.Authenticate(ctx, sess, testDevice)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authenticate failed: %v", err)
	}

	oldAccess, oldRefresh := sess.AccessToken, sess.RefreshToken
	env.clock.Advance(16 * time.Minute)

	got, err = env.engine.Authenticate(ctx, sess, testDevice)
	if err != nil {
		t.Fatalf("authenticate after access expiry failed: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}
	if sess.AccessToken == oldAccess || sess.RefreshToken == oldRefresh {
		t.Fatal("expected rotated tokens in session")
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, oldRefresh); ok {
		t.Fatal("old refresh token must be revoked after rotation")
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, sess.RefreshToken); !ok {
		t.Fatal("new refresh token must be active")
	}
	if got := env.engine.metrics.Value(MetricRefreshSuccess); got != 1 {
		t.Fatalf("expected 1 refresh, got %d", got)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "bob@example.com")
	sess := env.login(t, user.Email)
	other := env.login(t, user.Email)
	stolen := sess.RefreshToken

	pair, _, err := env.engine.Refresh(ctx, stolen, testDevice)
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	_, _, err = env.engine.Refresh(ctx, stolen, testDevice)
	if !errors.Is(err, ErrReauthRequired) || !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected reuse error, got %v", err)
	}

	// The token minted from the stolen one dies with its family.
	if _, _, err := env.engine.Refresh(ctx, pair.RefreshToken, testDevice); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected family to be revoked, got %v", err)
	}
	// Other families are untouched.
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, other.RefreshToken); !ok {
		t.Fatal("expected other session to stay active")
	}
	if got := env.engine.metrics.Value(MetricRefreshReuseDetected); got < 1 {
		t.Fatalf("expected reuse metric, got %d", got)
	}
	if env.mailer.count(MailSuspiciousActivity) < 1 {
		t.Fatal("expected suspicious activity mail")
	}
}

func TestDetectTokenReuse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "carol@example.com")
	sess := env.login(t, user.Email)
	raw := sess.RefreshToken

	reused, err := env.engine.DetectTokenReuse(ctx, user.ID, raw, testDevice)
	if err != nil || reused {
		t.Fatalf("active token is not reuse, got %v err=%v", reused, err)
	}

	pair, _, err := env.engine.Refresh(ctx, raw, testDevice)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	reused, err = env.engine.DetectTokenReuse(ctx, user.ID, raw, testDevice)
	if err != nil || !reused {
		t.Fatalf("expected reuse, got %v err=%v", reused, err)
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, pair.RefreshToken); ok {
		t.Fatal("expected rotated token to be revoked with its family")
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "dave@example.com")
	sess := env.login(t, user.Email)
	raw := sess.RefreshToken

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		reuses    int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, err := env.engine.Refresh(ctx, raw, testDevice)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrRefreshReuse):
				reuses++
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
	if reuses != workers-1 {
		t.Fatalf("expected %d reuse errors, got %d", workers-1, reuses)
	}
	if n, _ := env.engine.GetActiveSessionCount(ctx, user.ID); n != 0 {
		t.Fatalf("expected family revoked, got %d active", n)
	}
}

func TestRefreshRejectsGarbageAndExpiredTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "erin@example.com")
	sess := env.login(t, user.Email)

	if _, _, err := env.engine.Refresh(ctx, "not-a-token", testDevice); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if _, _, err := env.engine.Refresh(ctx, sess.AccessToken, testDevice); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("access token must not refresh, got %v", err)
	}

	env.clock.Advance(7*24*time.Hour + time.Minute)
	_, _, err := env.engine.Refresh(ctx, sess.RefreshToken, testDevice)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired for expired token, got %v", err)
	}
	if errors.Is(err, ErrRefreshReuse) {
		t.Fatal("expiry must not be reported as reuse")
	}
}

func TestGenerateAndStoreRefreshToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "frank@example.com")
	pair, err := env.engine.GenerateTokens(user, TokenOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pair.Family == "" {
		t.Fatal("expected a new family")
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, pair.RefreshToken); ok {
		t.Fatal("generated tokens must not be persisted")
	}
	if err := env.engine.StoreRefreshToken(ctx, user.ID, pair.RefreshToken, pair.Family, testDevice, pair.RefreshExpiresAt); err != nil {
		t.Fatalf("store: %v", err)
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, pair.RefreshToken); !ok {
		t.Fatal("expected stored token to validate")
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, "someone-else", pair.RefreshToken); ok {
		t.Fatal("token must not validate for another user")
	}

	next, err := env.engine.GenerateTokens(user, TokenOptions{Family: pair.Family})
	if err != nil {
		t.Fatalf("generate in family: %v", err)
	}
	if next.Family != pair.Family || next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a distinct token in the same family")
	}
}

func TestRevokeAllUserTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "grace@example.com")
	env.login(t, user.Email)
	env.login(t, user.Email)

	n, err := env.engine.RevokeAllUserTokens(ctx, user.ID, testDevice)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	n, _ = env.engine.RevokeAllUserTokens(ctx, user.ID, testDevice)
	if n != 0 {
		t.Fatalf("expected nothing left to revoke, got %d", n)
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "heidi@example.com")
	revoked := env.login(t, user.Email)
	if err := env.engine.Logout(ctx, revoked, testDevice); err != nil {
		t.Fatalf("logout: %v", err)
	}
	active := env.login(t, user.Email)
	if err := env.engine.RequestPasswordReset(ctx, user.Email, testDevice); err != nil {
		t.Fatalf("request reset: %v", err)
	}

	// Nothing is old enough yet except the consumed verification token.
	report, err := env.engine.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.RefreshTokens != 0 || report.PasswordResets != 0 {
		t.Fatalf("unexpected early cleanup: %+v", report)
	}
	if report.EmailVerifications != 1 {
		t.Fatalf("expected the used verification token removed, got %+v", report)
	}

	env.clock.Advance(7*24*time.Hour + time.Hour)
	report, err = env.engine.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.RefreshTokens != 2 || report.PasswordResets != 1 {
		t.Fatalf("expected revoked+expired refresh rows and the reset removed, got %+v", report)
	}
	if ok, _ := env.engine.ValidateRefreshToken(ctx, user.ID, active.RefreshToken); ok {
		t.Fatal("expired token must be gone")
	}
	if got := env.engine.metrics.Value(MetricTokensCleanedUp); got != uint64(report.Total()+1) {
		t.Fatalf("expected cleanup metric %d, got %d", report.Total()+1, got)
	}
}
