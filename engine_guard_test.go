package authcore

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/session"
)

func TestRequireAuthSetsCookieOnRotation(t *testing.T) {
	env := newTestEnv(t, nil)

	user := env.registerVerified(t, "alice@example.com")
	sess := env.login(t, user.Email)

	res, err := env.engine.RequireAuth(env.requestWith(t, sess))
	if err != nil {
		t.Fatalf("require auth: %v", err)
	}
	if res.User == nil || res.User.ID != user.ID || res.Claims == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Refreshed || res.SetCookie != nil {
		t.Fatal("a valid access token must not rewrite the cookie")
	}

	env.clock.Advance(16 * time.Minute)
	res, err = env.engine.RequireAuth(env.requestWith(t, sess))
	if err != nil {
		t.Fatalf("require auth after expiry: %v", err)
	}
	if !res.Refreshed || res.SetCookie == nil {
		t.Fatalf("expected rotation with Set-Cookie, got refreshed=%v cookie=%v", res.Refreshed, res.SetCookie)
	}

	// The rewritten cookie carries the rotated pair.
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(res.SetCookie)
	rotated := env.engine.LoadSession(r)
	if rotated.RefreshToken == sess.RefreshToken || rotated.RefreshToken == "" {
		t.Fatal("expected the cookie to carry a new refresh token")
	}
	if _, err := env.engine.RequireAuth(r); err != nil {
		t.Fatalf("rotated cookie must authenticate: %v", err)
	}
}

func TestRequireAuthClearsCookieOnReuse(t *testing.T) {
	env := newTestEnv(t, nil)

	user := env.registerVerified(t, "bob@example.com")
	sess := env.login(t, user.Email)
	if _, _, err := env.engine.Refresh(context.Background(), sess.RefreshToken, testDevice); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	env.clock.Advance(16 * time.Minute)
	res, err := env.engine.RequireAuth(env.requestWith(t, sess))
	if !errors.Is(err, ErrReauthRequired) || !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected reuse error, got %v", err)
	}
	if res == nil || res.SetCookie == nil || res.SetCookie.MaxAge >= 0 {
		t.Fatalf("expected a deletion cookie, got %+v", res)
	}
}

func TestRequireAuthAnonymousAndTampered(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.engine.RequireAuth(env.requestWith(t, nil))
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if res == nil || res.User != nil {
		t.Fatal("expected empty result for anonymous request")
	}

	r := env.requestWith(t, nil)
	r.AddCookie(&http.Cookie{Name: env.engine.Sessions().CookieName(), Value: "forged"})
	res, err = env.engine.RequireAuth(r)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if res.SetCookie == nil {
		t.Fatal("expected the forged cookie to be overwritten")
	}
}

func TestGetOptionalUserAndRedirect(t *testing.T) {
	env := newTestEnv(t, nil)

	if res := env.engine.GetOptionalUser(env.requestWith(t, nil)); res.User != nil {
		t.Fatal("expected no user")
	}
	if ok, _ := env.engine.RedirectIfAuthenticated(env.requestWith(t, nil)); ok {
		t.Fatal("anonymous request must not redirect")
	}

	user := env.registerVerified(t, "carol@example.com")
	sess := env.login(t, user.Email)
	if res := env.engine.GetOptionalUser(env.requestWith(t, sess)); res.User == nil || res.User.ID != user.ID {
		t.Fatal("expected the logged in user")
	}
	if ok, _ := env.engine.RedirectIfAuthenticated(env.requestWith(t, sess)); !ok {
		t.Fatal("expected redirect for logged in user")
	}
}

func TestRequireRole(t *testing.T) {
	env := newTestEnv(t, nil)
	user := &User{ID: "u1", Role: "user"}

	if err := env.engine.RequireRole(user, "admin", "user"); err != nil {
		t.Fatalf("expected role match, got %v", err)
	}
	if err := env.engine.RequireRole(user, "admin"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := env.engine.RequireRole(nil, "user"); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestAuthenticateNoticesDeletedAndUnverifiedState(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	user := env.registerVerified(t, "dave@example.com")
	sess := env.login(t, user.Email)
	keep := *sess

	if err := env.engine.DeleteAccount(ctx, session.New(), user.ID, testPassword, testDevice); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := env.engine.Authenticate(ctx, &keep, testDevice)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired for deleted user, got %v", err)
	}
	if keep.AccessToken != "" || keep.RefreshToken != "" {
		t.Fatal("expected tokens cleared on failure")
	}
}

func TestAuthenticateObservesLatency(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.metrics = NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	user := env.registerVerified(t, "erin@example.com")
	sess := env.login(t, user.Email)
	if _, err := env.engine.Authenticate(context.Background(), sess, testDevice); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	var total uint64
	for _, n := range env.engine.MetricsSnapshot().Histograms[MetricAuthenticateLatency] {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
}
