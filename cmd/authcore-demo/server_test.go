package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type mailbox struct {
	mu     sync.Mutex
	tokens map[authcore.MailKind]string
}

func (m *mailbox) Send(_ context.Context, kind authcore.MailKind, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[kind] = token
	return nil
}

func (m *mailbox) token(kind authcore.MailKind) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[kind]
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

func newDemo(t *testing.T) (*client, *mailbox) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "demo.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := authcore.Migrate(context.Background(), db, "sqlite", nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.SetMaxOpenConns(1)

	fc := defaultFileConfig()
	fc.JWT.Key = b64("0123456789abcdef0123456789abcdef")
	fc.Session.Secrets = []string{b64("fedcba9876543210fedcba9876543210")}
	fc.Password.BcryptCost = bcrypt.MinCost
	insecure := false
	fc.Session.Secure = &insecure
	cfg, err := fc.engineConfig()
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}

	mail := &mailbox{tokens: map[authcore.MailKind]string{}}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithDB(db).
		WithRedis(rdb).
		WithMailer(mail).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := httptest.NewServer((&server{engine: engine, logger: zap.NewNop()}).routes("admin"))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	c := &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}

	var tok struct {
		CSRFToken string `json:"csrf_token"`
	}
	if status := c.do(http.MethodGet, "/csrf", nil, &tok); status != http.StatusOK {
		t.Fatalf("GET /csrf: %d", status)
	}
	c.csrf = tok.CSRFToken
	return c, mail
}

func (c *client) do(method, path string, body, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestDemoAccountLifecycle(t *testing.T) {
	c, mail := newDemo(t)

	reg := map[string]string{"email": "Dana@Example.com", "password": "correct-horse-battery", "full_name": "Dana"}
	if status := c.do(http.MethodPost, "/auth/register", reg, nil); status != http.StatusCreated {
		t.Fatalf("register: %d", status)
	}

	login := map[string]string{"email": "dana@example.com", "password": "correct-horse-battery"}
	if status := c.do(http.MethodPost, "/auth/login", login, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 before verification, got %d", status)
	}

	if status := c.do(http.MethodPost, "/auth/verify", map[string]string{"token": mail.token(authcore.MailVerification)}, nil); status != http.StatusOK {
		t.Fatalf("verify: %d", status)
	}

	if status := c.do(http.MethodGet, "/account/me", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", status)
	}
	if status := c.do(http.MethodPost, "/auth/login", login, nil); status != http.StatusOK {
		t.Fatalf("login: %d", status)
	}

	var me authcore.User
	if status := c.do(http.MethodGet, "/account/me", nil, &me); status != http.StatusOK {
		t.Fatalf("me: %d", status)
	}
	if me.Email != "dana@example.com" || !me.IsVerified {
		t.Fatalf("unexpected user: %+v", me)
	}

	if status := c.do(http.MethodGet, "/admin/security-report", nil, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", status)
	}

	if status := c.do(http.MethodPost, "/account/logout", nil, nil); status != http.StatusNoContent {
		t.Fatalf("logout: %d", status)
	}
	if status := c.do(http.MethodGet, "/account/me", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestDemoRejectsMissingCSRFToken(t *testing.T) {
	c, _ := newDemo(t)
	c.csrf = ""

	reg := map[string]string{"email": "eve@example.com", "password": "correct-horse-battery"}
	if status := c.do(http.MethodPost, "/auth/register", reg, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", status)
	}
}

func TestDemoMapsValidationAndLimits(t *testing.T) {
	c, _ := newDemo(t)

	if status := c.do(http.MethodPost, "/auth/register", map[string]string{"email": "nope", "password": "x"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d", status)
	}

	login := map[string]string{"email": "ghost@example.com", "password": "wrong-password"}
	for i := 0; i < 5; i++ {
		if status := c.do(http.MethodPost, "/auth/login", login, nil); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, status)
		}
	}
	if status := c.do(http.MethodPost, "/auth/login", login, nil); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
}

func TestDemoHealthAndMetrics(t *testing.T) {
	c, _ := newDemo(t)

	if status := c.do(http.MethodGet, "/healthz", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz: %d", status)
	}

	resp, err := c.http.Get(c.base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "authcore_login_success_total") {
		t.Fatalf("expected authcore counters, got:\n%s", buf.String())
	}
}
