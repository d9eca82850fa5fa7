package authcore

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var testBaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testPassword = "correct-horse-battery"

var testDevice = DeviceContext{IP: "203.0.113.7", UserAgent: "authcore-test"}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	kind  MailKind
	to    string
	token string
}

type recordingMailer struct {
	mu    sync.Mutex
	mails []sentMail
}

func (m *recordingMailer) Send(_ context.Context, kind MailKind, address, token string) error {
	m.mu.Lock()
	m.mails = append(m.mails, sentMail{kind: kind, to: address, token: token})
	m.mu.Unlock()
	return nil
}

func (m *recordingMailer) last(kind MailKind) (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.mails) - 1; i >= 0; i-- {
		if m.mails[i].kind == kind {
			return m.mails[i], true
		}
	}
	return sentMail{}, false
}

func (m *recordingMailer) count(kind MailKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mail := range m.mails {
		if mail.kind == kind {
			n++
		}
	}
	return n
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "authcore.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(context.Background(), db, "sqlite", nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Session.Secrets = [][]byte{[]byte("fedcba9876543210fedcba9876543210")}
	cfg.Session.Secure = false
	cfg.Database.Dialect = "sqlite"
	return cfg
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	clock  *testClock
	mailer *recordingMailer
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mr, rdb := newTestRedis(t)
	clock := &testClock{now: testBaseTime}
	mailer := &recordingMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithDB(newTestDB(t)).
		WithRedis(rdb).
		WithMailer(mailer).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, clock: clock, mailer: mailer}
}

// registerVerified creates an account and confirms its email.
func (env *testEnv) registerVerified(t *testing.T, email string) *User {
	t.Helper()

	ctx := context.Background()
	user, err := env.engine.Register(ctx, RegisterRequest{Email: email, Password: testPassword, FullName: "Test User"}, DeviceContext{})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	mail, ok := env.mailer.last(MailVerification)
	if !ok || mail.to != user.Email {
		t.Fatalf("expected verification mail for %s", user.Email)
	}
	if _, err := env.engine.VerifyEmail(ctx, mail.token, DeviceContext{}); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	return user
}

func (env *testEnv) login(t *testing.T, email string) *session.Session {
	t.Helper()

	sess := session.New()
	res, err := env.engine.Login(context.Background(), sess, email, testPassword, testDevice)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if res.MFARequired {
		t.Fatalf("unexpected mfa challenge for %s", email)
	}
	return sess
}

// requestWith builds a request carrying sess as its session cookie.
func (env *testEnv) requestWith(t *testing.T, sess *session.Session) *http.Request {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, "/account", nil)
	r.RemoteAddr = testDevice.IP + ":4242"
	if sess == nil {
		return r
	}
	c, err := env.engine.Sessions().Commit(sess)
	if err != nil {
		t.Fatalf("commit session: %v", err)
	}
	r.AddCookie(c)
	return r
}

func totpCode(t *testing.T, env *testEnv, secret string) string {
	t.Helper()

	code, err := env.engine.totp.Code(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

func wantValidationField(t *testing.T, err error, field string) *ValidationError {
	t.Helper()

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Field != field {
		t.Fatalf("expected field %q, got %q", field, verr.Field)
	}
	return verr
}
