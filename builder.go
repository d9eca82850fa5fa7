package authcore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/internal/mfa"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder defines a public type used by authcore APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	db     *sql.DB
	redis  redis.UniversalClient

	logger    *zap.Logger
	mailer    Mailer
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New starts from DefaultConfig.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig stores a deep copy of cfg; later changes to cfg have no effect.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDB sets the relational store. The schema must already be migrated
// (see [Migrate]).
func (b *Builder) WithDB(db *sql.DB) *Builder {
	b.db = db
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis sets the client backing the rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink adds sink next to the security log table.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for every expiry decision. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms enables the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// A Builder can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.db == nil {
		return nil, errors.New("database required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}

	// -------- STORE --------
	dialect, err := stores.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	store, err := stores.New(b.db, dialect, dbx.RetryPolicy{
		MaxRetries: cfg.Database.MaxRetries,
		BaseDelay:  cfg.Database.RetryBaseDelay,
		MaxDelay:   cfg.Database.RetryMaxDelay,
	})
	if err != nil {
		return nil, err
	}

	// -------- CRYPTO --------
	hasher, err := password.NewHasher(cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	totp, err := mfa.New(mfa.Config{
		Issuer:    cfg.MFA.Issuer,
		Digits:    cfg.MFA.Digits,
		Period:    cfg.MFA.Period,
		Skew:      cfg.MFA.Skew,
		Algorithm: cfg.MFA.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMITER --------
	rules := make(map[string]rate.Rule, len(cfg.RateLimits.Rules))
	for action, r := range cfg.RateLimits.Rules {
		rules[action] = rate.Rule{MaxAttempts: r.MaxAttempts, Window: r.Window}
	}
	limiter, err := rate.New(b.redis, cfg.RateLimits.RedisPrefix, rules)
	if err != nil {
		return nil, err
	}

	// -------- SESSION STORE --------
	sessions, err := session.NewStore(session.Config{
		CookieName:    cfg.Session.CookieName,
		Secrets:       cfg.Session.Secrets,
		EncryptionKey: cfg.Session.EncryptionKey,
		Path:          cfg.Session.Path,
		Domain:        cfg.Session.Domain,
		Secure:        cfg.Session.Secure,
		SameSite:      cfg.Session.SameSite,
		MaxAge:        cfg.Session.MaxAge,
	})
	if err != nil {
		return nil, err
	}

	// -------- AUDIT --------
	var sinks audit.MultiSink
	if cfg.Audit.PersistSecurityLog {
		sinks = append(sinks, stores.NewSecurityLogSink(store, logger))
	}
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled && len(sinks) > 0,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sinks)

	b.built = true

	return &Engine{
		config:     cfg,
		logger:     logger,
		now:        now,
		store:      store,
		limiter:    limiter,
		redis:      b.redis,
		sessions:   sessions,
		hasher:     hasher,
		jwtManager: jwtManager,
		totp:       totp,
		mailer:     mailer,
		audit:      dispatcher,
		metrics:    NewMetrics(cfg.Metrics),
	}, nil
}
