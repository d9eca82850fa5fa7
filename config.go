package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
)

// Rate-limited actions.
const (
	ActionLogin             = "login"
	ActionRegister          = "register"
	ActionMFA               = "mfa"
	ActionPasswordReset     = "password_reset"
	ActionEmailVerification = "email_verification"
)

// Config defines a public type used by authcore APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT        JWTConfig
	Password   PasswordConfig
	Lockout    LockoutConfig
	MFA        MFAConfig
	RateLimits RateLimitConfig
	Session    SessionConfig
	Tokens     TokensConfig
	Account    AccountConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Database   DatabaseConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls bearer token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls hashing and password policy.
type PasswordConfig struct {
	BcryptCost     int
	MinLength      int
	HistoryDepth   int
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the failed-login lock.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP and backup codes.
type MFAConfig struct {
	Issuer                 string
	Digits                 int
	Period                 uint
	Skew                   uint
	Algorithm              string
	BackupCodeCount        int
	BackupCodeLength       int
	BackupCodeLowThreshold int
	LoginChallengeTTL      time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule allows MaxAttempts per fixed Window.
type RateLimitRule struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig holds one rule per action.
type RateLimitConfig struct {
	RedisPrefix string
	Rules       map[string]RateLimitRule
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	CookieName    string
	Secrets       [][]byte
	EncryptionKey []byte
	Path          string
	Domain        string
	Secure        bool
	SameSite      http.SameSite
	MaxAge        time.Duration
}

/*
====================================
TOKENS CONFIG
====================================
*/

// TokensConfig controls one-time tokens and refresh row retention.
type TokensConfig struct {
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	// RevokedRetention keeps revoked refresh rows around so reuse of a
	// rotated token stays detectable.
	RevokedRetention time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls registration defaults.
type AccountConfig struct {
	DefaultRole          string
	RequireVerifiedEmail bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// PersistSecurityLog writes events into the security_logs table.
	PersistSecurityLog bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DATABASE CONFIG
====================================
*/

// DatabaseConfig controls the relational store.
type DatabaseConfig struct {
	Dialect        string // "postgres" or "sqlite"
	MaxRetries     uint64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultConfig returns the production defaults. JWT keys and session
// secrets are empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
			Audience:      "authcore",
		},
		Password: PasswordConfig{
			BcryptCost:     12,
			MinLength:      8,
			HistoryDepth:   5,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		MFA: MFAConfig{
			Issuer:                 "authcore",
			Digits:                 6,
			Period:                 30,
			Skew:                   1,
			Algorithm:              "SHA1",
			BackupCodeCount:        10,
			BackupCodeLength:       10,
			BackupCodeLowThreshold: 3,
			LoginChallengeTTL:      5 * time.Minute,
		},
		RateLimits: RateLimitConfig{
			RedisPrefix: "rl",
			Rules: map[string]RateLimitRule{
				ActionLogin:             {MaxAttempts: 5, Window: 15 * time.Minute},
				ActionRegister:          {MaxAttempts: 3, Window: time.Hour},
				ActionMFA:               {MaxAttempts: 5, Window: 5 * time.Minute},
				ActionPasswordReset:     {MaxAttempts: 3, Window: time.Hour},
				ActionEmailVerification: {MaxAttempts: 5, Window: time.Hour},
			},
		},
		Session: SessionConfig{
			CookieName: "authcore_session",
			Path:       "/",
			Secure:     true,
			SameSite:   http.SameSiteLaxMode,
			MaxAge:     7 * 24 * time.Hour,
		},
		Tokens: TokensConfig{
			EmailVerificationTTL: 24 * time.Hour,
			PasswordResetTTL:     time.Hour,
			RevokedRetention:     7 * 24 * time.Hour,
		},
		Account: AccountConfig{
			DefaultRole:          "user",
			RequireVerifiedEmail: true,
		},
		Audit: AuditConfig{
			Enabled:            true,
			BufferSize:         1024,
			DropIfFull:         true,
			PersistSecurityLog: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Database: DatabaseConfig{
			Dialect:        string(stores.DialectPostgres),
			MaxRetries:     3,
			RetryBaseDelay: 10 * time.Millisecond,
			RetryMaxDelay:  200 * time.Millisecond,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Session.EncryptionKey = cloneBytes(cfg.Session.EncryptionKey)
	if cfg.Session.Secrets != nil {
		out.Session.Secrets = make([][]byte, len(cfg.Session.Secrets))
		for i, s := range cfg.Session.Secrets {
			out.Session.Secrets[i] = cloneBytes(s)
		}
	}
	if cfg.RateLimits.Rules != nil {
		out.RateLimits.Rules = make(map[string]RateLimitRule, len(cfg.RateLimits.Rules))
		for k, v := range cfg.RateLimits.Rules {
			out.RateLimits.Rules[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first violation found, section by section.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Password
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		return errors.New("Password BcryptCost must be within 4..31")
	}
	if c.Password.MinLength < 8 || c.Password.MinLength > password.MaxPasswordBytes {
		return fmt.Errorf("Password MinLength must be within 8..%d", password.MaxPasswordBytes)
	}
	if c.Password.HistoryDepth < 0 {
		return errors.New("Password HistoryDepth must be >= 0")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// MFA
	if strings.TrimSpace(c.MFA.Issuer) == "" {
		return errors.New("MFA Issuer must not be empty")
	}
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.Period == 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.BackupCodeCount <= 0 || c.MFA.BackupCodeLength < 8 {
		return errors.New("MFA BackupCodeCount must be > 0 and BackupCodeLength >= 8")
	}
	if c.MFA.BackupCodeLowThreshold < 0 || c.MFA.BackupCodeLowThreshold >= c.MFA.BackupCodeCount {
		return errors.New("MFA BackupCodeLowThreshold must be within 0..BackupCodeCount-1")
	}
	if c.MFA.LoginChallengeTTL <= 0 {
		return errors.New("MFA LoginChallengeTTL must be > 0")
	}

	// Rate limits
	for _, action := range []string{ActionLogin, ActionRegister, ActionMFA, ActionPasswordReset, ActionEmailVerification} {
		rule, ok := c.RateLimits.Rules[action]
		if !ok {
			return fmt.Errorf("RateLimits missing rule for %q", action)
		}
		if rule.MaxAttempts <= 0 || rule.Window <= 0 {
			return fmt.Errorf("RateLimits rule for %q must have MaxAttempts > 0 and Window > 0", action)
		}
	}

	// Session
	if len(c.Session.Secrets) == 0 {
		return errors.New("Session requires at least one signing secret")
	}
	for i, s := range c.Session.Secrets {
		if len(s) < 32 {
			return fmt.Errorf("Session secret %d must be at least 32 bytes", i)
		}
	}
	switch len(c.Session.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return errors.New("Session EncryptionKey must be 16, 24 or 32 bytes")
	}
	if c.Session.MaxAge < 0 {
		return errors.New("Session MaxAge must be >= 0")
	}

	// Tokens
	if c.Tokens.EmailVerificationTTL <= 0 || c.Tokens.PasswordResetTTL <= 0 {
		return errors.New("Tokens TTLs must be > 0")
	}
	if c.Tokens.RevokedRetention < 0 {
		return errors.New("Tokens RevokedRetention must be >= 0")
	}

	// Account
	if strings.TrimSpace(c.Account.DefaultRole) == "" {
		return errors.New("Account DefaultRole must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Database
	if _, err := stores.ParseDialect(c.Database.Dialect); err != nil {
		return err
	}
	if c.Database.RetryBaseDelay < 0 || c.Database.RetryMaxDelay < 0 {
		return errors.New("Database retry delays must be >= 0")
	}
	return nil
}
