package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/MrEthical07/authcore"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// duration lets the file spell durations as "15m" or "168h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileConfig is the on-disk shape of the demo configuration. Zero values
// keep the authcore defaults.
type fileConfig struct {
	Listen   string `toml:"listen"`
	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`

	CleanupInterval duration `toml:"cleanup_interval"`
	AdminRole       string   `toml:"admin_role"`

	Database struct {
		Dialect string `toml:"dialect"`
		DSN     string `toml:"dsn"`
	} `toml:"database"`

	Redis struct {
		URL string `toml:"url"`
	} `toml:"redis"`

	JWT struct {
		Key       string   `toml:"key"` // base64
		Issuer    string   `toml:"issuer"`
		AccessTTL duration `toml:"access_ttl"`
	} `toml:"jwt"`

	Session struct {
		Secrets       []string `toml:"secrets"` // base64, newest first
		EncryptionKey string   `toml:"encryption_key"`
		Secure        *bool    `toml:"secure"`
	} `toml:"session"`

	Password struct {
		BcryptCost int `toml:"bcrypt_cost"`
	} `toml:"password"`

	MFA struct {
		Issuer string `toml:"issuer"`
	} `toml:"mfa"`

	RateLimits map[string]struct {
		MaxAttempts int      `toml:"max_attempts"`
		Window      duration `toml:"window"`
	} `toml:"rate_limits"`

	Metrics struct {
		Histograms bool `toml:"histograms"`
	} `toml:"metrics"`
}

func defaultFileConfig() fileConfig {
	var fc fileConfig
	fc.Listen = ":8080"
	fc.LogLevel = "info"
	fc.CleanupInterval = duration{time.Hour}
	fc.AdminRole = "admin"
	fc.Database.Dialect = "sqlite"
	fc.Database.DSN = "file:authcore-demo.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	fc.Redis.URL = "redis://localhost:6379/0"
	return fc
}

// loadConfig reads path over the demo defaults. An empty path returns the
// defaults.
func loadConfig(path string) (fileConfig, error) {
	fc := defaultFileConfig()
	if path == "" {
		return fc, nil
	}
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fileConfig{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return fc, nil
}

// engineConfig maps the file onto authcore.Config.
func (fc fileConfig) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	cfg.Database.Dialect = fc.Database.Dialect

	key, err := decodeKey("jwt.key", fc.JWT.Key)
	if err != nil {
		return cfg, err
	}
	cfg.JWT.PrivateKey = key
	if fc.JWT.Issuer != "" {
		cfg.JWT.Issuer = fc.JWT.Issuer
		cfg.JWT.Audience = fc.JWT.Issuer
	}
	if fc.JWT.AccessTTL.Duration > 0 {
		cfg.JWT.AccessTTL = fc.JWT.AccessTTL.Duration
	}

	for i, s := range fc.Session.Secrets {
		secret, err := decodeKey(fmt.Sprintf("session.secrets[%d]", i), s)
		if err != nil {
			return cfg, err
		}
		cfg.Session.Secrets = append(cfg.Session.Secrets, secret)
	}
	if fc.Session.EncryptionKey != "" {
		if cfg.Session.EncryptionKey, err = decodeKey("session.encryption_key", fc.Session.EncryptionKey); err != nil {
			return cfg, err
		}
	}
	if fc.Session.Secure != nil {
		cfg.Session.Secure = *fc.Session.Secure
	}
	cfg.Session.SameSite = http.SameSiteLaxMode

	if fc.Password.BcryptCost > 0 {
		cfg.Password.BcryptCost = fc.Password.BcryptCost
	}
	if fc.MFA.Issuer != "" {
		cfg.MFA.Issuer = fc.MFA.Issuer
	}
	for action, r := range fc.RateLimits {
		cfg.RateLimits.Rules[action] = authcore.RateLimitRule{MaxAttempts: r.MaxAttempts, Window: r.Window.Duration}
	}
	cfg.Metrics.EnableLatencyHistograms = fc.Metrics.Histograms

	return cfg, cfg.Validate()
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// newLogger builds a JSON production logger or a console development
// logger at the configured level.
func newLogger(level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
