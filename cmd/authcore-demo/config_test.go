package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen = ":9090"
log_level = "debug"
cleanup_interval = "30m"

[database]
dialect = "postgres"
dsn = "postgres://authcore@localhost/authcore"

[jwt]
key = "`+b64("0123456789abcdef0123456789abcdef")+`"
access_ttl = "5m"

[session]
secrets = ["`+b64("fedcba9876543210fedcba9876543210")+`"]
secure = false

[rate_limits.login]
max_attempts = 10
window = "1m"
`)

	fc, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if fc.Listen != ":9090" || fc.LogLevel != "debug" || fc.CleanupInterval.Duration != 30*time.Minute {
		t.Fatalf("unexpected top-level values: %+v", fc)
	}
	if fc.Redis.URL != defaultFileConfig().Redis.URL {
		t.Fatalf("expected default redis url, got %q", fc.Redis.URL)
	}

	cfg, err := fc.engineConfig()
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}
	if cfg.Database.Dialect != "postgres" {
		t.Fatalf("expected postgres dialect, got %q", cfg.Database.Dialect)
	}
	if cfg.JWT.AccessTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %s", cfg.JWT.AccessTTL)
	}
	if cfg.Session.Secure {
		t.Fatal("expected secure=false to be honored")
	}
	if got := cfg.RateLimits.Rules[authcore.ActionLogin]; got.MaxAttempts != 10 || got.Window != time.Minute {
		t.Fatalf("unexpected login rule: %+v", got)
	}
	if got := cfg.RateLimits.Rules[authcore.ActionRegister]; got.MaxAttempts != 3 {
		t.Fatalf("expected default register rule to survive, got %+v", got)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
listen = ":9090"
lissen = ":9091"
`)
	_, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "lissen") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestEngineConfigRequiresKeys(t *testing.T) {
	fc := defaultFileConfig()
	if _, err := fc.engineConfig(); err == nil || !strings.Contains(err.Error(), "jwt.key") {
		t.Fatalf("expected missing jwt key error, got %v", err)
	}

	fc.JWT.Key = "not base64!"
	if _, err := fc.engineConfig(); err == nil {
		t.Fatal("expected base64 error")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("loud", false); err == nil {
		t.Fatal("expected invalid level error")
	}
	logger, err := newLogger("warn", true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("debug should be disabled at warn level")
	}
}
