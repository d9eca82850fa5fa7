package mfa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Config is the TOTP profile. Zero values take the RFC 6238 defaults
// (SHA1, 6 digits, 30s, 20-byte secret). Skew is taken as given: zero
// accepts only the current step.
type Config struct {
	Issuer     string
	Digits     int
	Period     uint
	Skew       uint
	Algorithm  string
	SecretSize uint
}

// TOTP generates and verifies time-based one-time passwords.
type TOTP struct {
	issuer     string
	digits     otp.Digits
	period     uint
	skew       uint
	algorithm  otp.Algorithm
	secretSize uint
}

var ErrInvalidConfig = errors.New("mfa: invalid totp config")

// New validates cfg and returns a TOTP.
func New(cfg Config) (*TOTP, error) {
	t := &TOTP{
		issuer:     strings.TrimSpace(cfg.Issuer),
		period:     cfg.Period,
		skew:       cfg.Skew,
		secretSize: cfg.SecretSize,
	}
	if t.issuer == "" || strings.Contains(t.issuer, ":") {
		return nil, fmt.Errorf("%w: issuer %q", ErrInvalidConfig, cfg.Issuer)
	}
	switch cfg.Digits {
	case 0, 6:
		t.digits = otp.DigitsSix
	case 8:
		t.digits = otp.DigitsEight
	default:
		return nil, fmt.Errorf("%w: digits %d", ErrInvalidConfig, cfg.Digits)
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "SHA1":
		t.algorithm = otp.AlgorithmSHA1
	case "SHA256":
		t.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		t.algorithm = otp.AlgorithmSHA512
	default:
		return nil, fmt.Errorf("%w: algorithm %q", ErrInvalidConfig, cfg.Algorithm)
	}
	if t.period == 0 {
		t.period = 30
	}
	if t.secretSize == 0 {
		t.secretSize = 20
	}
	if t.skew > 2 {
		return nil, fmt.Errorf("%w: skew %d", ErrInvalidConfig, cfg.Skew)
	}
	return t, nil
}

// Digits reports the configured code length.
func (t *TOTP) Digits() int { return t.digits.Length() }

// Generate creates a new secret for account and its provisioning URI.
func (t *TOTP) Generate(account string) (secret, uri string, err error) {
	account = strings.TrimSpace(account)
	if account == "" || strings.Contains(account, ":") {
		return "", "", fmt.Errorf("mfa: invalid account name %q", account)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      t.period,
		Digits:      t.digits,
		Algorithm:   t.algorithm,
		SecretSize:  t.secretSize,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether code matches secret at now within the skew.
// Malformed codes and secrets are simply invalid.
func (t *TOTP) Validate(code, secret string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != t.Digits() || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), t.opts())
	return err == nil && ok
}

// Code returns the code for secret at now. Used by tests and tooling.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now.UTC(), t.opts())
}

// LooksLikeCode reports whether s has the shape of a TOTP code rather than
// a backup code.
func (t *TOTP) LooksLikeCode(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != t.Digits() {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.period,
		Skew:      t.skew,
		Digits:    t.digits,
		Algorithm: t.algorithm,
	}
}
