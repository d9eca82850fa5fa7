package authcore

import "time"

// SecurityReport summarizes the effective security posture of an Engine,
// for startup logs and admin endpoints. It never contains key material.
type SecurityReport struct {
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	BcryptCost             int
	PasswordMinLength      int
	PasswordHistoryDepth   int
	LockoutThreshold       int
	LockoutDuration        time.Duration
	TOTPDigits             int
	TOTPSkew               uint
	BackupCodeCount        int
	RateLimits             map[string]RateLimitRule
	SessionSecrets         int
	SessionEncrypted       bool
	SessionSecureCookie    bool
	RequireVerifiedEmail   bool
	RevokedTokenRetention  time.Duration
	AuditEnabled           bool
	SecurityLogPersistence bool
	DatabaseDialect        string
	DatabaseMaxRetries     uint64
}

// SecurityReport describes the securityreport operation and its observable behavior.
//
// SecurityReport does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := cloneConfig(e.config)
	return SecurityReport{
		SigningAlgorithm:       cfg.JWT.SigningMethod,
		AccessTTL:              cfg.JWT.AccessTTL,
		RefreshTTL:             cfg.JWT.RefreshTTL,
		BcryptCost:             cfg.Password.BcryptCost,
		PasswordMinLength:      cfg.Password.MinLength,
		PasswordHistoryDepth:   cfg.Password.HistoryDepth,
		LockoutThreshold:       cfg.Lockout.Threshold,
		LockoutDuration:        cfg.Lockout.Duration,
		TOTPDigits:             cfg.MFA.Digits,
		TOTPSkew:               cfg.MFA.Skew,
		BackupCodeCount:        cfg.MFA.BackupCodeCount,
		RateLimits:             cfg.RateLimits.Rules,
		SessionSecrets:         len(cfg.Session.Secrets),
		SessionEncrypted:       len(cfg.Session.EncryptionKey) > 0,
		SessionSecureCookie:    cfg.Session.Secure,
		RequireVerifiedEmail:   cfg.Account.RequireVerifiedEmail,
		RevokedTokenRetention:  cfg.Tokens.RevokedRetention,
		AuditEnabled:           cfg.Audit.Enabled,
		SecurityLogPersistence: cfg.Audit.Enabled && cfg.Audit.PersistSecurityLog,
		DatabaseDialect:        cfg.Database.Dialect,
		DatabaseMaxRetries:     cfg.Database.MaxRetries,
	}
}
