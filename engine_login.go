package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// Login describes the login operation and its observable behavior.
//
// Login checks the login rate limit for the client IP, verifies the
// password and applies the lockout policy. Unknown emails spend the same
// hashing work as known ones and return ErrInvalidCredentials. A locked
// account returns *LockedError before the password is looked at.
//
// When the user has MFA enabled no tokens are issued: the session receives
// a pending challenge and the result has MFARequired set. Otherwise the
// session receives a fresh token pair.
func (e *Engine) Login(ctx context.Context, sess *session.Session, email, plain string, device DeviceContext) (*LoginResult, error) {
	if sess == nil {
		sess = session.New()
	}
	user, err := e.store.Q().UserByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return nil, e.unavailable("login lookup", err)
		}
		user = nil
	}

	// An active lock is reported as such and does not count against the
	// client's login window.
	now := e.clock()
	if user != nil && user.LockedUntil != nil && user.LockedUntil.After(now) {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, device, ErrAccountLocked, nil)
		return nil, &LockedError{Until: *user.LockedUntil}
	}

	limitKey := device.IP
	if limitKey == "" {
		limitKey = stores.NormalizeEmail(email)
	}
	if err := e.enforceRateLimit(ctx, ActionLogin, limitKey, device); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	if user == nil {
		e.hasher.DummyVerify(plain)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", device, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if user.LockedUntil != nil {
		// The lock ran out; start counting from zero again.
		if err := e.ResetFailedAttempts(ctx, user.ID); err != nil {
			return nil, err
		}
		user.FailedLoginAttempts, user.LockedUntil = 0, nil
	}

	ok := false
	if len(plain) <= password.MaxPasswordBytes {
		ok, err = e.hasher.Verify(plain, user.PasswordHash)
		if err != nil {
			return nil, e.unavailable("login verify", err, zap.String("user_id", user.ID))
		}
	} else {
		e.hasher.DummyVerify(plain)
	}
	if !ok {
		return nil, e.loginFailed(ctx, user, device)
	}

	if user.FailedLoginAttempts > 0 {
		if err := e.ResetFailedAttempts(ctx, user.ID); err != nil {
			return nil, err
		}
		user.FailedLoginAttempts = 0
	}
	e.upgradeHash(ctx, user, plain)

	if e.config.Account.RequireVerifiedEmail && !user.IsVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, device, ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	e.resetRateLimitQuietly(ctx, ActionLogin, limitKey)

	if user.MFAEnabled {
		sess.ClearTokens()
		sess.SetPendingMFA(user.ID, now.Add(e.config.MFA.LoginChallengeTTL))
		e.metricInc(MetricMFALoginRequired)
		e.emitAudit(ctx, auditEventMFARequired, true, user.ID, device, nil, nil)
		return &LoginResult{User: user, MFARequired: true}, nil
	}

	pair, err := e.issueTokens(ctx, sess, user, TokenOptions{}, device)
	if err != nil {
		return nil, err
	}
	sess.ClearPendingMFA()
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, device, nil, nil)
	return &LoginResult{User: user, Tokens: pair}, nil
}

func (e *Engine) loginFailed(ctx context.Context, user *User, device DeviceContext) error {
	e.metricInc(MetricLoginFailure)
	locked, until, err := e.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, device, ErrInvalidCredentials, nil)
	if locked {
		e.metricInc(MetricAccountLocked)
		e.logger.Warn("account locked after failed logins",
			zap.String("user_id", user.ID),
			zap.String("ip", device.IP),
			zap.Time("locked_until", until))
		e.emitAudit(ctx, auditEventAccountLocked, false, user.ID, device, ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": until.Format(time.RFC3339)}
		})
		e.sendMail(ctx, MailSuspiciousActivity, user.Email, "")
	}
	return ErrInvalidCredentials
}

// CompleteMFALogin describes the completemfalogin operation and its observable behavior.
//
// CompleteMFALogin finishes a login left pending by Login. A code shaped
// like a TOTP code is checked against the authenticator secret; anything
// else is tried as a backup code. A wrong code returns a *ValidationError
// for field "code" and keeps the challenge alive until it expires.
func (e *Engine) CompleteMFALogin(ctx context.Context, sess *session.Session, code string, device DeviceContext) (*MFALoginResult, error) {
	if sess == nil {
		return nil, ErrMFANotPending
	}
	userID := sess.PendingMFA(e.clock())
	if userID == "" {
		sess.ClearPendingMFA()
		return nil, ErrMFANotPending
	}
	if err := e.enforceRateLimit(ctx, ActionMFA, userID, device); err != nil {
		return nil, err
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			sess.ClearPendingMFA()
			return nil, ErrMFANotPending
		}
		return nil, err
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		sess.ClearPendingMFA()
		return nil, ErrMFANotPending
	}

	code = strings.TrimSpace(code)
	usedBackup := false
	switch {
	case code == "":
		return nil, e.mfaFailed(ctx, user, device)
	case e.totp.LooksLikeCode(code):
		if !e.totp.Validate(code, user.MFASecret, e.clock()) {
			return nil, e.mfaFailed(ctx, user, device)
		}
	default:
		if err := flows.RunVerifyBackupCode(ctx, user.ID, code, e.backupCodeDeps(device)); err != nil {
			if errors.Is(err, flows.ErrBackupCodeInvalid) {
				return nil, e.mfaFailed(ctx, user, device)
			}
			return nil, e.unavailable("verify backup code", err, zap.String("user_id", user.ID))
		}
		usedBackup = true
	}

	sess.ClearPendingMFA()
	e.resetRateLimitQuietly(ctx, ActionMFA, user.ID)
	pair, err := e.issueTokens(ctx, sess, user, TokenOptions{MFAVerified: true}, device)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFALoginSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, user.ID, device, nil, func() map[string]string {
		if usedBackup {
			return map[string]string{"method": "backup_code"}
		}
		return map[string]string{"method": "totp"}
	})

	res := &MFALoginResult{User: user, Tokens: pair, UsedBackupCode: usedBackup}
	if usedBackup {
		stats, err := e.BackupCodeStats(ctx, user.ID)
		if err == nil {
			res.BackupCodes = stats
			if stats.Low {
				e.logger.Info("backup codes running low",
					zap.String("user_id", user.ID),
					zap.Int("remaining", stats.Remaining))
			}
		}
	}
	return res, nil
}

func (e *Engine) mfaFailed(ctx context.Context, user *User, device DeviceContext) error {
	e.metricInc(MetricMFALoginFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, user.ID, device, ErrInvalidCredentials, nil)
	return validationError("code", "invalid verification code", ErrInvalidCredentials)
}

// Logout revokes the refresh token held by sess and clears its tokens.
func (e *Engine) Logout(ctx context.Context, sess *session.Session, device DeviceContext) error {
	if sess == nil {
		return nil
	}
	var userID string
	if sess.RefreshToken != "" {
		if c, err := e.jwtManager.ParseRefresh(sess.RefreshToken); err == nil {
			userID = c.UID
		}
		if _, err := e.store.Q().RevokeRefreshToken(ctx, e.HashToken(sess.RefreshToken), e.clock()); err != nil {
			return e.unavailable("logout revoke", err)
		}
	}
	sess.ClearTokens()
	sess.ClearPendingMFA()
	sess.ClearMFASetupSecret()
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, userID, device, nil, nil)
	return nil
}

// LogoutAll revokes every refresh token of userID and clears sess.
func (e *Engine) LogoutAll(ctx context.Context, sess *session.Session, userID string, device DeviceContext) error {
	if _, err := e.RevokeAllUserTokens(ctx, userID, device); err != nil {
		return err
	}
	if sess != nil {
		sess.ClearTokens()
		sess.ClearPendingMFA()
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, device, nil, nil)
	return nil
}
