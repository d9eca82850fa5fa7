package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// BeginMFASetup describes the beginmfasetup operation and its observable behavior.
//
// BeginMFASetup creates a TOTP secret for userID and keeps it in sess only.
// Nothing is persisted until ConfirmMFASetup succeeds, so an abandoned
// setup leaves the account untouched. Calling it again replaces the
// pending secret.
func (e *Engine) BeginMFASetup(ctx context.Context, sess *session.Session, userID string, device DeviceContext) (*MFASetup, error) {
	if sess == nil {
		return nil, ErrMFASetupNotStarted
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, uri, err := e.totp.Generate(user.Email)
	if err != nil {
		return nil, e.unavailable("totp generate", err, zap.String("user_id", user.ID))
	}
	sess.SetMFASetupSecret(secret)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, user.ID, device, nil, nil)
	return &MFASetup{Secret: secret, URI: uri}, nil
}

// ConfirmMFASetup describes the confirmmfasetup operation and its observable behavior.
//
// ConfirmMFASetup verifies code against the pending secret. On success the
// secret, the mfa flag and a new backup code set are written in one
// transaction, the pending secret is cleared and the session gets a fresh
// MFA-verified token pair. A wrong code returns a *ValidationError for
// field "code" and keeps the pending secret.
func (e *Engine) ConfirmMFASetup(ctx context.Context, sess *session.Session, userID, code string, device DeviceContext) (*MFAConfirmation, error) {
	if sess == nil || sess.MFASetupSecret == "" {
		return nil, ErrMFASetupNotStarted
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		sess.ClearMFASetupSecret()
		return nil, ErrMFAAlreadyEnabled
	}
	if err := e.enforceRateLimit(ctx, ActionMFA, user.ID, device); err != nil {
		return nil, err
	}

	secret := sess.MFASetupSecret
	if !e.totp.Validate(code, secret, e.clock()) {
		e.emitAudit(ctx, auditEventMFAFailure, false, user.ID, device, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"stage": "setup"}
		})
		return nil, validationError("code", "invalid verification code", ErrInvalidCredentials)
	}

	codes, hashes, err := flows.GenerateBackupCodes(user.ID, e.config.MFA.BackupCodeCount, e.config.MFA.BackupCodeLength, nil)
	if err != nil {
		return nil, e.unavailable("generate backup codes", err, zap.String("user_id", user.ID))
	}
	now := e.clock()
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		if err := q.EnableMFA(ctx, user.ID, secret, now); err != nil {
			return err
		}
		return q.ReplaceBackupCodes(ctx, user.ID, hashes, now)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, e.unavailable("enable mfa", err, zap.String("user_id", user.ID))
	}
	user.MFAEnabled, user.MFASecret = true, secret
	sess.ClearMFASetupSecret()
	e.resetRateLimitQuietly(ctx, ActionMFA, user.ID)

	// The pre-MFA refresh token of this session must not outlive the upgrade.
	if sess.RefreshToken != "" {
		if _, err := e.store.Q().RevokeRefreshToken(ctx, e.HashToken(sess.RefreshToken), now); err != nil {
			e.logger.Warn("revoke pre-mfa refresh token failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	pair, err := e.issueTokens(ctx, sess, user, TokenOptions{MFAVerified: true}, device)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMFAEnabled)
	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, user.ID, device, nil, nil)
	e.sendMail(ctx, MailMFAEnabled, user.Email, "")
	return &MFAConfirmation{BackupCodes: codes, Tokens: pair}, nil
}

// DisableMFA describes the disablemfa operation and its observable behavior.
//
// DisableMFA requires the current password. It clears the secret, deletes
// every backup code and revokes every refresh token of the user in one
// transaction; the calling session then receives a fresh pair.
func (e *Engine) DisableMFA(ctx context.Context, sess *session.Session, userID, currentPassword string, device DeviceContext) (*TokenPair, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	if err := e.verifyUserPassword(user, currentPassword); err != nil {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, user.ID, device, err, nil)
		return nil, err
	}

	now := e.clock()
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		if err := q.DisableMFA(ctx, user.ID, now); err != nil {
			return err
		}
		if err := q.DeleteBackupCodes(ctx, user.ID); err != nil {
			return err
		}
		_, err := q.RevokeAllForUser(ctx, user.ID, now)
		return err
	})
	if err != nil {
		return nil, e.unavailable("disable mfa", err, zap.String("user_id", user.ID))
	}
	user.MFAEnabled, user.MFASecret = false, ""

	pair, err := e.issueTokens(ctx, sess, user, TokenOptions{}, device)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, user.ID, device, nil, nil)
	e.sendMail(ctx, MailMFADisabled, user.Email, "")
	return pair, nil
}

// VerifyMFAToken reports whether code is valid for secret right now,
// allowing the configured clock skew.
func (e *Engine) VerifyMFAToken(code, secret string) bool {
	return e.totp.Validate(code, secret, e.clock())
}
