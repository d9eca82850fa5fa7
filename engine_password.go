package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

var errResetOwnerChanged = errors.New("password reset token owner changed")

// ChangePassword describes the changepassword operation and its observable behavior.
//
// ChangePassword requires the current password, applies the password
// policy and rejects the last Password.HistoryDepth passwords. The new hash,
// its history entry and the revocation of every refresh token of the user
// are written in one transaction. sess then receives a fresh pair.
func (e *Engine) ChangePassword(ctx context.Context, sess *session.Session, userID, currentPassword, newPassword string, device DeviceContext) (*TokenPair, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.verifyUserPassword(user, currentPassword); err != nil {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, user.ID, device, err, nil)
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Field = "current_password"
		}
		return nil, err
	}
	if err := e.checkNewPassword(ctx, user.ID, newPassword); err != nil {
		if errors.Is(err, ErrPasswordReused) {
			e.metricInc(MetricPasswordChangeReuseRejected)
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, user.ID, device, err, nil)
		}
		return nil, err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, e.unavailable("hash password", err, zap.String("user_id", user.ID))
	}
	now := e.clock()
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		if err := e.storePassword(ctx, q, user.ID, hash, now); err != nil {
			return err
		}
		_, err := q.RevokeAllForUser(ctx, user.ID, now)
		return err
	})
	if err != nil {
		return nil, e.unavailable("change password", err, zap.String("user_id", user.ID))
	}
	user.PasswordHash = hash

	pair, err := e.issueTokens(ctx, sess, user, TokenOptions{MFAVerified: e.sessionMFAVerified(sess)}, device)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, user.ID, device, nil, nil)
	return pair, nil
}

// sessionMFAVerified carries the mfa claim of the session's current tokens
// over to a pair issued for the same session.
func (e *Engine) sessionMFAVerified(sess *session.Session) bool {
	if sess == nil {
		return false
	}
	if c, err := e.jwtManager.ParseAccess(sess.AccessToken); err == nil {
		return c.MFA
	}
	if c, err := e.jwtManager.ParseRefresh(sess.RefreshToken); err == nil {
		return c.MFA
	}
	return false
}

/*
====================================
PASSWORD RESET
====================================
*/

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset mails a reset token to the owner of email. Unknown
// emails return nil as well so the call does not reveal which accounts
// exist.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string, device DeviceContext) error {
	limitKey := device.IP
	if limitKey == "" {
		limitKey = stores.NormalizeEmail(email)
	}
	if err := e.enforceRateLimit(ctx, ActionPasswordReset, limitKey, device); err != nil {
		return err
	}

	user, err := e.store.Q().UserByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", device, ErrUserNotFound, nil)
			return nil
		}
		return e.unavailable("password reset lookup", err)
	}

	rawToken, err := e.GenerateSecureToken()
	if err != nil {
		return e.unavailable("reset token", err)
	}
	now := e.clock()
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		_, err := q.CreatePasswordReset(ctx, user.ID, e.HashToken(rawToken),
			now.Add(e.config.Tokens.PasswordResetTTL), now)
		return err
	})
	if err != nil {
		return e.unavailable("create password reset", err, zap.String("user_id", user.ID))
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, device, nil, nil)
	e.sendMail(ctx, MailPasswordReset, user.Email, rawToken)
	return nil
}

// ValidatePasswordResetToken reports whether token is known, unused and
// unexpired. It never consumes the token.
func (e *Engine) ValidatePasswordResetToken(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	row, err := e.store.Q().PasswordResetByHash(ctx, e.HashToken(token))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, e.unavailable("validate reset token", err)
	}
	return row.Valid(e.clock()), nil
}

// ResetPassword describes the resetpassword operation and its observable behavior.
//
// ResetPassword consumes token and sets newPassword. Consumption, the new
// hash, its history entry, the revocation of every refresh token and the
// clearing of any lockout happen in one transaction, so a token can only
// ever set one password.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string, device DeviceContext) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	tokenHash := e.HashToken(token)
	row, err := e.store.Q().PasswordResetByHash(ctx, tokenHash)
	if err != nil {
		if isNotFound(err) {
			return e.resetFailed(ctx, "", device)
		}
		return e.unavailable("reset token lookup", err)
	}
	now := e.clock()
	if !row.Valid(now) {
		return e.resetFailed(ctx, row.UserID, device)
	}

	if err := e.checkNewPassword(ctx, row.UserID, newPassword); err != nil {
		if errors.Is(err, ErrPasswordReused) {
			e.metricInc(MetricPasswordChangeReuseRejected)
		}
		return err
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.unavailable("hash password", err, zap.String("user_id", row.UserID))
	}

	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		uid, err := q.ConsumePasswordReset(ctx, tokenHash, now)
		if err != nil {
			return err
		}
		if uid != row.UserID {
			return errResetOwnerChanged
		}
		if err := e.storePassword(ctx, q, uid, hash, now); err != nil {
			return err
		}
		if _, err := q.RevokeAllForUser(ctx, uid, now); err != nil {
			return err
		}
		return q.ResetFailedAttempts(ctx, uid, now)
	})
	if err != nil {
		if isNotFound(err) || errors.Is(err, errResetOwnerChanged) {
			return e.resetFailed(ctx, row.UserID, device)
		}
		return e.unavailable("reset password", err, zap.String("user_id", row.UserID))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, row.UserID, device, nil, nil)
	return nil
}

func (e *Engine) resetFailed(ctx context.Context, userID string, device DeviceContext) error {
	e.metricInc(MetricPasswordResetConfirmFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, device, ErrInvalidToken, nil)
	return ErrInvalidToken
}
