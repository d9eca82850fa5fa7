package authcore

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

const (
	maxEmailLength    = 254
	maxFullNameLength = 100
)

// SecurityLog is one persisted audit record of a user.
type SecurityLog = stores.SecurityLog

// Register describes the register operation and its observable behavior.
//
// Register creates an unverified account. The user row, its first password
// history entry and an email verification token are written in one
// transaction; the verification mail is requested after commit and a
// delivery failure does not fail the registration. A taken email returns a
// *ValidationError for field "email" wrapping ErrEmailTaken.
func (e *Engine) Register(ctx context.Context, req RegisterRequest, device DeviceContext) (*User, error) {
	if err := e.enforceRateLimit(ctx, ActionRegister, device.IP, device); err != nil {
		return nil, err
	}

	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(req.FullName)
	if len(fullName) > maxFullNameLength {
		return nil, validationError("full_name", "name is too long", nil)
	}
	if err := e.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, e.unavailable("hash password", err)
	}
	rawToken, err := e.GenerateSecureToken()
	if err != nil {
		return nil, e.unavailable("verification token", err)
	}

	now := e.clock()
	var user *User
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		u, err := q.CreateUser(ctx, stores.NewUser{
			Email:        email,
			PasswordHash: hash,
			FullName:     fullName,
			Role:         e.config.Account.DefaultRole,
		}, now)
		if err != nil {
			return err
		}
		if err := e.appendHistory(ctx, q, u.ID, hash, now); err != nil {
			return err
		}
		if _, err := q.CreateEmailVerification(ctx, u.ID, e.HashToken(rawToken),
			now.Add(e.config.Tokens.EmailVerificationTTL), now); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		if errors.Is(err, stores.ErrDuplicate) {
			e.metricInc(MetricAccountCreationDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationDuplicate, false, "", device, ErrEmailTaken, nil)
			return nil, validationError("email", "email is already registered", ErrEmailTaken)
		}
		return nil, e.unavailable("create user", err)
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, user.ID, device, nil, nil)
	e.sendMail(ctx, MailVerification, user.Email, rawToken)
	return user, nil
}

func validateEmail(raw string) (string, error) {
	email := stores.NormalizeEmail(raw)
	if email == "" {
		return "", validationError("email", "email is required", nil)
	}
	if len(email) > maxEmailLength {
		return "", validationError("email", "email is too long", nil)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationError("email", "email is invalid", err)
	}
	return email, nil
}

// GetUser loads the current record of userID.
func (e *Engine) GetUser(ctx context.Context, userID string) (*User, error) {
	return e.loadUser(ctx, userID)
}

// SecurityLogs returns up to limit audit records of userID, newest first.
func (e *Engine) SecurityLogs(ctx context.Context, userID string, limit int) ([]SecurityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	logs, err := e.store.Q().SecurityLogsForUser(ctx, userID, limit)
	if err != nil {
		return nil, e.unavailable("security logs", err, zap.String("user_id", userID))
	}
	return logs, nil
}

/*
====================================
EMAIL VERIFICATION
====================================
*/

// RequestEmailVerification issues a new verification token for userID and
// invalidates every earlier unused one.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string, device DeviceContext) error {
	if err := e.enforceRateLimit(ctx, ActionEmailVerification, userID, device); err != nil {
		return err
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrEmailAlreadyVerified
	}

	rawToken, err := e.GenerateSecureToken()
	if err != nil {
		return e.unavailable("verification token", err)
	}
	now := e.clock()
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		_, err := q.CreateEmailVerification(ctx, user.ID, e.HashToken(rawToken),
			now.Add(e.config.Tokens.EmailVerificationTTL), now)
		return err
	})
	if err != nil {
		return e.unavailable("create email verification", err, zap.String("user_id", user.ID))
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, device, nil, nil)
	e.sendMail(ctx, MailVerification, user.Email, rawToken)
	return nil
}

// VerifyEmail describes the verifyemail operation and its observable behavior.
//
// VerifyEmail consumes token and marks its owner verified in the same
// transaction. Unknown, used and expired tokens return ErrInvalidToken.
func (e *Engine) VerifyEmail(ctx context.Context, token string, device DeviceContext) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	now := e.clock()
	var userID string
	err := e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		uid, err := q.ConsumeEmailVerification(ctx, e.HashToken(token), now)
		if err != nil {
			return err
		}
		userID = uid
		return q.SetEmailVerified(ctx, uid, now)
	})
	if err != nil {
		if isNotFound(err) {
			e.metricInc(MetricEmailVerificationFailure)
			e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, "", device, ErrInvalidToken, nil)
			return nil, ErrInvalidToken
		}
		return nil, e.unavailable("verify email", err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, userID, device, nil, nil)
	return e.loadUser(ctx, userID)
}

/*
====================================
ACCOUNT DELETION
====================================
*/

// DeleteAccount describes the deleteaccount operation and its observable behavior.
//
// DeleteAccount requires the current password. Tokens, backup codes,
// verification and reset tokens and password history are deleted, the
// security log is anonymized and the user row removed, all in one
// transaction. Audit events still queued for the user are written before
// the transaction and again anonymized after it. sess is cleared.
func (e *Engine) DeleteAccount(ctx context.Context, sess *session.Session, userID, currentPassword string, device DeviceContext) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.verifyUserPassword(user, currentPassword); err != nil {
		return err
	}

	e.flushAudit(ctx)
	err = e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
		steps := []func(context.Context, string) error{
			q.DeleteRefreshTokensForUser,
			q.DeleteBackupCodes,
			q.DeleteEmailVerificationsForUser,
			q.DeletePasswordResetsForUser,
			q.DeletePasswordHistory,
			q.AnonymizeSecurityLogs,
			q.DeleteUser,
		}
		for _, step := range steps {
			if err := step(ctx, user.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return e.unavailable("delete account", err, zap.String("user_id", user.ID))
	}

	// Requests racing the deletion may have queued more events.
	e.flushAudit(ctx)
	if err := e.store.Q().AnonymizeSecurityLogs(ctx, user.ID); err != nil {
		e.logger.Warn("anonymize late security logs", zap.String("user_id", user.ID), zap.Error(err))
	}

	if sess != nil {
		sess.Clear()
	}
	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, "", device, nil, nil)
	return nil
}
