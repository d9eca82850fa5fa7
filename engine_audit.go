package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
	"go.uber.org/zap"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventAccountLocked            = "account_locked"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventTokensRevoked            = "tokens_revoked"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventMFARequired              = "mfa_required"
	auditEventMFASuccess               = "mfa_success"
	auditEventMFAFailure               = "mfa_failure"
	auditEventTOTPSetupRequested       = "totp_setup_requested"
	auditEventTOTPEnabled              = "totp_enabled"
	auditEventTOTPDisabled             = "totp_disabled"
	auditEventBackupCodesGenerated     = "backup_codes_generated"
	auditEventBackupCodeUsed           = "backup_code_used"
	auditEventBackupCodeFailed         = "backup_code_failed"
	auditEventAccountCreationSuccess   = "account_creation_success"
	auditEventAccountCreationDuplicate = "account_creation_duplicate"
	auditEventAccountDeleted           = "account_deleted"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
)

// AuditErrorCode is the stable error label stored with failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrReauthRequired     AuditErrorCode = "reauth_required"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitAudit queues one event. It must not be called while a transaction is
// open: the security log sink writes through the same pool.
func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	device DeviceContext,
	err error,
	detailsBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var details map[string]string
	if detailsBuilder != nil {
		details = detailsBuilder()
	}

	event := audit.Event{
		Timestamp: e.clock(),
		Action:    action,
		UserID:    userID,
		IP:        device.IP,
		UserAgent: device.UserAgent,
		Success:   success,
		Details:   details,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditFunc adapts emitAudit to the flows package signature.
func (e *Engine) auditFunc(device DeviceContext) func(context.Context, string, bool, string, error, func() map[string]string) {
	return func(ctx context.Context, action string, success bool, userID string, err error, details func() map[string]string) {
		e.emitAudit(ctx, action, success, userID, device, err, details)
	}
}

func (e *Engine) emitRateLimit(ctx context.Context, action, identifier string, device DeviceContext) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", device, ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":      action,
			"identifier": identifier,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var verr *ValidationError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrReauthRequired):
		return auditErrReauthRequired
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrPasswordReused):
		return auditErrPasswordReuse
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	case errors.As(err, &verr):
		return auditErrValidation
	default:
		return auditErrInternal
	}
}

// flushAudit waits for queued audit events to reach the sinks.
func (e *Engine) flushAudit(ctx context.Context) {
	if err := e.audit.Flush(ctx); err != nil {
		e.logger.Warn("audit flush", zap.Error(err))
	}
}
