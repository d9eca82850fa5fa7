package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrReauthRequired is returned whenever the caller must log in again:
	// missing or invalid tokens, a reused refresh token, a deleted account.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrInvalidToken is an exported constant or variable used by the authentication engine.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrForbidden is returned when the authenticated user lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrAccountLocked is wrapped by *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is wrapped by *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnknownRateLimitAction is an exported constant or variable used by the authentication engine.
	ErrUnknownRateLimitAction = errors.New("unknown rate limit action")
	// ErrRefreshReuse marks a refresh token presented after it was rotated or
	// revoked. Callers observe ErrReauthRequired.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrMFARequired is returned when the user has MFA enabled and the second
	// step was not completed.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFANotPending is returned by CompleteMFALogin without a live challenge.
	ErrMFANotPending = errors.New("no pending mfa challenge")
	// ErrMFAAlreadyEnabled is an exported constant or variable used by the authentication engine.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFANotEnabled is an exported constant or variable used by the authentication engine.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFASetupNotStarted is returned by ConfirmMFASetup without a setup secret in the session.
	ErrMFASetupNotStarted = errors.New("mfa setup not started")
	// ErrEmailNotVerified is an exported constant or variable used by the authentication engine.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrEmailAlreadyVerified is an exported constant or variable used by the authentication engine.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrEmailTaken is an exported constant or variable used by the authentication engine.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordReused is returned when a new password matches a recent one.
	ErrPasswordReused = errors.New("password was used recently")
	// ErrUserNotFound is an exported constant or variable used by the authentication engine.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable hides store, cache and crypto backend failures.
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports a login refused because the account is locked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitError reports an action refused by the rate limiter.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ValidationError is a field-level input problem suitable for showing next
// to a form field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}
