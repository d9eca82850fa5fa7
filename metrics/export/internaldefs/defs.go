package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by authcore APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked after repeated login failures."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh token rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh token reuses that revoked a family."},
	{ID: authcore.MetricMFALoginRequired, Name: "authcore_mfa_login_required_total", Help: "Logins that stopped at the second factor."},
	{ID: authcore.MetricMFALoginSuccess, Name: "authcore_mfa_login_success_total", Help: "Completed second-factor logins."},
	{ID: authcore.MetricMFALoginFailure, Name: "authcore_mfa_login_failure_total", Help: "Rejected second-factor codes."},
	{ID: authcore.MetricMFAEnabled, Name: "authcore_mfa_enabled_total", Help: "MFA enrollments."},
	{ID: authcore.MetricMFADisabled, Name: "authcore_mfa_disabled_total", Help: "MFA removals."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authcore.MetricBackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup code set replacements."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied a request."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logouts from every session."},
	{ID: authcore.MetricAccountCreationSuccess, Name: "authcore_account_creation_success_total", Help: "Created accounts."},
	{ID: authcore.MetricAccountCreationDuplicate, Name: "authcore_account_creation_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: authcore.MetricAccountDeleted, Name: "authcore_account_deleted_total", Help: "Deleted accounts."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricPasswordChangeReuseRejected, Name: "authcore_password_change_reuse_rejected_total", Help: "New passwords rejected by the history check."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests for known accounts."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Password resets with an invalid token."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Re-sent verification emails."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Confirmed email addresses."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Verification attempts with an invalid token."},
	{ID: authcore.MetricTokensCleanedUp, Name: "authcore_tokens_cleaned_up_total", Help: "Expired or revoked token rows removed by cleanup."},
}

// HistogramDefs is an exported constant or variable used by the authentication engine.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Authenticate latency, including silent refresh rotation."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// HistogramBounds are the upper bounds in seconds, matching the engine's
// 5ms..500ms buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundValues are HistogramBounds without +Inf, as floats.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets turns per-bucket counts into the running totals
// Prometheus expects.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
