package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"go.uber.org/zap"
)

func (e *Engine) backupCodeDeps(device DeviceContext) flows.BackupCodeDeps {
	return flows.BackupCodeDeps{
		Count:  e.config.MFA.BackupCodeCount,
		Length: e.config.MFA.BackupCodeLength,
		Replace: func(ctx context.Context, userID string, hashes []string) error {
			now := e.clock()
			return e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
				return q.ReplaceBackupCodes(ctx, userID, hashes, now)
			})
		},
		Consume: func(ctx context.Context, userID, hash string) (bool, error) {
			return e.store.Q().ConsumeBackupCode(ctx, userID, hash, e.clock())
		},
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.auditFunc(device),
		Metrics: flows.BackupCodeMetrics{
			BackupCodeUsed:        int(MetricBackupCodeUsed),
			BackupCodeFailed:      int(MetricBackupCodeFailed),
			BackupCodeRegenerated: int(MetricBackupCodeRegenerated),
		},
		Events: flows.BackupCodeEvents{
			BackupCodesGenerated: auditEventBackupCodesGenerated,
			BackupCodeUsed:       auditEventBackupCodeUsed,
			BackupCodeFailed:     auditEventBackupCodeFailed,
		},
	}
}

// VerifyBackupCode describes the verifybackupcode operation and its observable behavior.
//
// VerifyBackupCode consumes code for userID. Case, spaces and dashes are
// ignored. A code validates exactly once, also under concurrent use.
func (e *Engine) VerifyBackupCode(ctx context.Context, userID, code string, device DeviceContext) (bool, error) {
	err := flows.RunVerifyBackupCode(ctx, userID, code, e.backupCodeDeps(device))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, flows.ErrBackupCodeInvalid):
		return false, nil
	default:
		return false, e.unavailable("verify backup code", err, zap.String("user_id", userID))
	}
}

// BackupCodeStats describes the backupcodestats operation and its observable behavior.
//
// BackupCodeStats reports how many backup codes userID has left. Low is set
// at or below MFA.BackupCodeLowThreshold remaining codes.
func (e *Engine) BackupCodeStats(ctx context.Context, userID string) (*BackupCodeStats, error) {
	c, err := e.store.Q().CountBackupCodes(ctx, userID)
	if err != nil {
		return nil, e.unavailable("count backup codes", err, zap.String("user_id", userID))
	}
	remaining := c.Total - c.Used
	return &BackupCodeStats{
		Total:     c.Total,
		Used:      c.Used,
		Remaining: remaining,
		Low:       remaining <= e.config.MFA.BackupCodeLowThreshold,
		Exhausted: remaining == 0,
	}, nil
}

// RegenerateBackupCodes requires the current password and replaces the
// whole backup code set of userID, used or not. The returned codes are
// shown once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, currentPassword string, device DeviceContext) ([]string, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	if err := e.verifyUserPassword(user, currentPassword); err != nil {
		return nil, err
	}
	codes, err := flows.RunGenerateBackupCodes(ctx, user.ID, e.backupCodeDeps(device))
	if err != nil {
		return nil, e.unavailable("regenerate backup codes", err, zap.String("user_id", user.ID))
	}
	return codes, nil
}
