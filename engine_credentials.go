package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
	"go.uber.org/zap"
)

// IncrementFailedAttempts describes the incrementfailedattempts operation and its observable behavior.
//
// IncrementFailedAttempts records one failed login in a single atomic
// update. When the counter reaches Lockout.Threshold the account is locked
// for Lockout.Duration and locked is true.
func (e *Engine) IncrementFailedAttempts(ctx context.Context, userID string) (locked bool, until time.Time, err error) {
	now := e.clock()
	_, lockedUntil, err := e.store.Q().IncrementFailedAttempts(ctx, userID,
		e.config.Lockout.Threshold, now.Add(e.config.Lockout.Duration), now)
	if err != nil {
		if isNotFound(err) {
			return false, time.Time{}, ErrUserNotFound
		}
		return false, time.Time{}, e.unavailable("increment failed attempts", err, zap.String("user_id", userID))
	}
	if lockedUntil == nil {
		return false, time.Time{}, nil
	}
	return true, *lockedUntil, nil
}

// ResetFailedAttempts clears the failure counter and any lock.
func (e *Engine) ResetFailedAttempts(ctx context.Context, userID string) error {
	if err := e.store.Q().ResetFailedAttempts(ctx, userID, e.clock()); err != nil {
		return e.unavailable("reset failed attempts", err, zap.String("user_id", userID))
	}
	return nil
}

// IsAccountLocked reports whether user has a lock that has not expired yet.
func (e *Engine) IsAccountLocked(user *User) bool {
	return user != nil && user.LockedUntil != nil && user.LockedUntil.After(e.clock())
}

// IsPasswordReused describes the ispasswordreused operation and its observable behavior.
//
// IsPasswordReused compares plain against the last Password.HistoryDepth
// hashes of userID.
// IsPasswordReused may return an error when the history cannot be read.
func (e *Engine) IsPasswordReused(ctx context.Context, userID, plain string) (bool, error) {
	reused, err := flows.RunPasswordReuseCheck(ctx, userID, plain, flows.PasswordReuseDeps{
		Depth:  e.config.Password.HistoryDepth,
		Recent: e.store.Q().RecentPasswordHashes,
		Verify: e.hasher.Verify,
	})
	if err != nil {
		return false, e.unavailable("password history", err, zap.String("user_id", userID))
	}
	return reused, nil
}

// ValidatePassword applies the password policy.
func (e *Engine) ValidatePassword(plain string) error {
	if len(plain) < e.config.Password.MinLength {
		return validationError("password", "password is too short", nil)
	}
	if len(plain) > password.MaxPasswordBytes {
		return validationError("password", "password is too long", password.ErrPasswordTooLong)
	}
	return nil
}

// checkNewPassword runs the policy and the history check shared by the
// change and reset flows.
func (e *Engine) checkNewPassword(ctx context.Context, userID, plain string) error {
	if err := e.ValidatePassword(plain); err != nil {
		return err
	}
	reused, err := e.IsPasswordReused(ctx, userID, plain)
	if err != nil {
		return err
	}
	if reused {
		return validationError("password", "password was used recently", ErrPasswordReused)
	}
	return nil
}

// storePassword replaces the hash and appends it to the capped history.
// Call it inside a transaction.
func (e *Engine) storePassword(ctx context.Context, q *stores.Queries, userID, hash string, now time.Time) error {
	if err := q.UpdatePasswordHash(ctx, userID, hash, now); err != nil {
		return err
	}
	return e.appendHistory(ctx, q, userID, hash, now)
}

func (e *Engine) appendHistory(ctx context.Context, q *stores.Queries, userID, hash string, now time.Time) error {
	if e.config.Password.HistoryDepth <= 0 {
		return nil
	}
	return q.AppendPasswordHistory(ctx, userID, hash, e.config.Password.HistoryDepth, now)
}

// verifyUserPassword re-verifies the password of an authenticated user for
// sensitive operations.
func (e *Engine) verifyUserPassword(user *User, plain string) error {
	if len(plain) > password.MaxPasswordBytes {
		return validationError("password", "password is incorrect", ErrInvalidCredentials)
	}
	ok, err := e.hasher.Verify(plain, user.PasswordHash)
	if err != nil {
		return e.unavailable("verify password", err, zap.String("user_id", user.ID))
	}
	if !ok {
		return validationError("password", "password is incorrect", ErrInvalidCredentials)
	}
	return nil
}

// upgradeHash re-hashes a legacy or under-cost hash after a successful
// verification. Failures are logged only.
func (e *Engine) upgradeHash(ctx context.Context, user *User, plain string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.store.Q().UpdatePasswordHash(ctx, user.ID, hash, e.clock()); err != nil {
		e.logger.Warn("password rehash store failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
}
