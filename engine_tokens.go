package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CleanupReport counts rows removed by [Engine.CleanupExpiredTokens].
type CleanupReport struct {
	RefreshTokens      int64
	EmailVerifications int64
	PasswordResets     int64
}

// Total returns the sum of all removed rows.
func (r CleanupReport) Total() int64 {
	return r.RefreshTokens + r.EmailVerifications + r.PasswordResets
}

// GenerateTokens describes the generatetokens operation and its observable behavior.
//
// GenerateTokens signs an access token and a refresh token for user. An
// empty opts.Family starts a new family. Nothing is persisted; see
// StoreRefreshToken.
// GenerateTokens may return an error when signing fails.
func (e *Engine) GenerateTokens(user *User, opts TokenOptions) (*TokenPair, error) {
	if user == nil || user.ID == "" {
		return nil, ErrUserNotFound
	}
	family := opts.Family
	if family == "" {
		family = uuid.NewString()
	}

	access, accessExp, err := e.jwtManager.CreateAccess(jwtAccessInput(user, opts.MFAVerified))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := e.jwtManager.CreateRefresh(user.ID, family, opts.MFAVerified)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Family:           family,
	}, nil
}

// StoreRefreshToken persists the hash of raw with its device metadata.
// The raw token itself is never stored.
func (e *Engine) StoreRefreshToken(ctx context.Context, userID, raw, family string, device DeviceContext, expiresAt time.Time) error {
	if err := e.storeRefreshToken(ctx, e.store.Q(), userID, raw, family, device, expiresAt); err != nil {
		return e.unavailable("store refresh token", err, zap.String("user_id", userID))
	}
	return nil
}

func (e *Engine) storeRefreshToken(ctx context.Context, q *stores.Queries, userID, raw, family string, device DeviceContext, expiresAt time.Time) error {
	_, err := q.InsertRefreshToken(ctx, stores.NewRefreshToken{
		UserID:     userID,
		TokenHash:  e.HashToken(raw),
		Family:     family,
		DeviceInfo: device.UserAgent,
		IP:         device.IP,
		ExpiresAt:  expiresAt,
	}, e.clock())
	return err
}

// ValidateRefreshToken reports whether raw has an active (unrevoked,
// unexpired) row owned by userID.
func (e *Engine) ValidateRefreshToken(ctx context.Context, userID, raw string) (bool, error) {
	_, err := e.store.Q().ActiveRefreshToken(ctx, userID, e.HashToken(raw), e.clock())
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, e.unavailable("validate refresh token", err, zap.String("user_id", userID))
	}
	return true, nil
}

// DetectTokenReuse describes the detecttokenreuse operation and its observable behavior.
//
// DetectTokenReuse reports whether raw belongs to userID and was already
// revoked. A positive result revokes the token's whole family, including
// tokens issued after it, and raises a security alert.
func (e *Engine) DetectTokenReuse(ctx context.Context, userID, raw string, device DeviceContext) (bool, error) {
	row, err := e.store.Q().RefreshTokenByHash(ctx, e.HashToken(raw))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, e.unavailable("detect token reuse", err, zap.String("user_id", userID))
	}
	if !row.Revoked || row.UserID != userID {
		return false, nil
	}
	if _, err := e.store.Q().RevokeFamily(ctx, row.Family, e.clock()); err != nil {
		return true, e.unavailable("revoke token family", err, zap.String("user_id", userID))
	}
	e.onRefreshReuse(ctx, row, device)
	return true, nil
}

// onRefreshReuse runs after a family was revoked because of reuse.
func (e *Engine) onRefreshReuse(ctx context.Context, row *stores.RefreshToken, device DeviceContext) {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("user_id", row.UserID),
		zap.String("family", row.Family),
		zap.String("ip", device.IP))
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, row.UserID, device, ErrRefreshReuse, func() map[string]string {
		return map[string]string{"family": row.Family}
	})

	user, err := e.store.Q().UserByID(ctx, row.UserID)
	if err != nil {
		return
	}
	e.sendMail(ctx, MailSuspiciousActivity, user.Email, "")
}

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh rotates refreshToken: the presented row is revoked and a new pair
// in the same family is issued and stored, all in one transaction. Exactly
// one of several concurrent calls with the same token wins; the others and
// any later replay are treated as reuse, which revokes the family and
// returns ErrReauthRequired wrapping ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, device DeviceContext) (*TokenPair, *User, error) {
	res := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		Now: e.clock,
		ParseRefresh: func(token string) (flows.RefreshClaims, error) {
			c, err := e.jwtManager.ParseRefresh(token)
			if err != nil {
				return flows.RefreshClaims{}, err
			}
			return flows.RefreshClaims{UserID: c.UID, Family: c.Family, MFA: c.MFA}, nil
		},
		HashToken: e.HashToken,
		IssuePair: func(user *stores.User, family string, mfa bool) (flows.IssuedPair, error) {
			p, err := e.GenerateTokens(user, TokenOptions{Family: family, MFAVerified: mfa})
			if err != nil {
				return flows.IssuedPair{}, err
			}
			return flows.IssuedPair{
				AccessToken:      p.AccessToken,
				AccessExpiresAt:  p.AccessExpiresAt,
				RefreshToken:     p.RefreshToken,
				RefreshExpiresAt: p.RefreshExpiresAt,
			}, nil
		},
		WithinTx: func(ctx context.Context, fn func(ctx context.Context, q flows.RefreshQueries) error) error {
			return e.store.Tx(ctx, func(ctx context.Context, q *stores.Queries) error {
				return fn(ctx, q)
			})
		},
		LookupByHash: e.store.Q().RefreshTokenByHash,
		RevokeFamily: func(ctx context.Context, family string) error {
			_, err := e.store.Q().RevokeFamily(ctx, family, e.clock())
			return err
		},
		Device: flows.Device{IP: device.IP, UserAgent: device.UserAgent},
		OnReuse: func(ctx context.Context, row *stores.RefreshToken) {
			e.onRefreshReuse(ctx, row, device)
		},
	})

	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, device, nil, nil)
		return &TokenPair{
			AccessToken:      res.Pair.AccessToken,
			AccessExpiresAt:  res.Pair.AccessExpiresAt,
			RefreshToken:     res.Pair.RefreshToken,
			RefreshExpiresAt: res.Pair.RefreshExpiresAt,
			Family:           res.Family,
		}, res.User, nil
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshFailure)
		if res.Err != nil && !errors.Is(res.Err, flows.ErrRotationLost) {
			e.logger.Error("family revocation after reuse failed", zap.String("family", res.Family), zap.Error(res.Err))
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrReauthRequired, ErrRefreshReuse)
	case flows.RefreshFailureDecode, flows.RefreshFailureNotFound, flows.RefreshFailureUserMissing:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, device, ErrInvalidToken, nil)
		return nil, nil, ErrReauthRequired
	default:
		e.metricInc(MetricRefreshFailure)
		return nil, nil, e.unavailable("refresh rotation", res.Err, zap.String("user_id", res.UserID))
	}
}

func jwtAccessInput(user *User, mfaVerified bool) jwt.AccessInput {
	return jwt.AccessInput{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		MFA:    mfaVerified,
	}
}

// RevokeAllUserTokens describes the revokealluser tokens operation and its observable behavior.
//
// RevokeAllUserTokens revokes every active refresh token of userID and
// returns how many were revoked. Access tokens stay valid until they expire.
func (e *Engine) RevokeAllUserTokens(ctx context.Context, userID string, device DeviceContext) (int64, error) {
	n, err := e.store.Q().RevokeAllForUser(ctx, userID, e.clock())
	if err != nil {
		return 0, e.unavailable("revoke user tokens", err, zap.String("user_id", userID))
	}
	e.emitAudit(ctx, auditEventTokensRevoked, true, userID, device, nil, func() map[string]string {
		return map[string]string{"count": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

// CleanupExpiredTokens deletes refresh rows past expiry or revoked longer
// than Tokens.RevokedRetention ago, and every expired or used verification
// and reset token. It is meant for a background ticker.
func (e *Engine) CleanupExpiredTokens(ctx context.Context) (CleanupReport, error) {
	now := e.clock()
	q := e.store.Q()
	var (
		report CleanupReport
		err    error
	)
	report.RefreshTokens, err = q.DeleteExpiredRefreshTokens(ctx, now, now.Add(-e.config.Tokens.RevokedRetention))
	if err != nil {
		return report, e.unavailable("cleanup refresh tokens", err)
	}
	report.EmailVerifications, err = q.DeleteExpiredEmailVerifications(ctx, now)
	if err != nil {
		return report, e.unavailable("cleanup email verifications", err)
	}
	report.PasswordResets, err = q.DeleteExpiredPasswordResets(ctx, now)
	if err != nil {
		return report, e.unavailable("cleanup password resets", err)
	}
	if e.metrics != nil {
		e.metrics.Add(MetricTokensCleanedUp, uint64(report.Total()))
	}
	e.logger.Debug("token cleanup",
		zap.Int64("refresh_tokens", report.RefreshTokens),
		zap.Int64("email_verifications", report.EmailVerifications),
		zap.Int64("password_resets", report.PasswordResets))
	return report, nil
}

// issueTokens generates a pair, stores its refresh row and puts both tokens
// into sess (when non-nil).
func (e *Engine) issueTokens(ctx context.Context, sess *session.Session, user *User, opts TokenOptions, device DeviceContext) (*TokenPair, error) {
	pair, err := e.GenerateTokens(user, opts)
	if err != nil {
		return nil, e.unavailable("issue tokens", err, zap.String("user_id", user.ID))
	}
	if err := e.StoreRefreshToken(ctx, user.ID, pair.RefreshToken, pair.Family, device, pair.RefreshExpiresAt); err != nil {
		return nil, err
	}
	if sess != nil {
		sess.SetTokens(pair.AccessToken, pair.RefreshToken)
	}
	return pair, nil
}

func (e *Engine) sendMail(ctx context.Context, kind MailKind, address, token string) {
	if e.mailer == nil || address == "" {
		return
	}
	if err := e.mailer.Send(ctx, kind, address, token); err != nil {
		e.logger.Error("mail delivery failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}
