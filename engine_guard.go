package authcore

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// Authenticate describes the authenticate operation and its observable behavior.
//
// Authenticate resolves the user behind sess. An invalid or expired access
// token is silently replaced by rotating the refresh token; the new pair is
// written into sess. The user row is always reloaded, so deleted accounts
// and revoked verification are noticed on the next request.
//
// Every failure clears both tokens from sess. Possible errors are
// ErrReauthRequired (possibly wrapping ErrRefreshReuse), ErrMFARequired,
// ErrEmailNotVerified and ErrUnavailable.
func (e *Engine) Authenticate(ctx context.Context, sess *session.Session, device DeviceContext) (*User, error) {
	user, _, _, err := e.authenticate(ctx, sess, device)
	return user, err
}

func (e *Engine) authenticate(ctx context.Context, sess *session.Session, device DeviceContext) (*User, *jwt.AccessClaims, bool, error) {
	if e.metrics != nil {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}
	if sess == nil || (sess.AccessToken == "" && sess.RefreshToken == "") {
		return nil, nil, false, ErrReauthRequired
	}

	var (
		claims    *jwt.AccessClaims
		user      *User
		refreshed bool
		err       error
	)
	if sess.AccessToken != "" {
		claims, err = e.jwtManager.ParseAccess(sess.AccessToken)
	}
	if claims == nil || err != nil {
		if sess.RefreshToken == "" {
			sess.ClearTokens()
			return nil, nil, false, ErrReauthRequired
		}
		pair, u, rerr := e.Refresh(ctx, sess.RefreshToken, device)
		if rerr != nil {
			sess.ClearTokens()
			return nil, nil, false, rerr
		}
		sess.SetTokens(pair.AccessToken, pair.RefreshToken)
		claims, err = e.jwtManager.ParseAccess(pair.AccessToken)
		if err != nil {
			sess.ClearTokens()
			return nil, nil, false, e.unavailable("parse rotated access token", err)
		}
		user, refreshed = u, true
	} else {
		user, err = e.loadUser(ctx, claims.UID)
		if err != nil {
			sess.ClearTokens()
			if errors.Is(err, ErrUserNotFound) {
				return nil, nil, false, ErrReauthRequired
			}
			return nil, nil, false, err
		}
	}

	if user.MFAEnabled && !claims.MFA {
		sess.ClearTokens()
		return nil, nil, refreshed, ErrMFARequired
	}
	if e.config.Account.RequireVerifiedEmail && !user.IsVerified {
		sess.ClearTokens()
		return nil, nil, refreshed, ErrEmailNotVerified
	}
	return user, claims, refreshed, nil
}

// RequireAuth describes the requireauth operation and its observable behavior.
//
// RequireAuth loads the session cookie of r and authenticates it. The
// returned AuthResult is never nil; its SetCookie must be written to the
// response whenever it is set, including when an error is returned.
func (e *Engine) RequireAuth(r *http.Request) (*AuthResult, error) {
	sess, err := e.sessions.LoadRequest(r)
	if err != nil && !errors.Is(err, session.ErrInvalidCookie) {
		return &AuthResult{Session: session.New()}, e.unavailable("load session", err)
	}
	if errors.Is(err, session.ErrInvalidCookie) {
		e.logger.Debug("discarding invalid session cookie")
	}
	return e.AuthenticateRequest(r, sess)
}

// AuthenticateRequest is RequireAuth for a session the caller already
// loaded, so several middlewares can share one session per request.
func (e *Engine) AuthenticateRequest(r *http.Request, sess *session.Session) (*AuthResult, error) {
	if sess == nil {
		sess = session.New()
	}
	user, claims, refreshed, authErr := e.authenticate(r.Context(), sess, DeviceFromRequest(r))
	res := &AuthResult{
		User:      user,
		Claims:    claims,
		Session:   sess,
		Refreshed: refreshed,
	}
	res.SetCookie = e.commitIfDirty(sess)
	return res, authErr
}

// RedirectIfAuthenticated reports whether r already carries a valid login,
// for pages such as the login form that signed-in users should skip.
func (e *Engine) RedirectIfAuthenticated(r *http.Request) (bool, *AuthResult) {
	res, err := e.RequireAuth(r)
	return err == nil, res
}

// GetOptionalUser authenticates r when possible. res.User is nil for
// anonymous requests.
func (e *Engine) GetOptionalUser(r *http.Request) *AuthResult {
	res, _ := e.RequireAuth(r)
	return res
}

// RequireRole returns ErrForbidden unless user has one of roles.
func (e *Engine) RequireRole(user *User, roles ...string) error {
	if user == nil {
		return ErrReauthRequired
	}
	for _, role := range roles {
		if user.Role == role {
			return nil
		}
	}
	return ErrForbidden
}

// LoadSession opens the session cookie of r. A tampered cookie yields an
// empty session that will overwrite it on the next save.
func (e *Engine) LoadSession(r *http.Request) *session.Session {
	sess, err := e.sessions.LoadRequest(r)
	if err != nil && !errors.Is(err, session.ErrInvalidCookie) {
		e.logger.Warn("session load failed", zap.Error(err))
	}
	if sess == nil {
		sess = session.New()
	}
	return sess
}

// SaveSession writes sess to w when it changed.
func (e *Engine) SaveSession(w http.ResponseWriter, sess *session.Session) error {
	return e.sessions.Save(w, sess)
}

func (e *Engine) commitIfDirty(sess *session.Session) *http.Cookie {
	if !sess.Dirty() {
		return nil
	}
	c, err := e.sessions.Commit(sess)
	if err != nil {
		e.logger.Error("session commit failed", zap.Error(err))
		return nil
	}
	sess.MarkClean()
	return c
}
