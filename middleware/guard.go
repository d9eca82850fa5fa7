package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/session"
)

// FailureHandler writes the response for a request that failed
// authentication. err is the Engine error.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error)

type (
	authResultContextKey struct{}
	sessionContextKey    struct{}
)

// AuthResultFromContext returns the result stored by Guard or Optional.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// UserFromContext returns the authenticated user stored by Guard or Optional.
func UserFromContext(ctx context.Context) (*authcore.User, bool) {
	res, ok := AuthResultFromContext(ctx)
	if !ok || res.User == nil {
		return nil, false
	}
	return res.User, true
}

// SessionFromContext returns the cookie session shared by the middlewares
// of this package.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok
}

// requestSession returns the session already attached to r or loads it from
// the cookie and attaches it.
func requestSession(engine *authcore.Engine, r *http.Request) (*session.Session, *http.Request) {
	if sess, ok := SessionFromContext(r.Context()); ok {
		return sess, r
	}
	sess := engine.LoadSession(r)
	return sess, r.WithContext(context.WithValue(r.Context(), sessionContextKey{}, sess))
}

// DefaultFailureHandler answers 503 when the backends are unavailable and
// 401 otherwise.
func DefaultFailureHandler(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, authcore.ErrUnavailable) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Guard returns middleware that admits only authenticated requests. A
// rotated or cleared session is written back before next or onFail runs.
// A nil onFail uses DefaultFailureHandler.
func Guard(engine *authcore.Engine, onFail FailureHandler) func(http.Handler) http.Handler {
	if onFail == nil {
		onFail = DefaultFailureHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				onFail(w, r, authcore.ErrEngineNotReady)
				return
			}

			sess, r := requestSession(engine, r)
			res, err := engine.AuthenticateRequest(r, sess)
			if res.SetCookie != nil {
				http.SetCookie(w, res.SetCookie)
			}
			if err != nil {
				onFail(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional returns middleware that resolves the user when the session
// allows it and always calls next.
func Optional(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			sess, r := requestSession(engine, r)
			res, _ := engine.AuthenticateRequest(r, sess)
			if res.SetCookie != nil {
				http.SetCookie(w, res.SetCookie)
			}
			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RedirectIfAuthenticated returns middleware that sends signed-in users to
// target with 303 See Other, for pages such as the login form.
func RedirectIfAuthenticated(engine *authcore.Engine, target string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			sess, r := requestSession(engine, r)
			res, err := engine.AuthenticateRequest(r, sess)
			if res.SetCookie != nil {
				http.SetCookie(w, res.SetCookie)
			}
			if err == nil {
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
