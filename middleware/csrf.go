package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/csrf"
)

type csrfTokenContextKey struct{}

// CSRFTokenFromContext returns the token to embed in forms rendered by the
// current request.
func CSRFTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(csrfTokenContextKey{}).(string)
	return tok
}

// CSRF returns middleware that checks the session CSRF token on unsafe
// methods. The token is read from the X-CSRF-Token header, then from the
// csrf_token form field. Mismatches are answered with 403.
func CSRF(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			sess, r := requestSession(engine, r)
			if !safeMethod(r.Method) {
				submitted := r.Header.Get(csrf.HeaderName)
				if submitted == "" {
					submitted = r.PostFormValue(csrf.FormField)
				}
				if err := csrf.Verify(sess, submitted); err != nil {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}

			tok, err := csrf.Token(sess)
			if err != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if err := engine.SaveSession(w, sess); err != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), csrfTokenContextKey{}, tok)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
