package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireRole returns middleware that admits users holding one of roles.
// It must be mounted inside Guard.
func RequireRole(engine *authcore.Engine, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := UserFromContext(r.Context())
			err := engine.RequireRole(user, roles...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, authcore.ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
			default:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			}
		})
	}
}
