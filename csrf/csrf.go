// Package csrf implements the synchronizer-token CSRF defense on top of the
// cookie session: one random token per session, compared in constant time
// against the value a form or header submits.
package csrf

import (
	"crypto/subtle"
	"errors"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/session"
)

const (
	// FormField is the form field carrying the token.
	FormField = "csrf_token"
	// HeaderName is the request header carrying the token.
	HeaderName = "X-CSRF-Token"
)

// ErrInvalidToken covers missing, empty and mismatching tokens.
var ErrInvalidToken = errors.New("invalid csrf token")

// Token returns the session's CSRF token, creating one on first use.
func Token(sess *session.Session) (string, error) {
	if sess.CSRFToken != "" {
		return sess.CSRFToken, nil
	}
	tok, err := internal.GenerateSecureToken()
	if err != nil {
		return "", err
	}
	sess.SetCSRFToken(tok)
	return tok, nil
}

// Verify checks submitted against the session token.
func Verify(sess *session.Session, submitted string) error {
	if sess == nil || sess.CSRFToken == "" || submitted == "" {
		return ErrInvalidToken
	}
	if len(submitted) != len(sess.CSRFToken) {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(sess.CSRFToken)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
