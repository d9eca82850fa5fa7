package csrf

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore/session"
)

func TestTokenIsStablePerSession(t *testing.T) {
	sess := session.New()
	a, err := Token(sess)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if !sess.Dirty() {
		t.Fatalf("creating a token must dirty the session")
	}
	b, _ := Token(sess)
	if a != b {
		t.Fatalf("token must be reused within a session")
	}
}

func TestVerify(t *testing.T) {
	sess := session.New()
	tok, err := Token(sess)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	tests := []struct {
		name      string
		sess      *session.Session
		submitted string
		wantErr   bool
	}{
		{"match", sess, tok, false},
		{"empty", sess, "", true},
		{"wrong length", sess, tok[:10], true},
		{"mismatch same length", sess, strings.Repeat("0", len(tok)), true},
		{"no session token", session.New(), tok, true},
		{"nil session", nil, tok, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(tc.sess, tc.submitted)
			if tc.wantErr && !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
