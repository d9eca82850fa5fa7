package session

import (
	"errors"
	"testing"
)

// FuzzSessionLoad feeds arbitrary cookie values to Load.
// Goal: no panics, and anything that is not a valid seal is rejected.
func FuzzSessionLoad(f *testing.F) {
	store := newTestStore(f, nil)
	sess := New()
	sess.SetTokens("access", "refresh")
	sess.SetCSRFToken("csrf")
	c, err := store.Commit(sess)
	if err == nil {
		f.Add(c.Value)
		if len(c.Value) > 10 {
			f.Add(c.Value[:10])
			f.Add(c.Value[:len(c.Value)-1])
		}
	}
	f.Add("")
	f.Add("a|b|c")
	f.Add("MTcwMDAwMDAwMHxub3QtYS1zZWFsfA==")

	f.Fuzz(func(t *testing.T, value string) {
		s, err := store.Load(value)
		if s == nil {
			t.Fatalf("Load must always return a session")
		}
		if err != nil && !errors.Is(err, ErrInvalidCookie) {
			t.Fatalf("unexpected error type: %v", err)
		}
	})
}
