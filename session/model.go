package session

import "time"

// Session is the per-browser state. Mutate it only through its methods so
// the dirty flag tracks whether a Set-Cookie is needed.
type Session struct {
	AccessToken         string `json:"at,omitempty"`
	RefreshToken        string `json:"rt,omitempty"`
	CSRFToken           string `json:"csrf,omitempty"`
	PendingMFAUserID    string `json:"mfa_uid,omitempty"`
	PendingMFAExpiresAt int64  `json:"mfa_exp,omitempty"`
	MFASetupSecret      string `json:"mfa_setup,omitempty"`

	dirty bool
}

// New returns an empty session.
func New() *Session {
	return &Session{}
}

// Dirty reports whether the session changed since it was loaded or saved.
func (s *Session) Dirty() bool { return s != nil && s.dirty }

// MarkClean resets the dirty flag after the cookie was written.
func (s *Session) MarkClean() { s.dirty = false }

// Empty reports whether no field is set.
func (s *Session) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.CSRFToken == "" &&
		s.PendingMFAUserID == "" && s.MFASetupSecret == ""
}

// Authenticated reports whether the session carries a token pair.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// SetTokens stores a freshly issued pair.
func (s *Session) SetTokens(access, refresh string) {
	if s.AccessToken == access && s.RefreshToken == refresh {
		return
	}
	s.AccessToken, s.RefreshToken = access, refresh
	s.dirty = true
}

// ClearTokens drops both tokens.
func (s *Session) ClearTokens() {
	if s.AccessToken == "" && s.RefreshToken == "" {
		return
	}
	s.AccessToken, s.RefreshToken = "", ""
	s.dirty = true
}

// SetPendingMFA records that userID passed the password step and must
// present a second factor before until.
func (s *Session) SetPendingMFA(userID string, until time.Time) {
	s.PendingMFAUserID = userID
	s.PendingMFAExpiresAt = until.Unix()
	s.dirty = true
}

// PendingMFA returns the user awaiting a second factor, or "" when none is
// pending or the challenge expired.
func (s *Session) PendingMFA(now time.Time) string {
	if s == nil || s.PendingMFAUserID == "" {
		return ""
	}
	if s.PendingMFAExpiresAt != 0 && now.Unix() >= s.PendingMFAExpiresAt {
		return ""
	}
	return s.PendingMFAUserID
}

// ClearPendingMFA drops the second-factor challenge.
func (s *Session) ClearPendingMFA() {
	if s.PendingMFAUserID == "" && s.PendingMFAExpiresAt == 0 {
		return
	}
	s.PendingMFAUserID, s.PendingMFAExpiresAt = "", 0
	s.dirty = true
}

// SetMFASetupSecret holds a TOTP secret until the user confirms it.
func (s *Session) SetMFASetupSecret(secret string) {
	s.MFASetupSecret = secret
	s.dirty = true
}

// ClearMFASetupSecret forgets an unconfirmed TOTP secret.
func (s *Session) ClearMFASetupSecret() {
	if s.MFASetupSecret == "" {
		return
	}
	s.MFASetupSecret = ""
	s.dirty = true
}

// SetCSRFToken replaces the CSRF token.
func (s *Session) SetCSRFToken(token string) {
	s.CSRFToken = token
	s.dirty = true
}

// Clear empties the whole session (logout).
func (s *Session) Clear() {
	if s.Empty() {
		return
	}
	*s = Session{dirty: true}
}
