package authcore

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
)

// User is the persisted account record returned by the Engine.
type User = stores.User

// TokenPair is a signed access/refresh pair with their expiry instants.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Family           string
}

// TokenOptions controls GenerateTokens. An empty Family starts a new one.
type TokenOptions struct {
	Family      string
	MFAVerified bool
}

// LoginResult is returned by [Engine.Login].
//
// When MFARequired is true no tokens were issued; the session carries a
// pending challenge for [Engine.CompleteMFALogin].
type LoginResult struct {
	User        *User
	MFARequired bool
	Tokens      *TokenPair
}

// MFALoginResult is returned by [Engine.CompleteMFALogin].
type MFALoginResult struct {
	User           *User
	Tokens         *TokenPair
	UsedBackupCode bool
	// BackupCodes is only set when a backup code was used.
	BackupCodes *BackupCodeStats
}

// BackupCodeStats summarizes the remaining backup codes of a user.
type BackupCodeStats struct {
	Total     int
	Used      int
	Remaining int
	// Low is true when Remaining is at or below the warning threshold.
	Low       bool
	Exhausted bool
}

// MFASetup is what a user needs to enroll an authenticator app.
type MFASetup struct {
	Secret string
	URI    string
}

// MFAConfirmation is returned by [Engine.ConfirmMFASetup]. BackupCodes are
// shown once and never retrievable again.
type MFAConfirmation struct {
	BackupCodes []string
	Tokens      *TokenPair
}

// RegisterRequest is the input of [Engine.Register].
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
}

// AuthResult is returned by the request guards.
//
// SetCookie is non-nil whenever the session changed while handling the
// request (silent rotation, cleared tokens) and must be written to the
// response, on success and on error alike.
type AuthResult struct {
	User      *User
	Claims    *jwt.AccessClaims
	Session   *session.Session
	SetCookie *http.Cookie
	Refreshed bool
}
