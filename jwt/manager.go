package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for both token kinds.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrWrongTokenType is returned when a refresh token is presented as an
	// access token or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrMissingSubject is returned for tokens that carry no user id.
	ErrMissingSubject = errors.New("token has no subject")
)

// Config controls token lifetimes, keys and validation.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// Now overrides the clock used for issuing and validating. Defaults to time.Now.
	Now func() time.Time
}

// Manager signs and parses access and refresh tokens.
//
// Manager instances are immutable after NewManager and safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
	MFA   bool   `json:"mfa"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a long-lived refresh token. Family links
// every token descended from one login.
type RefreshClaims struct {
	UID    string `json:"uid"`
	Family string `json:"fam"`
	MFA    bool   `json:"mfa"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// AccessInput describes the subject of a new access token.
type AccessInput struct {
	UserID string
	Email  string
	Role   string
	MFA    bool
}

// NewManager validates cfg and returns a Manager.
//
// NewManager may return an error when the TTLs, leeway or key material are invalid.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL reports the configured access token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// CreateAccess signs an access token for in and returns it with its expiry.
func (j *Manager) CreateAccess(in AccessInput) (string, time.Time, error) {
	if in.UserID == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	now := j.config.Now()
	exp := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		UID:              in.UserID,
		Email:            in.Email,
		Role:             in.Role,
		MFA:              in.MFA,
		Type:             typeAccess,
		RegisteredClaims: j.registered(in.UserID, now, exp),
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// CreateRefresh signs a refresh token bound to family. Every call carries a
// fresh jti, so two refresh tokens never share a hash.
func (j *Manager) CreateRefresh(userID, family string, mfa bool) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	if family == "" {
		return "", time.Time{}, errors.New("refresh token requires a family")
	}
	now := j.config.Now()
	exp := now.Add(j.config.RefreshTTL)

	claims := RefreshClaims{
		UID:              userID,
		Family:           family,
		MFA:              mfa,
		Type:             typeRefresh,
		RegisteredClaims: j.registered(userID, now, exp),
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// ParseAccess verifies signature, expiry, issuer and audience of an access token.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess {
		return nil, ErrWrongTokenType
	}
	if claims.UID == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token. It does not consult storage; the
// caller still has to check the token against its persisted hash.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh {
		return nil, ErrWrongTokenType
	}
	if claims.UID == "" || claims.Family == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func (j *Manager) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

func (j *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return j.keyBytesToVerifyKey(key)
		}

		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return j.getVerifyKey()
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PublicKey) == 0 {
			priv, err := parseEdPrivateKey(j.config.PrivateKey)
			if err != nil {
				return nil, err
			}
			return priv.Public(), nil
		}
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
