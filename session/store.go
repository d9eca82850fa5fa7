package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// ErrInvalidCookie is returned when a cookie fails verification or decoding.
// The caller still receives a usable empty session.
var ErrInvalidCookie = errors.New("invalid session cookie")

const (
	DefaultCookieName = "authcore_session"
	minSecretBytes    = 32
)

// Config controls the session cookie.
type Config struct {
	CookieName string
	// Secrets are HMAC signing keys. The first signs, all verify.
	Secrets [][]byte
	// EncryptionKey enables AES encryption of the cookie (16, 24 or 32 bytes).
	EncryptionKey []byte
	Path          string
	Domain        string
	Secure        bool
	SameSite      http.SameSite
	MaxAge        time.Duration
}

// Store seals and opens session cookies.
type Store struct {
	cfg    Config
	codecs []securecookie.Codec
}

// NewStore validates cfg and builds one codec per secret.
func NewStore(cfg Config) (*Store, error) {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if len(cfg.Secrets) == 0 {
		return nil, errors.New("session: at least one signing secret is required")
	}
	switch len(cfg.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("session: encryption key must be 16, 24 or 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	var block []byte
	if len(cfg.EncryptionKey) > 0 {
		block = cfg.EncryptionKey
	}
	codecs := make([]securecookie.Codec, 0, len(cfg.Secrets))
	for i, secret := range cfg.Secrets {
		if len(secret) < minSecretBytes {
			return nil, fmt.Errorf("session: secret %d shorter than %d bytes", i, minSecretBytes)
		}
		sc := securecookie.New(secret, block).
			SetSerializer(securecookie.JSONEncoder{}).
			MaxAge(int(cfg.MaxAge / time.Second))
		codecs = append(codecs, sc)
	}
	return &Store{cfg: cfg, codecs: codecs}, nil
}

// CookieName reports the configured cookie name.
func (s *Store) CookieName() string { return s.cfg.CookieName }

// Load opens a cookie value. An empty value yields an empty session. A value
// that fails verification yields an empty dirty session (so the bad cookie
// gets overwritten) and ErrInvalidCookie.
func (s *Store) Load(value string) (*Session, error) {
	if value == "" {
		return New(), nil
	}
	for i, codec := range s.codecs {
		sess := New()
		if err := codec.Decode(s.cfg.CookieName, value, sess); err != nil {
			continue
		}
		if i > 0 {
			// Verified by a retired secret; re-sign with the current one.
			sess.dirty = true
		}
		return sess, nil
	}
	sess := New()
	sess.dirty = true
	return sess, ErrInvalidCookie
}

// LoadRequest opens the session cookie of r, if any.
func (s *Store) LoadRequest(r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil {
		return New(), nil
	}
	return s.Load(c.Value)
}

// Commit seals sess into a cookie. An empty session produces a deletion
// cookie.
func (s *Store) Commit(sess *Session) (*http.Cookie, error) {
	c := &http.Cookie{
		Name:     s.cfg.CookieName,
		Path:     s.cfg.Path,
		Domain:   s.cfg.Domain,
		Secure:   s.cfg.Secure,
		HttpOnly: true,
		SameSite: s.cfg.SameSite,
	}
	if sess == nil || sess.Empty() {
		c.MaxAge = -1
		c.Expires = time.Unix(1, 0)
		return c, nil
	}

	value, err := securecookie.EncodeMulti(s.cfg.CookieName, sess, s.codecs...)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	c.Value = value
	if s.cfg.MaxAge > 0 {
		c.MaxAge = int(s.cfg.MaxAge / time.Second)
	}
	return c, nil
}

// Save writes a Set-Cookie header when sess is dirty.
func (s *Store) Save(w http.ResponseWriter, sess *Session) error {
	if !sess.Dirty() {
		return nil
	}
	c, err := s.Commit(sess)
	if err != nil {
		return err
	}
	http.SetCookie(w, c)
	sess.MarkClean()
	return nil
}
