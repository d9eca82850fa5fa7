package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the bcrypt input limit. Longer inputs are rejected
// instead of being silently truncated.
const MaxPasswordBytes = 72

var (
	// ErrPasswordTooLong is returned by Hash for inputs above MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
	// ErrInvalidCost is returned by NewHasher for costs outside the bcrypt range.
	ErrInvalidCost = errors.New("bcrypt cost out of range")
)

const dummyPassword = "authcore-timing-equalizer"

// Hasher hashes and verifies passwords with bcrypt.
//
// Hasher instances are immutable after construction and safe for concurrent use.
type Hasher struct {
	cost      int
	dummyHash []byte
}

// NewHasher returns a Hasher using the given bcrypt cost.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, err
	}
	return &Hasher{cost: cost, dummyHash: dummy}, nil
}

// Cost reports the configured bcrypt cost.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether plain matches encoded. A mismatch is (false, nil);
// a malformed hash is (false, err). Legacy Argon2id hashes are accepted.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	if isArgon2Hash(encoded) {
		return verifyArgon2(plain, encoded)
	}
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// DummyVerify spends the same work as a real Verify against a fixed hash.
// Login calls it for unknown accounts so response timing does not reveal
// which emails are registered.
func (h *Hasher) DummyVerify(plain string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(plain))
}

// NeedsUpgrade reports whether encoded should be re-hashed with the current
// parameters: every legacy Argon2id hash and bcrypt hashes below the
// configured cost.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if isArgon2Hash(encoded) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false
	}
	return cost < h.cost
}
