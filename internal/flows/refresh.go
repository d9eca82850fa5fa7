package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureReuse
	RefreshFailureNotFound
	RefreshFailureUserMissing
	RefreshFailureIssue
	RefreshFailureStore
)

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	UserID string
	Family string
	MFA    bool
}

// IssuedPair is a freshly signed access/refresh pair.
type IssuedPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	UserID  string
	Family  string
	User    *stores.User
	Pair    IssuedPair
}

// RefreshQueries is what the rotation transaction needs from the store.
type RefreshQueries interface {
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error)
	UserByID(ctx context.Context, id string) (*stores.User, error)
	InsertRefreshToken(ctx context.Context, in stores.NewRefreshToken, now time.Time) (*stores.RefreshToken, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now          func() time.Time
	ParseRefresh func(token string) (RefreshClaims, error)
	HashToken    func(raw string) string
	IssuePair    func(user *stores.User, family string, mfa bool) (IssuedPair, error)

	// WithinTx runs fn in one retried transaction.
	WithinTx func(ctx context.Context, fn func(ctx context.Context, q RefreshQueries) error) error
	// LookupByHash and RevokeFamily run outside the rotation transaction.
	LookupByHash func(ctx context.Context, hash string) (*stores.RefreshToken, error)
	RevokeFamily func(ctx context.Context, family string) error

	Device  Device
	OnReuse func(ctx context.Context, row *stores.RefreshToken)
}

// ErrRotationLost is the failure of a refresh token that was not active
// when its rotation ran.
var ErrRotationLost = errors.New("refresh token no longer active")

var (
	errUserMissing = errors.New("refresh token owner missing")
	errIssue       = errors.New("token issuance failed")
)

// RunRefresh verifies a refresh token, revokes it and issues a successor in
// the same family. A token that was already revoked is treated as stolen:
// its whole family is revoked and RefreshFailureReuse is returned. There is
// no grace window, so the loser of a concurrent double-submit is handled the
// same way.
func RunRefresh(ctx context.Context, token string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(token)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	now := deps.Now()
	hash := deps.HashToken(token)
	var (
		user *stores.User
		pair IssuedPair
	)

	err = deps.WithinTx(ctx, func(ctx context.Context, q RefreshQueries) error {
		won, err := q.RevokeRefreshToken(ctx, hash, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrRotationLost
		}

		u, err := q.UserByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				return errUserMissing
			}
			return err
		}

		p, err := deps.IssuePair(u, claims.Family, claims.MFA)
		if err != nil {
			return fmt.Errorf("%w: %w", errIssue, err)
		}

		if _, err := q.InsertRefreshToken(ctx, stores.NewRefreshToken{
			UserID:     u.ID,
			TokenHash:  deps.HashToken(p.RefreshToken),
			Family:     claims.Family,
			DeviceInfo: deps.Device.UserAgent,
			IP:         deps.Device.IP,
			ExpiresAt:  p.RefreshExpiresAt,
		}, now); err != nil {
			return err
		}

		user, pair = u, p
		return nil
	})

	base := RefreshResult{UserID: claims.UserID, Family: claims.Family}
	switch {
	case err == nil:
		base.User = user
		base.Pair = pair
		return base
	case errors.Is(err, ErrRotationLost):
		return handleLostRotation(ctx, hash, base, deps)
	case errors.Is(err, errUserMissing):
		base.Failure, base.Err = RefreshFailureUserMissing, err
	case errors.Is(err, errIssue):
		base.Failure, base.Err = RefreshFailureIssue, err
	default:
		base.Failure, base.Err = RefreshFailureStore, err
	}
	return base
}

func handleLostRotation(ctx context.Context, hash string, res RefreshResult, deps RefreshDeps) RefreshResult {
	row, err := deps.LookupByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			res.Failure, res.Err = RefreshFailureNotFound, err
			return res
		}
		res.Failure, res.Err = RefreshFailureStore, err
		return res
	}
	if !row.Revoked {
		// Present but expired.
		res.Failure, res.Err = RefreshFailureNotFound, ErrRotationLost
		return res
	}

	res.Failure, res.Err = RefreshFailureReuse, ErrRotationLost
	res.Family = row.Family
	if err := deps.RevokeFamily(ctx, row.Family); err != nil {
		res.Err = fmt.Errorf("revoke family: %w", err)
	}
	if deps.OnReuse != nil {
		deps.OnReuse(ctx, row)
	}
	return res
}
