package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one issued refresh token, identified by its SHA-256 hash.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	Family     string
	DeviceInfo string
	IP         string
	Revoked    bool
	RevokedAt  *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NewRefreshToken describes a row to insert.
type NewRefreshToken struct {
	UserID     string
	TokenHash  string
	Family     string
	DeviceInfo string
	IP         string
	ExpiresAt  time.Time
}

const refreshColumns = `id, user_id, token_hash, family, device_info, ip, revoked, revoked_at, expires_at, created_at`

func scanRefreshToken(row rowScanner) (*RefreshToken, error) {
	var (
		t         RefreshToken
		revokedAt sql.NullInt64
		expiresAt int64
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Family, &t.DeviceInfo, &t.IP,
		&t.Revoked, &revokedAt, &expiresAt, &createdAt); err != nil {
		return nil, scanErr(err)
	}
	t.RevokedAt = nullTime(revokedAt)
	t.ExpiresAt = fromUnix(expiresAt)
	t.CreatedAt = fromUnix(createdAt)
	return &t, nil
}

// InsertRefreshToken stores a newly issued token hash.
func (q *Queries) InsertRefreshToken(ctx context.Context, in NewRefreshToken, now time.Time) (*RefreshToken, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	t := &RefreshToken{
		ID:         id.String(),
		UserID:     in.UserID,
		TokenHash:  in.TokenHash,
		Family:     in.Family,
		DeviceInfo: in.DeviceInfo,
		IP:         in.IP,
		ExpiresAt:  fromUnix(unix(in.ExpiresAt)),
		CreatedAt:  fromUnix(unix(now)),
	}
	_, err = q.exec(ctx, `INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, NULL, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.Family, t.DeviceInfo, t.IP, unix(in.ExpiresAt), unix(now))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ActiveRefreshToken returns the unrevoked, unexpired row for userID and hash.
func (q *Queries) ActiveRefreshToken(ctx context.Context, userID, hash string, now time.Time) (*RefreshToken, error) {
	return scanRefreshToken(q.queryRow(ctx, `SELECT `+refreshColumns+` FROM refresh_tokens
		WHERE user_id = ? AND token_hash = ? AND revoked = FALSE AND expires_at > ?`,
		userID, hash, unix(now)))
}

// RefreshTokenByHash returns the row for hash in any state.
func (q *Queries) RefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	return scanRefreshToken(q.queryRow(ctx, `SELECT `+refreshColumns+` FROM refresh_tokens
		WHERE token_hash = ?`, hash))
}

// RevokeRefreshToken revokes hash if it is still active. It reports whether
// this call performed the transition, so exactly one concurrent caller wins.
func (q *Queries) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	n, err := q.execAffected(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?
		WHERE token_hash = ? AND revoked = FALSE AND expires_at > ?`,
		unix(now), hash, unix(now))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeFamily revokes every active token descended from the same login.
func (q *Queries) RevokeFamily(ctx context.Context, family string, now time.Time) (int64, error) {
	return q.execAffected(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?
		WHERE family = ? AND revoked = FALSE`, unix(now), family)
}

// RevokeAllForUser revokes every active token of userID.
func (q *Queries) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	return q.execAffected(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?
		WHERE user_id = ? AND revoked = FALSE`, unix(now), userID)
}

// CountActiveRefreshTokens counts live sessions of userID.
func (q *Queries) CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM refresh_tokens
		WHERE user_id = ? AND revoked = FALSE AND expires_at > ?`, userID, unix(now)).Scan(&n)
	if err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}

// DeleteExpiredRefreshTokens purges rows past expiry and rows revoked before
// revokedBefore. Revoked rows are kept for a while so reuse stays detectable.
func (q *Queries) DeleteExpiredRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	return q.execAffected(ctx, `DELETE FROM refresh_tokens
		WHERE expires_at <= ? OR (revoked = TRUE AND revoked_at < ?)`,
		unix(now), unix(revokedBefore))
}

// DeleteRefreshTokensForUser removes every row of userID.
func (q *Queries) DeleteRefreshTokensForUser(ctx context.Context, userID string) error {
	_, err := q.exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID)
	return err
}
