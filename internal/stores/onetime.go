package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OneTimeToken is a single-use emailed token (verification or reset).
type OneTimeToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Valid reports whether t is unused and unexpired at now.
func (t *OneTimeToken) Valid(now time.Time) bool {
	return t != nil && !t.Used && now.Before(t.ExpiresAt)
}

// oneTimeTable names a table with the one-time token shape.
type oneTimeTable string

const (
	tableEmailVerifications oneTimeTable = "email_verifications"
	tablePasswordResets     oneTimeTable = "password_resets"
)

func (tbl oneTimeTable) create(ctx context.Context, q *Queries, userID, hash string, expiresAt, now time.Time) (*OneTimeToken, error) {
	if _, err := q.exec(ctx, `UPDATE `+string(tbl)+` SET used = TRUE WHERE user_id = ? AND used = FALSE`, userID); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	t := &OneTimeToken{
		ID:        id.String(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: fromUnix(unix(expiresAt)),
		CreatedAt: fromUnix(unix(now)),
	}
	_, err = q.exec(ctx, `INSERT INTO `+string(tbl)+` (id, user_id, token_hash, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, FALSE, ?)`, t.ID, userID, hash, unix(expiresAt), unix(now))
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (tbl oneTimeTable) byHash(ctx context.Context, q *Queries, hash string) (*OneTimeToken, error) {
	var (
		t         OneTimeToken
		expiresAt int64
		createdAt int64
	)
	err := q.queryRow(ctx, `SELECT id, user_id, token_hash, expires_at, used, created_at
		FROM `+string(tbl)+` WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &t.Used, &createdAt)
	if err != nil {
		return nil, scanErr(err)
	}
	t.ExpiresAt = fromUnix(expiresAt)
	t.CreatedAt = fromUnix(createdAt)
	return &t, nil
}

// consume flips used for a live token and returns its owner. ErrNotFound
// covers unknown, used and expired tokens alike.
func (tbl oneTimeTable) consume(ctx context.Context, q *Queries, hash string, now time.Time) (string, error) {
	var userID string
	err := q.queryRow(ctx, `UPDATE `+string(tbl)+` SET used = TRUE
		WHERE token_hash = ? AND used = FALSE AND expires_at > ?
		RETURNING user_id`, hash, unix(now)).Scan(&userID)
	if err != nil {
		return "", scanErr(err)
	}
	return userID, nil
}

func (tbl oneTimeTable) deleteExpired(ctx context.Context, q *Queries, now time.Time) (int64, error) {
	return q.execAffected(ctx, `DELETE FROM `+string(tbl)+` WHERE expires_at <= ? OR used = TRUE`, unix(now))
}

func (tbl oneTimeTable) deleteForUser(ctx context.Context, q *Queries, userID string) error {
	_, err := q.exec(ctx, `DELETE FROM `+string(tbl)+` WHERE user_id = ?`, userID)
	return err
}

// CreateEmailVerification invalidates earlier unused tokens of userID and
// stores a new one. Call it inside a transaction.
func (q *Queries) CreateEmailVerification(ctx context.Context, userID, hash string, expiresAt, now time.Time) (*OneTimeToken, error) {
	return tableEmailVerifications.create(ctx, q, userID, hash, expiresAt, now)
}

// EmailVerificationByHash looks a token up without changing it.
func (q *Queries) EmailVerificationByHash(ctx context.Context, hash string) (*OneTimeToken, error) {
	return tableEmailVerifications.byHash(ctx, q, hash)
}

// ConsumeEmailVerification marks a live token used and returns its owner.
func (q *Queries) ConsumeEmailVerification(ctx context.Context, hash string, now time.Time) (string, error) {
	return tableEmailVerifications.consume(ctx, q, hash, now)
}

// DeleteExpiredEmailVerifications purges expired and used rows.
func (q *Queries) DeleteExpiredEmailVerifications(ctx context.Context, now time.Time) (int64, error) {
	return tableEmailVerifications.deleteExpired(ctx, q, now)
}

// DeleteEmailVerificationsForUser removes every row of userID.
func (q *Queries) DeleteEmailVerificationsForUser(ctx context.Context, userID string) error {
	return tableEmailVerifications.deleteForUser(ctx, q, userID)
}

// CreatePasswordReset invalidates earlier unused reset tokens of userID and
// stores a new one. Call it inside a transaction.
func (q *Queries) CreatePasswordReset(ctx context.Context, userID, hash string, expiresAt, now time.Time) (*OneTimeToken, error) {
	return tablePasswordResets.create(ctx, q, userID, hash, expiresAt, now)
}

// PasswordResetByHash looks a reset token up without changing it.
func (q *Queries) PasswordResetByHash(ctx context.Context, hash string) (*OneTimeToken, error) {
	return tablePasswordResets.byHash(ctx, q, hash)
}

// ConsumePasswordReset marks a live reset token used and returns its owner.
func (q *Queries) ConsumePasswordReset(ctx context.Context, hash string, now time.Time) (string, error) {
	return tablePasswordResets.consume(ctx, q, hash, now)
}

// DeleteExpiredPasswordResets purges expired and used rows.
func (q *Queries) DeleteExpiredPasswordResets(ctx context.Context, now time.Time) (int64, error) {
	return tablePasswordResets.deleteExpired(ctx, q, now)
}

// DeletePasswordResetsForUser removes every row of userID.
func (q *Queries) DeletePasswordResetsForUser(ctx context.Context, userID string) error {
	return tablePasswordResets.deleteForUser(ctx, q, userID)
}
