package stores

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the persisted account record.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	FullName            string     `json:"full_name"`
	Role                string     `json:"role"`
	IsVerified          bool       `json:"is_verified"`
	MFAEnabled          bool       `json:"mfa_enabled"`
	MFASecret           string     `json:"-"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewUser describes an account to create.
type NewUser struct {
	Email        string
	PasswordHash string
	FullName     string
	Role         string
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const userColumns = `id, email, password_hash, full_name, role, is_verified, mfa_enabled,
	mfa_secret, failed_login_attempts, locked_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		secret    sql.NullString
		locked    sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role,
		&u.IsVerified, &u.MFAEnabled, &secret, &u.FailedLoginAttempts, &locked,
		&createdAt, &updatedAt); err != nil {
		return nil, scanErr(err)
	}
	u.MFASecret = secret.String
	u.LockedUntil = nullTime(locked)
	u.CreatedAt = fromUnix(createdAt)
	u.UpdatedAt = fromUnix(updatedAt)
	return &u, nil
}

// CreateUser inserts a new account. A taken email yields ErrDuplicate.
func (q *Queries) CreateUser(ctx context.Context, in NewUser, now time.Time) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = "user"
	}
	u := &User{
		ID:           id.String(),
		Email:        NormalizeEmail(in.Email),
		PasswordHash: in.PasswordHash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		CreatedAt:    fromUnix(unix(now)),
		UpdatedAt:    fromUnix(unix(now)),
	}
	_, err = q.exec(ctx, `INSERT INTO users (id, email, password_hash, full_name, role,
		is_verified, mfa_enabled, failed_login_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, FALSE, FALSE, 0, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Role, unix(now), unix(now))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UserByID loads an account or returns ErrNotFound.
func (q *Queries) UserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// UserByEmail loads an account by case-insensitive email.
func (q *Queries) UserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
}

// IncrementFailedAttempts bumps the failure counter in one statement and, once
// the counter reaches threshold, sets locked_until. It returns the new count
// and the lock expiry (nil when not locked).
func (q *Queries) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	var (
		count  int
		locked sql.NullInt64
	)
	err := q.queryRow(ctx, `UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE WHEN failed_login_attempts + 1 >= CAST(? AS INTEGER)
				THEN CAST(? AS BIGINT) ELSE locked_until END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_login_attempts, locked_until`,
		threshold, unix(lockUntil), unix(now), id).Scan(&count, &locked)
	if err != nil {
		return 0, nil, scanErr(err)
	}
	until := nullTime(locked)
	if until != nil && !until.After(now) {
		until = nil
	}
	return count, until, nil
}

// ResetFailedAttempts clears the failure counter and any lock.
func (q *Queries) ResetFailedAttempts(ctx context.Context, id string, now time.Time) error {
	_, err := q.exec(ctx, `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`, unix(now), id)
	return err
}

// UpdatePasswordHash replaces the stored hash.
func (q *Queries) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return q.updateOne(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, unix(now), id)
}

// SetEmailVerified marks the account's email as verified.
func (q *Queries) SetEmailVerified(ctx context.Context, id string, now time.Time) error {
	return q.updateOne(ctx, `UPDATE users SET is_verified = TRUE, updated_at = ? WHERE id = ?`, unix(now), id)
}

// EnableMFA stores the TOTP secret and flips mfa_enabled.
func (q *Queries) EnableMFA(ctx context.Context, id, secret string, now time.Time) error {
	return q.updateOne(ctx, `UPDATE users SET mfa_enabled = TRUE, mfa_secret = ?, updated_at = ? WHERE id = ?`,
		secret, unix(now), id)
}

// DisableMFA clears the TOTP secret.
func (q *Queries) DisableMFA(ctx context.Context, id string, now time.Time) error {
	return q.updateOne(ctx, `UPDATE users SET mfa_enabled = FALSE, mfa_secret = NULL, updated_at = ? WHERE id = ?`,
		unix(now), id)
}

// DeleteUser removes the account row. Dependent rows must be gone already.
func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	return q.updateOne(ctx, `DELETE FROM users WHERE id = ?`, id)
}

func (q *Queries) updateOne(ctx context.Context, query string, args ...any) error {
	n, err := q.execAffected(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
