package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppendPasswordHistory records hash and trims the user's history to the
// newest keep entries. Call it inside a transaction.
func (q *Queries) AppendPasswordHistory(ctx context.Context, userID, hash string, keep int, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	if _, err := q.exec(ctx, `INSERT INTO password_history (id, user_id, password_hash, created_at)
		VALUES (?, ?, ?, ?)`, id.String(), userID, hash, unix(now)); err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}
	_, err = q.exec(ctx, `DELETE FROM password_history WHERE user_id = ? AND id NOT IN (
		SELECT id FROM password_history WHERE user_id = ? ORDER BY id DESC LIMIT ?)`,
		userID, userID, keep)
	return err
}

// RecentPasswordHashes returns up to limit hashes, newest first.
func (q *Queries) RecentPasswordHashes(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := q.query(ctx, `SELECT password_hash FROM password_history
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, scanErr(err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, scanErr(err)
	}
	return out, nil
}

// DeletePasswordHistory removes every history row of userID.
func (q *Queries) DeletePasswordHistory(ctx context.Context, userID string) error {
	_, err := q.exec(ctx, `DELETE FROM password_history WHERE user_id = ?`, userID)
	return err
}
