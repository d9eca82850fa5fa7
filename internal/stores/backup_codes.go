package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BackupCodeCounts summarizes a user's backup code set.
type BackupCodeCounts struct {
	Total int
	Used  int
}

// ReplaceBackupCodes deletes the current set and stores hashes as the new one.
// Call it inside a transaction.
func (q *Queries) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, now time.Time) error {
	if err := q.DeleteBackupCodes(ctx, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		if _, err := q.exec(ctx, `INSERT INTO backup_codes (id, user_id, code_hash, used, used_at, created_at)
			VALUES (?, ?, ?, FALSE, NULL, ?)`, id.String(), userID, h, unix(now)); err != nil {
			return err
		}
	}
	return nil
}

// ConsumeBackupCode marks the unused code matching hash as used. It reports
// false when no unused code matched.
func (q *Queries) ConsumeBackupCode(ctx context.Context, userID, hash string, now time.Time) (bool, error) {
	n, err := q.execAffected(ctx, `UPDATE backup_codes SET used = TRUE, used_at = ?
		WHERE id = (SELECT id FROM backup_codes WHERE user_id = ? AND code_hash = ? AND used = FALSE LIMIT 1)
		AND used = FALSE`, unix(now), userID, hash)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountBackupCodes returns the size of the set and how many are used.
func (q *Queries) CountBackupCodes(ctx context.Context, userID string) (BackupCodeCounts, error) {
	var c BackupCodeCounts
	err := q.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN used THEN 1 ELSE 0 END), 0)
		FROM backup_codes WHERE user_id = ?`, userID).Scan(&c.Total, &c.Used)
	if err != nil {
		return BackupCodeCounts{}, scanErr(err)
	}
	return c, nil
}

// DeleteBackupCodes removes the whole set of userID.
func (q *Queries) DeleteBackupCodes(ctx context.Context, userID string) error {
	_, err := q.exec(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}
