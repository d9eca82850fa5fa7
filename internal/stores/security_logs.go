package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityLog is one persisted audit record.
type SecurityLog struct {
	ID        string
	UserID    string
	Action    string
	Success   bool
	IP        string
	UserAgent string
	Details   map[string]string
	CreatedAt time.Time
}

// InsertSecurityLog appends ev to the security log.
func (q *Queries) InsertSecurityLog(ctx context.Context, ev audit.Event) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	details := "{}"
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return err
		}
		details = string(raw)
	}
	var userID sql.NullString
	if ev.UserID != "" {
		userID = sql.NullString{String: ev.UserID, Valid: true}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = q.exec(ctx, `INSERT INTO security_logs (id, user_id, action, success, ip, user_agent, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), userID, ev.Action, ev.Success, ev.IP, ev.UserAgent, details, unix(ts))
	return err
}

// SecurityLogsForUser returns up to limit entries of userID, newest first.
func (q *Queries) SecurityLogsForUser(ctx context.Context, userID string, limit int) ([]SecurityLog, error) {
	rows, err := q.query(ctx, `SELECT id, user_id, action, success, ip, user_agent, details, created_at
		FROM security_logs WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SecurityLog
	for rows.Next() {
		var (
			l         SecurityLog
			uid       sql.NullString
			details   string
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &uid, &l.Action, &l.Success, &l.IP, &l.UserAgent, &details, &createdAt); err != nil {
			return nil, scanErr(err)
		}
		l.UserID = uid.String
		l.CreatedAt = fromUnix(createdAt)
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &l.Details)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, scanErr(err)
	}
	return out, nil
}

// AnonymizeSecurityLogs detaches userID from its log entries.
func (q *Queries) AnonymizeSecurityLogs(ctx context.Context, userID string) error {
	_, err := q.exec(ctx, `UPDATE security_logs SET user_id = NULL WHERE user_id = ?`, userID)
	return err
}

// SecurityLogSink persists audit events into security_logs.
type SecurityLogSink struct {
	store  *Store
	logger *zap.Logger
}

// NewSecurityLogSink binds a sink to s.
func NewSecurityLogSink(s *Store, logger *zap.Logger) *SecurityLogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityLogSink{store: s, logger: logger}
}

// Emit implements audit.Sink. Write failures are logged and dropped.
func (s *SecurityLogSink) Emit(ctx context.Context, ev audit.Event) {
	if err := s.store.Q().InsertSecurityLog(ctx, ev); err != nil {
		s.logger.Error("security log write failed",
			zap.String("action", ev.Action),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}
