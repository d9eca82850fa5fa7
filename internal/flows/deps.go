package flows

import "context"

// Device is the client context a flow records alongside stored tokens.
type Device struct {
	IP        string
	UserAgent string
}

// AuditFunc emits one audit event. details is evaluated lazily.
type AuditFunc func(ctx context.Context, action string, success bool, userID string, err error, details func() map[string]string)

func noopMetric(int) {}

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}
