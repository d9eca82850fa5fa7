package authcore

import (
	"context"

	"go.uber.org/zap"
)

// MailKind names the message a Mailer should send.
type MailKind string

const (
	MailVerification       MailKind = "verification"
	MailPasswordReset      MailKind = "password_reset"
	MailMFAEnabled         MailKind = "mfa_enabled"
	MailMFADisabled        MailKind = "mfa_disabled"
	MailSuspiciousActivity MailKind = "suspicious_activity"
)

// Mailer delivers account emails. token is the raw one-time token for
// verification and reset mails and empty for notices. The Engine logs
// delivery failures and never fails an operation because of them.
type Mailer interface {
	Send(ctx context.Context, kind MailKind, address, token string) error
}

// LogMailer writes mails to a zap logger instead of delivering them.
// It is the default Mailer and is useful in development.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer returns a LogMailer. A nil logger discards everything.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer")}
}

func (m *LogMailer) Send(_ context.Context, kind MailKind, address, token string) error {
	fields := []zap.Field{zap.String("kind", string(kind)), zap.String("to", address)}
	if token != "" {
		fields = append(fields, zap.String("token", token))
	}
	m.logger.Info("mail", fields...)
	return nil
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, kind MailKind, address, token string) error

func (f MailerFunc) Send(ctx context.Context, kind MailKind, address, token string) error {
	return f(ctx, kind, address, token)
}
