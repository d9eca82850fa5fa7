package authcore

import (
	"io"

	"github.com/MrEthical07/authcore/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant occurrence (login, rotation, reuse,
// lockout, MFA change, account change).
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON object per line.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapAuditSink returns a sink that logs events at info level
// (warn for failures).
func NewZapAuditSink(logger *zap.Logger) *audit.ZapSink {
	return audit.NewZapSink(logger)
}
