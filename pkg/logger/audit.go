package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEntry is the log-side copy of a security event
type AuditEntry struct {
	EventType   string
	UserID      string
	IPAddress   string
	Description string
	Success     bool
	Metadata    map[string]any
	OccurredAt  time.Time
}

// AuditLogger writes security events to the structured log stream so they
// survive even when the database write fails.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log emits one audit line at Info on success and Warn on failure
func (al *AuditLogger) Log(ctx context.Context, entry AuditEntry) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", entry.EventType),
		slog.Bool("success", entry.Success),
		slog.String("timestamp", entry.OccurredAt.UTC().Format(time.RFC3339)),
	}

	if entry.UserID != "" {
		attrs = append(attrs, slog.String("user_id", entry.UserID))
	}
	if entry.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", entry.IPAddress))
	}
	if entry.Description != "" {
		attrs = append(attrs, slog.String("description", entry.Description))
	}
	for key, val := range entry.Metadata {
		attrs = append(attrs, slog.Any(key, val))
	}

	level := slog.LevelInfo
	if !entry.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
