package dataspace

import (
	"context"
	"log/slog"
)

// NoopDiagnostics discards all diagnostics
type NoopDiagnostics struct{}

// EventSkipped does nothing
func (NoopDiagnostics) EventSkipped(ctx context.Context, handle EventHandle, err error) {}

// AuditAppendFailed does nothing
func (NoopDiagnostics) AuditAppendFailed(ctx context.Context, event AuditEvent, err error) {}

// LoggingDiagnostics writes diagnostics to a structured logger
type LoggingDiagnostics struct {
	logger *slog.Logger
}

// NewLoggingDiagnostics creates diagnostics that log at error level
func NewLoggingDiagnostics(logger *slog.Logger) *LoggingDiagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingDiagnostics{logger: logger}
}

// EventSkipped logs the unreadable record
func (d *LoggingDiagnostics) EventSkipped(ctx context.Context, handle EventHandle, err error) {
	d.logger.ErrorContext(ctx, "audit event unreadable", "handle", handle, "error", err)
}

// AuditAppendFailed logs the lost audit record
func (d *LoggingDiagnostics) AuditAppendFailed(ctx context.Context, event AuditEvent, err error) {
	d.logger.ErrorContext(ctx, "audit trail gap: access change not recorded",
		"actor", event.Actor,
		"action", event.Action,
		"object", event.Object,
		"target", event.Target,
		"error", err)
}
