package log

import (
	"context"
	"log/slog"
	"net/http"
)

// StructuredLogger writes the fixed-shape records other tools parse: HTTP
// access lines and ledger mutations.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogHTTPEnd logs the completion of an HTTP request. 4xx log at warn and
// 5xx at error.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogLedgerMutation logs a committed ledger change.
func (sl *StructuredLogger) LogLedgerMutation(ctx context.Context, op, userID, kind, entryID, amount string, year, month int, balance string) {
	fields := NewFields().
		WithUser(userID).
		WithEntry(kind, entryID, amount, year, month).
		WithOperation(op).
		WithComponent(ComponentLedger).
		ToSlice()

	fields = append(fields, FieldBalance, balance)

	sl.logger.Logger.InfoContext(ctx, "Ledger updated", fields...)
}
