// Package telemetry provides the runtime's structured logger (this file)
// and OpenTelemetry counter/span emission (otel.go).
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/basket/tg-live/internal/shared"
)

// NewLogger builds a stderr-only slog JSON logger with secret redaction.
// Grounded directly on the teacher's internal/telemetry/logging.go
// (slog.NewJSONHandler, ReplaceAttr-based redaction of token/secret/bearer
// keys and values), trimmed of its io.MultiWriter-to-log-file behavior:
// this runtime has no homeDir/log-file convention, and stdout is reserved
// exclusively for the one-line-per-cycle CycleResult JSON contract
// (spec.md §6), so logs go to stderr only.
func NewLogger(level string) *slog.Logger {
	return NewLoggerWriter(level, os.Stderr)
}

// NewLoggerWriter is NewLogger with an explicit sink, so tests can inspect
// emitted records without touching the process's real stderr.
func NewLoggerWriter(level string, w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			if shouldRedactKey(a.Key) {
				return slog.String(a.Key, "[REDACTED]")
			}
			if a.Value.Kind() == slog.KindString {
				if redacted, ok := redactStringValue(a.Value.String()); ok {
					return slog.String(a.Key, redacted)
				}
			}
			return a
		},
	})
	return slog.New(handler).With("component", "tglive")
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	sensitiveTokens := []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}
	for _, token := range sensitiveTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") {
		return "[REDACTED]", true
	}
	if strings.Contains(lower, "api_key") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	redacted := shared.Redact(v)
	if redacted != v {
		return redacted, true
	}
	return v, false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
