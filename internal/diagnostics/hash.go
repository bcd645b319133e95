package diagnostics

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// DiagnosticID computes a stable short hash of (code, context, normalized
// message) so that repeated occurrences of the same diagnostic collapse to
// one entry within a cycle (spec.md P10) and external consumers can
// de-duplicate across cycles. Grounded on the teacher's own use of
// hash/fnv for stable short hashes (internal/persistence/store.go,
// internal/config/config.go).
func DiagnosticID(code string, ctx ErrorContext, message string) string {
	h := fnv.New64a()
	parts := []string{
		code,
		ctx.Layer,
		ctx.Operation,
		ctx.UpdateID,
		ctx.ChatID,
		ctx.SessionID,
		normalizeMessage(message),
	}
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return strconv.FormatUint(h.Sum64(), 16)
}

// normalizeMessage collapses incidental whitespace differences so that
// semantically identical messages hash identically.
func normalizeMessage(message string) string {
	fields := strings.Fields(message)
	return strings.Join(fields, " ")
}
