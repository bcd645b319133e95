// Package orchestrator implements the pluggable message-handling layer:
// the orchestrator port, the default echo responder, the allowlist gate,
// and the subprocess-backed assistant (spec.md §4.6, §4.7).
package orchestrator

import (
	"context"
	"fmt"

	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/diagnostics"
)

// SessionKey returns the deterministic worker identity for a chat
// (spec.md §3).
func SessionKey(chatID string) string {
	return fmt.Sprintf("telegram:%s", chatID)
}

// Result is the outcome of handling one inbound message: an optional
// outbound reply plus zero or more diagnostics.
type Result struct {
	Outbound    *channels.OutboundMessage
	Diagnostics []diagnostics.ErrorDetail
}

// Orchestrator is the port the single-cycle service dispatches to.
type Orchestrator interface {
	HandleMessage(ctx context.Context, msg channels.InboundMessage) Result
}
