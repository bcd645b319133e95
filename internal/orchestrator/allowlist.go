package orchestrator

import (
	"context"
	"strconv"

	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/diagnostics"
)

// Allowlist wraps an Orchestrator, dropping messages from chats outside a
// configured allowlist before delegation (spec.md §4.6). Grounded on the
// teacher's TelegramChannel.allowedIDs membership check in
// internal/channels/telegram.go, generalized to the spec's normalization
// rule.
type Allowlist struct {
	next    Orchestrator
	allowed map[string]struct{}
}

// NewAllowlist builds a gate over ids. An empty id list disables the gate
// entirely (every chat is allowed).
func NewAllowlist(next Orchestrator, ids []string) *Allowlist {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return &Allowlist{next: next, allowed: allowed}
}

// Enabled reports whether the gate is actively filtering.
func (a *Allowlist) Enabled() bool { return len(a.allowed) > 0 }

func (a *Allowlist) HandleMessage(ctx context.Context, msg channels.InboundMessage) Result {
	if !a.Enabled() || a.isAllowed(msg.ChatID) {
		return a.next.HandleMessage(ctx, msg)
	}

	return Result{
		Diagnostics: []diagnostics.ErrorDetail{
			diagnostics.NewErrorDetail(
				diagnostics.CodeAllowlistDrop,
				"chat_id not allowlisted",
				false,
				diagnostics.SourceOrchestratorDiag,
				diagnostics.CategoryDrop,
				diagnostics.ErrorContext{
					ChatID:    msg.ChatID,
					SessionID: SessionKey(msg.ChatID),
					Layer:     diagnostics.LayerGate,
					Operation: diagnostics.OpAllowlistCheck,
				},
			),
		},
	}
}

// isAllowed applies chat_id equality: numeric when both sides parse as
// integers, string-exact otherwise (spec.md §3 normalization rules).
func (a *Allowlist) isAllowed(chatID string) bool {
	if _, ok := a.allowed[chatID]; ok {
		return true
	}
	candidate, candidateIsNum := toInt(chatID)
	if !candidateIsNum {
		return false
	}
	for id := range a.allowed {
		if allowedNum, ok := toInt(id); ok && allowedNum == candidate {
			return true
		}
	}
	return false
}

func toInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
