package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/diagnostics"
)

func TestAllowlistDisabledWhenEmpty(t *testing.T) {
	gate := NewAllowlist(NewEcho(), nil)
	if gate.Enabled() {
		t.Fatalf("expected gate disabled with empty allowlist")
	}
	res := gate.HandleMessage(context.Background(), channels.InboundMessage{ChatID: "1", Text: "hi", UpdateID: "1"})
	if res.Outbound == nil {
		t.Fatalf("expected message to pass through when gate is disabled")
	}
}

func TestAllowlistAllowsExactMatch(t *testing.T) {
	gate := NewAllowlist(NewEcho(), []string{"42"})
	res := gate.HandleMessage(context.Background(), channels.InboundMessage{ChatID: "42", Text: "hi", UpdateID: "1"})
	if res.Outbound == nil {
		t.Fatalf("expected allowed chat to be delegated")
	}
}

func TestAllowlistNumericEquivalence(t *testing.T) {
	gate := NewAllowlist(NewEcho(), []string{"0042"})
	res := gate.HandleMessage(context.Background(), channels.InboundMessage{ChatID: "42", Text: "hi", UpdateID: "1"})
	if res.Outbound == nil {
		t.Fatalf("expected numeric-equivalent chat id to be allowed")
	}
}

func TestAllowlistDropsMiss(t *testing.T) {
	gate := NewAllowlist(NewEcho(), []string{"1"})
	res := gate.HandleMessage(context.Background(), channels.InboundMessage{ChatID: "2", Text: "hi", UpdateID: "1"})
	if res.Outbound != nil {
		t.Fatalf("expected no outbound for disallowed chat")
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %d", len(res.Diagnostics))
	}
	d := res.Diagnostics[0]
	if d.Code != diagnostics.CodeAllowlistDrop || d.Category != diagnostics.CategoryDrop || d.Retryable {
		t.Fatalf("unexpected diagnostic: %+v", d)
	}
	if d.Context.Operation != diagnostics.OpAllowlistCheck || d.Context.Layer != diagnostics.LayerGate {
		t.Fatalf("unexpected diagnostic context: %+v", d.Context)
	}
	if !strings.Contains(d.Message, "chat_id not allowlisted") {
		t.Fatalf("expected message to contain %q, got %q", "chat_id not allowlisted", d.Message)
	}
}

func TestAllowlistNonNumericStringExact(t *testing.T) {
	gate := NewAllowlist(NewEcho(), []string{"abc"})
	if !gate.isAllowed("abc") {
		t.Fatalf("expected exact string match to be allowed")
	}
	if gate.isAllowed("abd") {
		t.Fatalf("expected non-matching non-numeric string to be disallowed")
	}
}
