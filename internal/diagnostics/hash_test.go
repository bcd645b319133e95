package diagnostics

import "testing"

func TestDiagnosticIDStableAcrossRuns(t *testing.T) {
	ctx := ErrorContext{UpdateID: "100", ChatID: "42", Layer: LayerAdapter, Operation: OpFetchUpdates}
	a := DiagnosticID(CodeStaleDrop, ctx, "stale update dropped")
	b := DiagnosticID(CodeStaleDrop, ctx, "stale update dropped")
	if a != b {
		t.Fatalf("expected identical diagnostic ids, got %q and %q", a, b)
	}
}

func TestDiagnosticIDDiffersOnContext(t *testing.T) {
	ctx1 := ErrorContext{UpdateID: "100", ChatID: "42", Layer: LayerAdapter, Operation: OpFetchUpdates}
	ctx2 := ErrorContext{UpdateID: "101", ChatID: "42", Layer: LayerAdapter, Operation: OpFetchUpdates}
	a := DiagnosticID(CodeStaleDrop, ctx1, "stale update dropped")
	b := DiagnosticID(CodeStaleDrop, ctx2, "stale update dropped")
	if a == b {
		t.Fatalf("expected different diagnostic ids for different contexts")
	}
}

func TestDiagnosticIDNormalizesWhitespace(t *testing.T) {
	ctx := ErrorContext{Layer: LayerService, Operation: OpHandleMessage}
	a := DiagnosticID(CodeCodexTimeout, ctx, "timed   out\nwaiting")
	b := DiagnosticID(CodeCodexTimeout, ctx, "timed out waiting")
	if a != b {
		t.Fatalf("expected whitespace-normalized messages to hash identically")
	}
}

func TestAddErrorCollapsesDuplicates(t *testing.T) {
	cr := NewCycleResult()
	ctx := ErrorContext{UpdateID: "1", ChatID: "2", Layer: LayerAdapter, Operation: OpFetchUpdates}
	d := NewErrorDetail(CodeStaleDrop, "stale", true, SourceAdapterDiag, CategoryDrop, ctx)
	cr.AddError(d)
	cr.AddError(d)
	if len(cr.ErrorDetails) != 1 {
		t.Fatalf("expected duplicate error detail to collapse, got %d entries", len(cr.ErrorDetails))
	}
	if cr.Dropped != 1 {
		t.Fatalf("expected dropped count 1, got %d", cr.Dropped)
	}
}
