package channels

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/basket/tg-live/internal/cursorstore"
	"github.com/basket/tg-live/internal/diagnostics"
)

// fakeAPI is a scripted apiPort: each call to GetUpdates pops the next
// queued batch, SendMessage records what was sent.
type fakeAPI struct {
	batches [][]RawUpdate
	sent    []OutboundMessage
	sendErr error
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, timeoutS, limit int) ([]RawUpdate, error) {
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, out OutboundMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, out)
	return nil
}

func textRawUpdate(updateID, chatID, userID int64, text string) RawUpdate {
	raw := textUpdateJSON(updateID, chatID, userID, text, 1700000000)
	return RawUpdate{Raw: raw, UpdateID: updateID}
}

func newTestAdapter(t *testing.T, api apiPort) *Adapter {
	t.Helper()
	cs := cursorstore.New(filepath.Join(t.TempDir(), "cursor.json"))
	a := NewAdapter(api, cs, ParsePolicy{}, 1, 10)
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func TestFetchUpdatesParsesAndAdvancesCursor(t *testing.T) {
	api := &fakeAPI{batches: [][]RawUpdate{{
		textRawUpdate(1, 10, 1, "hello"),
		textRawUpdate(2, 10, 1, "world"),
	}}}
	a := newTestAdapter(t, api)

	msgs, err := a.FetchUpdates(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].UpdateID != "1" || msgs[1].UpdateID != "2" {
		t.Fatalf("expected ordered update ids, got %+v", msgs)
	}
}

func TestFetchUpdatesDropsStaleBelowFloor(t *testing.T) {
	api := &fakeAPI{batches: [][]RawUpdate{
		{textRawUpdate(5, 10, 1, "first")},
		{textRawUpdate(3, 10, 1, "stale"), textRawUpdate(6, 10, 1, "second")},
	}}
	a := newTestAdapter(t, api)

	if _, err := a.FetchUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Floor is now 6 (max seen 5 + 1).
	msgs, err := a.FetchUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].UpdateID != "6" {
		t.Fatalf("expected only update 6 to survive, got %+v", msgs)
	}

	diags, _ := a.TakeDiagnostics()
	var sawStaleDrop bool
	for _, d := range diags {
		if d.Code == diagnostics.CodeStaleDrop && d.Category == diagnostics.CategoryDrop {
			sawStaleDrop = true
		}
	}
	if !sawStaleDrop {
		t.Fatalf("expected a stale-drop diagnostic, got %+v", diags)
	}
}

func TestFetchUpdatesSkipsNonTextButStillAdvances(t *testing.T) {
	api := &fakeAPI{batches: [][]RawUpdate{{
		{Raw: []byte(`{"update_id":9}`), UpdateID: 9},
		textRawUpdate(10, 10, 1, "hi"),
	}}}
	a := newTestAdapter(t, api)

	msgs, err := a.FetchUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].UpdateID != "10" {
		t.Fatalf("expected only the text update to be returned, got %+v", msgs)
	}

	// Offset advanced past both ids (9 and 10), not just the parsed one.
	api.batches = [][]RawUpdate{{textRawUpdate(9, 10, 1, "should not resurface")}}
	msgs2, err := a.FetchUpdates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs2) != 0 {
		t.Fatalf("expected update 9 to be treated as stale after the floor advanced past it, got %+v", msgs2)
	}
}

func TestAckUpdateAdvancesCursorOnlyAtMinimum(t *testing.T) {
	api := &fakeAPI{batches: [][]RawUpdate{{
		textRawUpdate(1, 10, 1, "a"),
		textRawUpdate(2, 10, 1, "b"),
	}}}
	a := newTestAdapter(t, api)
	if _, err := a.FetchUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Ack the second update first: floor must not advance yet because 1
	// is still pending.
	if err := a.AckUpdate("2"); err != nil {
		t.Fatal(err)
	}
	if a.cursor.Floor() != 3 {
		// FetchUpdates already advanced the floor to 3 (max update_id + 1)
		// regardless of ack order, since offset advancement is driven by
		// fetch, not ack. Acking 2 before 1 must not regress it.
		t.Fatalf("expected floor to remain at 3 after out-of-order ack, got %d", a.cursor.Floor())
	}

	if err := a.AckUpdate("1"); err != nil {
		t.Fatal(err)
	}
	if a.cursor.Floor() != 3 {
		t.Fatalf("expected floor to remain 3 after both acked, got %d", a.cursor.Floor())
	}
}

func TestAckUpdateUnknownIDDiagnoses(t *testing.T) {
	a := newTestAdapter(t, &fakeAPI{})
	if err := a.AckUpdate("999"); err == nil {
		t.Fatalf("expected error for unknown update id")
	}
	diags, _ := a.TakeDiagnostics()
	if len(diags) != 1 || diags[0].Code != diagnostics.CodeAckUpdateFailed {
		t.Fatalf("expected one ack-update-failed diagnostic, got %+v", diags)
	}
}

func TestSendMessageDelegatesToAPI(t *testing.T) {
	api := &fakeAPI{}
	a := newTestAdapter(t, api)
	out := OutboundMessage{ChatID: "10", Text: "hi"}
	if err := a.SendMessage(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 1 || api.sent[0] != out {
		t.Fatalf("expected SendMessage to reach the api port, got %+v", api.sent)
	}
}

func TestSendMessagePropagatesError(t *testing.T) {
	api := &fakeAPI{sendErr: fmt.Errorf("boom")}
	a := newTestAdapter(t, api)
	if err := a.SendMessage(context.Background(), OutboundMessage{ChatID: "1", Text: "x"}); err == nil {
		t.Fatalf("expected error to propagate")
	}
}
