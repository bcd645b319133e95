package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/basket/tg-live/internal/cursorstore"
	"github.com/basket/tg-live/internal/diagnostics"
)

const (
	defaultPollTimeoutS = 30
	defaultPollLimit    = 100
)

// bookkeeping holds the three per-process-lifetime sets of spec.md §3:
// seen, pending, processed. Guarded by a single mutex, mirroring the
// teacher's single-mutator-per-table rule (TelegramChannel.pendingMu).
type bookkeeping struct {
	mu        sync.Mutex
	seen      map[int64]struct{}
	pending   map[int64]string // update_id -> chat_id, for ack bookkeeping
	processed map[int64]struct{}
}

func newBookkeeping() *bookkeeping {
	return &bookkeeping{
		seen:      make(map[int64]struct{}),
		pending:   make(map[int64]string),
		processed: make(map[int64]struct{}),
	}
}

// apiPort is the subset of *APIClient the adapter depends on, narrowed to
// an interface so tests can substitute a fake transport without reaching
// the network.
type apiPort interface {
	GetUpdates(ctx context.Context, offset int64, timeoutS int, limit int) ([]RawUpdate, error)
	SendMessage(ctx context.Context, out OutboundMessage) error
}

// Adapter implements the port consumed by the single-cycle service:
// FetchUpdates, SendMessage, AckUpdate (spec.md §4.3). It composes the API
// client, the pure parser, and the cursor store.
type Adapter struct {
	api    apiPort
	cursor *cursorstore.Store
	policy ParsePolicy

	pollTimeoutS int
	pollLimit    int

	bk *bookkeeping

	// Diagnostics accumulated during the most recent FetchUpdates/AckUpdate
	// call, drained by the caller via TakeDiagnostics after each operation.
	diagMu sync.Mutex
	diags  []diagnostics.ErrorDetail
	drops  []diagnostics.DroppedUpdate
}

// NewAdapter constructs an Adapter. pollTimeoutS/pollLimit of 0 select the
// package defaults.
func NewAdapter(api apiPort, cursor *cursorstore.Store, policy ParsePolicy, pollTimeoutS, pollLimit int) *Adapter {
	if pollTimeoutS <= 0 {
		pollTimeoutS = defaultPollTimeoutS
	}
	if pollLimit <= 0 {
		pollLimit = defaultPollLimit
	}
	a := &Adapter{
		api:          api,
		cursor:       cursor,
		policy:       policy,
		pollTimeoutS: pollTimeoutS,
		pollLimit:    pollLimit,
		bk:           newBookkeeping(),
	}
	cursor.OnDiagnostic = func(op, message string, retryable bool) {
		code := diagnostics.CodeCursorLoadFailed
		if op == "save" {
			code = diagnostics.CodeCursorSaveFailed
		}
		a.addDiag(diagnostics.NewErrorDetail(
			code, message, retryable,
			diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
			diagnostics.ErrorContext{Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpFetchUpdates},
		))
	}
	return a
}

// Start performs the initial cursor load. Must be called once before the
// first FetchUpdates.
func (a *Adapter) Start() error {
	return a.cursor.Load()
}

// TakeDiagnostics drains and returns the diagnostics accumulated since the
// last call.
func (a *Adapter) TakeDiagnostics() ([]diagnostics.ErrorDetail, []diagnostics.DroppedUpdate) {
	a.diagMu.Lock()
	defer a.diagMu.Unlock()
	d, dr := a.diags, a.drops
	a.diags, a.drops = nil, nil
	return d, dr
}

func (a *Adapter) addDiag(d diagnostics.ErrorDetail) {
	a.diagMu.Lock()
	defer a.diagMu.Unlock()
	a.diags = append(a.diags, d)
}

// FetchUpdates polls getUpdates at the current committed floor, parses
// each raw update, filters stale ids, registers non-stale ids in seen and
// pending, advances the poll offset deterministically, and persists the
// cursor (spec.md §4.3). On API failure it returns a structured error and
// leaves no partial bookkeeping state behind.
func (a *Adapter) FetchUpdates(ctx context.Context) ([]InboundMessage, error) {
	floor := a.cursor.Floor()

	raws, err := a.api.GetUpdates(ctx, floor, a.pollTimeoutS, a.pollLimit)
	if err != nil {
		return nil, err
	}

	var maxSeenID int64 = -1
	messages := make([]InboundMessage, 0, len(raws))

	for _, ru := range raws {
		if ru.UpdateID > maxSeenID {
			maxSeenID = ru.UpdateID
		}

		if ru.UpdateID < floor {
			a.addDiag(diagnostics.NewErrorDetail(
				diagnostics.CodeStaleDrop,
				fmt.Sprintf("update %d is below committed floor %d", ru.UpdateID, floor),
				false, diagnostics.SourceAdapterDiag, diagnostics.CategoryDrop,
				diagnostics.ErrorContext{UpdateID: fmt.Sprint(ru.UpdateID), Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpFetchUpdates},
			))
			continue
		}

		msg, skip, perr := ParseUpdate(ru.Raw, a.policy)
		if perr != nil {
			// A malformed raw update from the upstream API is not a
			// stale-drop and not a parse-skip: surface it as an error so
			// it is visible, but still register the id so it is not
			// re-fetched forever.
			a.addDiag(diagnostics.NewErrorDetail(
				diagnostics.CodeUpdateDecodeFailed, fmt.Sprintf("update %d: %v", ru.UpdateID, perr), false,
				diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
				diagnostics.ErrorContext{UpdateID: fmt.Sprint(ru.UpdateID), Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpFetchUpdates},
			))
			a.registerSeen(ru.UpdateID, "")
			continue
		}
		if skip != "" {
			// Non-text updates are neither errors nor drops; they simply
			// never become an InboundMessage, but their id still
			// participates in offset advancement (see the open-question
			// decision in SPEC_FULL.md §9).
			a.registerSeen(ru.UpdateID, "")
			continue
		}

		a.registerSeen(ru.UpdateID, msg.ChatID)
		messages = append(messages, *msg)
	}

	if maxSeenID >= floor {
		if _, err := a.cursor.Advance(maxSeenID + 1); err != nil {
			a.addDiag(diagnostics.NewErrorDetail(
				diagnostics.CodeCursorSaveFailed, fmt.Sprintf("cursor state save failed: %v", err), true,
				diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
				diagnostics.ErrorContext{Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpFetchUpdates},
			))
		}
	}

	return messages, nil
}

func (a *Adapter) registerSeen(updateID int64, chatID string) {
	a.bk.mu.Lock()
	defer a.bk.mu.Unlock()
	a.bk.seen[updateID] = struct{}{}
	a.bk.pending[updateID] = chatID
}

// SendMessage delegates to the API client.
func (a *Adapter) SendMessage(ctx context.Context, out OutboundMessage) error {
	return a.api.SendMessage(ctx, out)
}

// AckUpdate moves an update from pending to processed, advancing the
// cursor floor past it only when it is (or becomes, after removal) the
// minimum pending id (spec.md §4.3). Unknown ids yield an ack-update-failed
// diagnostic without aborting the cycle.
func (a *Adapter) AckUpdate(updateIDStr string) error {
	var updateID int64
	if _, err := fmt.Sscanf(updateIDStr, "%d", &updateID); err != nil {
		a.addDiag(diagnostics.NewErrorDetail(
			diagnostics.CodeAckUpdateFailed, fmt.Sprintf("ack failed: invalid update id %q", updateIDStr), true,
			diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
			diagnostics.ErrorContext{UpdateID: updateIDStr, Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpAckUpdate},
		))
		return fmt.Errorf("invalid update id %q", updateIDStr)
	}

	a.bk.mu.Lock()
	_, ok := a.bk.pending[updateID]
	if !ok {
		a.bk.mu.Unlock()
		a.addDiag(diagnostics.NewErrorDetail(
			diagnostics.CodeAckUpdateFailed, fmt.Sprintf("ack failed: update %d not pending", updateID), true,
			diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
			diagnostics.ErrorContext{UpdateID: updateIDStr, Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpAckUpdate},
		))
		return fmt.Errorf("update %d not pending", updateID)
	}

	delete(a.bk.pending, updateID)
	a.bk.processed[updateID] = struct{}{}
	minPending := a.minPendingLocked()
	a.bk.mu.Unlock()

	if minPending > updateID {
		if _, err := a.cursor.Advance(minPending); err != nil {
			a.addDiag(diagnostics.NewErrorDetail(
				diagnostics.CodeCursorSaveFailed, fmt.Sprintf("cursor state save failed: %v", err), true,
				diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
				diagnostics.ErrorContext{UpdateID: updateIDStr, Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpAckUpdate},
			))
		}
	}
	return nil
}

// minPendingLocked returns the smallest pending update id, or the current
// floor+... actually the caller's cursor floor if pending is now empty.
// Must be called with bk.mu held.
func (a *Adapter) minPendingLocked() int64 {
	if len(a.bk.pending) == 0 {
		return a.cursor.Floor()
	}
	min := int64(-1)
	for id := range a.bk.pending {
		if min == -1 || id < min {
			min = id
		}
	}
	return min
}
