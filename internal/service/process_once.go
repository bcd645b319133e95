// Package service implements the single-cycle processing kernel
// (spec.md §4.5): the minimal orchestration that fetches, dispatches,
// sends, and acks within one deterministic pass.
//
// Grounded on the teacher's internal/coordinator/executor.go
// Executor.Execute/executeWave control flow — sequential per-item
// processing with per-item result accumulation and wrap-and-continue on
// per-item error — adapted from DAG waves to a flat, fetch-ordered list.
package service

import (
	"context"
	"fmt"

	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/diagnostics"
	"github.com/basket/tg-live/internal/orchestrator"
)

// AckPolicy selects when ack_update is called relative to handle/send
// outcome (spec.md §4.5).
type AckPolicy string

const (
	AckAlways     AckPolicy = "always"
	AckOnSuccess  AckPolicy = "on-success"
)

// Adapter is the subset of channels.Adapter the service depends on,
// narrowed to an interface so tests can substitute a fake.
type Adapter interface {
	FetchUpdates(ctx context.Context) ([]channels.InboundMessage, error)
	SendMessage(ctx context.Context, out channels.OutboundMessage) error
	AckUpdate(updateID string) error
	TakeDiagnostics() ([]diagnostics.ErrorDetail, []diagnostics.DroppedUpdate)
}

// ProcessOnce runs exactly one fetch/dispatch/send/ack pass and returns
// the canonical CycleResult (spec.md §4.5). Panics from within the
// per-message loop are recovered and surfaced as
// runtime-process-once-exception rather than propagating.
//
// strictCursorIO controls whether a cursor-state load/save diagnostic
// escalates the cycle to status=failed (spec.md §4.3: "fatal only when
// strict cursor IO is on"). The diagnostic is always present in
// error_details and counted in CycleResult.Error either way; strictCursorIO
// only gates the status/reason classification.
func ProcessOnce(ctx context.Context, adapter Adapter, orch orchestrator.Orchestrator, ackPolicy AckPolicy, strictCursorIO bool) (result *diagnostics.CycleResult) {
	result = diagnostics.NewCycleResult()

	defer func() {
		if r := recover(); r != nil {
			result = diagnostics.NewCycleResult()
			result.Status = diagnostics.StatusFailed
			result.Reason = diagnostics.ReasonProcessOnceException
			result.AddError(diagnostics.NewErrorDetail(
				"process-once-panic", fmt.Sprintf("unexpected failure in process_once: %v", r), false,
				diagnostics.SourceService, diagnostics.CategoryError,
				diagnostics.ErrorContext{Layer: diagnostics.LayerService, Operation: diagnostics.OpHandleMessage},
			))
		}
	}()

	messages, err := adapter.FetchUpdates(ctx)
	if err != nil {
		result.Status = diagnostics.StatusFailed
		result.Reason = diagnostics.ReasonAdapterFetchException
		result.AddError(diagnostics.NewErrorDetail(
			diagnostics.CodeAdapterFetchException, err.Error(), true,
			diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
			diagnostics.ErrorContext{Layer: diagnostics.LayerAdapter, Operation: diagnostics.OpFetchUpdates},
		))
		drainAdapterDiagnostics(adapter, result)
		return result
	}
	result.Fetched = len(messages)
	drainAdapterDiagnostics(adapter, result)

	if len(messages) == 0 {
		result.Status = diagnostics.StatusOK
		result.Reason = diagnostics.ReasonNoUpdates
		return result
	}

	for _, msg := range messages {
		processOne(ctx, adapter, orch, ackPolicy, msg, result)
	}

	if hasFatalError(result.ErrorDetails, strictCursorIO) {
		result.Status = diagnostics.StatusFailed
		result.Reason = diagnostics.ReasonCompletedWithErrors
	} else {
		result.Status = diagnostics.StatusOK
		result.Reason = diagnostics.ReasonProcessed
	}
	return result
}

// hasFatalError reports whether any error_detail should escalate the cycle
// to status=failed: drops never do, and a cursor-IO diagnostic only does
// when strictCursorIO is set (spec.md §4.3).
func hasFatalError(details []diagnostics.ErrorDetail, strictCursorIO bool) bool {
	for _, d := range details {
		if d.IsDrop() {
			continue
		}
		if diagnostics.IsCursorIODiagnostic(d.Code) && !strictCursorIO {
			continue
		}
		return true
	}
	return false
}

// processOne runs handle → send → ack for a single inbound message,
// accumulating into result (spec.md §4.5 step 3).
func processOne(ctx context.Context, adapter Adapter, orch orchestrator.Orchestrator, ackPolicy AckPolicy, msg channels.InboundMessage, result *diagnostics.CycleResult) {
	handleRes := orch.HandleMessage(ctx, msg)
	for _, d := range handleRes.Diagnostics {
		result.AddError(d)
		if d.IsDrop() {
			result.DroppedUpdates = append(result.DroppedUpdates, diagnostics.DroppedUpdate{
				UpdateID: msg.UpdateID, ChatID: msg.ChatID, Reason: d.Message,
			})
		}
	}
	handleFailed := hasNonDropError(handleRes.Diagnostics)

	sendFailed := false
	if handleRes.Outbound != nil {
		if err := adapter.SendMessage(ctx, *handleRes.Outbound); err != nil {
			sendFailed = true
			result.AddError(diagnostics.NewErrorDetail(
				diagnostics.CodeSendMessageFailed, err.Error(), true,
				diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
				diagnostics.ErrorContext{
					UpdateID:  msg.UpdateID,
					ChatID:    msg.ChatID,
					SessionID: orchestrator.SessionKey(msg.ChatID),
					Layer:     diagnostics.LayerAdapter,
					Operation: diagnostics.OpSendMessage,
				},
			))
		} else {
			result.Sent++
		}
	}

	shouldAck := ackPolicy == AckAlways || (!handleFailed && !sendFailed)
	if shouldAck {
		if err := adapter.AckUpdate(msg.UpdateID); err != nil {
			result.AddError(diagnostics.NewErrorDetail(
				diagnostics.CodeAckUpdateFailed, err.Error(), true,
				diagnostics.SourceAdapterDiag, diagnostics.CategoryError,
				diagnostics.ErrorContext{
					UpdateID:  msg.UpdateID,
					ChatID:    msg.ChatID,
					SessionID: orchestrator.SessionKey(msg.ChatID),
					Layer:     diagnostics.LayerAdapter,
					Operation: diagnostics.OpAckUpdate,
				},
			))
		} else {
			result.Acked++
		}
	} else {
		result.AckSkipped++
	}

	drainAdapterDiagnostics(adapter, result)
}

func hasNonDropError(details []diagnostics.ErrorDetail) bool {
	for _, d := range details {
		if !d.IsDrop() {
			return true
		}
	}
	return false
}

func drainAdapterDiagnostics(adapter Adapter, result *diagnostics.CycleResult) {
	diags, drops := adapter.TakeDiagnostics()
	for _, d := range diags {
		result.AddError(d)
		if d.IsDrop() {
			result.DroppedUpdates = append(result.DroppedUpdates, diagnostics.DroppedUpdate{
				UpdateID: d.Context.UpdateID, ChatID: d.Context.ChatID, Reason: d.Message,
			})
		}
	}
	result.DroppedUpdates = append(result.DroppedUpdates, drops...)
}
