// Package runtime composes the configured adapter, orchestrator, and
// service kernel into the cycle-scheduling loop of spec.md §4.8, and
// synthesizes + emits the per-cycle telemetry and CycleResult payload.
//
// Grounded on the teacher's internal/engine/loop.go LoopRunner.Run: the
// same budget/deadline-checked `for { ... }` shape with periodic side
// effects, adapted from an LLM-agent step loop (budget=tokens/steps,
// checkpoint every N steps) to a fetch/poll-interval cycle loop
// (budget=none, side effect every cycle). The best-effort event emission
// (bus publish + OTel span/counters + sqlite audit row, all behind a
// recover-wrapped call that only ever perturbs heartbeat_emit_failures)
// is grounded on the teacher's internal/engine/heartbeat.go
// HeartbeatManager.Start ticker pattern, adapted from a background
// goroutine to an inline post-cycle step since this loop is already
// single-threaded and sequential (spec.md §5).
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/basket/tg-live/internal/bus"
	"github.com/basket/tg-live/internal/config"
	"github.com/basket/tg-live/internal/diagnostics"
	"github.com/basket/tg-live/internal/orchestrator"
	"github.com/basket/tg-live/internal/service"
	"github.com/basket/tg-live/internal/shared"
	"github.com/basket/tg-live/internal/telemetry"
)

// Loop owns exactly one composed runtime: the adapter/orchestrator pair,
// the ack policy, and the optional best-effort telemetry sinks.
type Loop struct {
	cfg       config.Config
	adapter   service.Adapter
	orch      orchestrator.Orchestrator
	ackPolicy service.AckPolicy
	logger    *slog.Logger

	bus       *bus.Bus
	telemetry *telemetry.Provider
	audit     *bus.AuditSink

	out io.Writer
}

// NewLoop builds a Loop. telemetry/bus/audit may all be nil, in which case
// the event emitter reports telemetry.heartbeat.emit_state=disabled.
func NewLoop(cfg config.Config, adapter service.Adapter, orch orchestrator.Orchestrator, logger *slog.Logger, eventBus *bus.Bus, telemetryProvider *telemetry.Provider, audit *bus.AuditSink) *Loop {
	ackPolicy := service.AckOnSuccess
	if cfg.AckPolicy == config.AckPolicyAlways {
		ackPolicy = service.AckAlways
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:       cfg,
		adapter:   adapter,
		orch:      orch,
		ackPolicy: ackPolicy,
		logger:    logger,
		bus:       eventBus,
		telemetry: telemetryProvider,
		audit:     audit,
		out:       os.Stdout,
	}
}

// Run drives the cycle schedule to completion and returns the process exit
// code (spec.md §4.8): 0 on normal continuous operation or --once with a
// non-failed status, 1 on --once with status=failed, 130 on interrupt.
// Invalid-config (exit 2) is the caller's responsibility before Run is
// ever reached.
func (l *Loop) Run(ctx context.Context) int {
	for {
		if ctx.Err() != nil {
			return 130
		}

		result := l.runCycle(ctx)
		if err := EmitPayload(l.out, result); err != nil {
			l.logger.Error("failed to emit cycle payload", "err", err)
		}

		if l.cfg.Once {
			if result.Status == diagnostics.StatusFailed {
				return 1
			}
			return 0
		}

		if l.cfg.PollIntervalS > 0 {
			select {
			case <-ctx.Done():
				return 130
			case <-time.After(time.Duration(l.cfg.PollIntervalS) * time.Second):
			}
		} else if ctx.Err() != nil {
			return 130
		}
	}
}

// runCycle executes one process_once pass, with an outer safety net for
// anything that escapes it, then synthesizes telemetry and fires the
// best-effort event emitter.
func (l *Loop) runCycle(ctx context.Context) *diagnostics.CycleResult {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	logger := l.logger.With("trace_id", shared.TraceID(ctx))

	start := time.Now()
	result := l.safeProcessOnce(ctx)
	cycleMs := time.Since(start).Milliseconds()

	result.Telemetry.Counters.FetchTotal = result.Fetched
	result.Telemetry.Counters.SendTotal = result.Sent
	result.Telemetry.Counters.DropTotal = result.Dropped
	result.Telemetry.TimersMs.CycleTotalMs = cycleMs

	l.emitEvent(ctx, result, logger)
	result.Telemetry.Counters.HeartbeatEmitFailures = result.HeartbeatEmitFailures
	logger.Info("cycle complete", "status", result.Status, "reason", result.Reason,
		"fetched", result.Fetched, "sent", result.Sent, "acked", result.Acked, "dropped", result.Dropped)
	return result
}

// safeProcessOnce wraps service.ProcessOnce in its own recover, converting
// anything that escapes process_once's own panic handling into
// runtime-loop-cycle-exception / source=runtime-wrapper (spec.md §4.8
// catch-all).
func (l *Loop) safeProcessOnce(ctx context.Context) (result *diagnostics.CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			result = diagnostics.NewCycleResult()
			result.Status = diagnostics.StatusFailed
			result.Reason = diagnostics.ReasonLoopCycleException
			result.AddError(diagnostics.NewErrorDetail(
				diagnostics.CodeRuntimeLoopCycleException,
				fmt.Sprintf("unrecovered failure in runtime loop: %v", r), false,
				diagnostics.SourceRuntimeWrapper, diagnostics.CategoryError,
				diagnostics.ErrorContext{Layer: diagnostics.LayerRuntimeWrapper, Operation: diagnostics.OpHandleMessage},
			))
		}
	}()
	return service.ProcessOnce(ctx, l.adapter, l.orch, l.ackPolicy, l.cfg.StrictCursorStateIO)
}

// emitEvent calls the configured event emitter paths (bus, OTel, audit
// sink) best-effort: a panic or error here only ever perturbs
// heartbeat_emit_failures and telemetry.heartbeat.emit_state, never
// status/reason/other counts (spec.md P11).
func (l *Loop) emitEvent(ctx context.Context, result *diagnostics.CycleResult, logger *slog.Logger) {
	if l.bus == nil && l.telemetry == nil && l.audit == nil {
		result.Telemetry.Heartbeat.EmitState = diagnostics.HeartbeatDisabled
		return
	}
	if err := l.tryEmit(ctx, result); err != nil {
		result.HeartbeatEmitFailures++
		result.Telemetry.Heartbeat.EmitState = diagnostics.HeartbeatEmitFailed
		logger.Warn("event emitter failed", "err", err)
		return
	}
	result.Telemetry.Heartbeat.EmitState = diagnostics.HeartbeatEmitted
}

func (l *Loop) tryEmit(ctx context.Context, result *diagnostics.CycleResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	topic := bus.TopicCycleCompleted
	severity := "info"
	if result.Status == diagnostics.StatusFailed {
		topic = bus.TopicCycleFailed
		severity = "error"
	}

	digest := &bus.TelemetryDigest{
		FetchTotal:     result.Fetched,
		SendTotal:      result.Sent,
		DropTotal:      result.Dropped,
		CycleTotalMs:   result.Telemetry.TimersMs.CycleTotalMs,
		HeartbeatState: diagnostics.HeartbeatEmitted,
	}

	if l.bus != nil {
		l.bus.Publish(topic, bus.SystemEvent{Severity: severity, Layer: "runtime", Operation: "emit_event", Digest: digest})
		for _, d := range result.ErrorDetails {
			diagTopic := bus.TopicDiagnosticError
			if d.IsDrop() {
				diagTopic = bus.TopicDiagnosticDrop
			}
			l.bus.Publish(diagTopic, bus.SystemEvent{
				Severity: severity, UpdateID: d.Context.UpdateID, ChatID: d.Context.ChatID,
				SessionID: d.Context.SessionID, Layer: d.Context.Layer, Operation: d.Context.Operation,
			})
		}
	}

	if l.telemetry != nil {
		l.telemetry.RecordCycle(ctx, result.Status, result.Reason, result.Fetched, result.Sent, result.Dropped, result.Telemetry.TimersMs.CycleTotalMs)
	}

	if l.audit != nil {
		now := time.Now().Unix()
		l.audit.RecordEvent(now, topic, severity, "", "", "", "runtime", "emit_event", "")
		for _, d := range result.ErrorDetails {
			diagTopic := bus.TopicDiagnosticError
			if d.IsDrop() {
				diagTopic = bus.TopicDiagnosticDrop
			}
			l.audit.RecordEvent(now, diagTopic, severity, d.Context.UpdateID, d.Context.ChatID, d.Context.SessionID, d.Context.Layer, d.Context.Operation, d.DiagnosticID)
		}
	}

	return nil
}
