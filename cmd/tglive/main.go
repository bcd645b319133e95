// Command tglive runs the long-polling Telegram bot runtime described by
// spec.md: one cycle of fetch/dispatch/send/ack per pass, emitting a
// canonical CycleResult JSON line on stdout.
//
// Grounded on the teacher's cmd/goclaw/main.go wiring shape (flag/env
// config load, isatty-gated banner, signal-aware context, component
// construction, slog.SetDefault), trimmed of the TUI/daemon/skill/pull
// subcommands this runtime has no equivalent of.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/basket/tg-live/internal/bus"
	"github.com/basket/tg-live/internal/channels"
	"github.com/basket/tg-live/internal/config"
	"github.com/basket/tg-live/internal/cursorstore"
	"github.com/basket/tg-live/internal/diagnostics"
	"github.com/basket/tg-live/internal/orchestrator"
	"github.com/basket/tg-live/internal/runtime"
	"github.com/basket/tg-live/internal/telemetry"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=...".
var Version = "v1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "status" {
		return runStatusCommand(args[1:])
	}

	cfg, err := config.Load(args)
	if err != nil {
		return reportInvalidConfig(err)
	}

	if cfg.DumpConfig {
		return dumpConfig(cfg)
	}

	logger := telemetry.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	printBanner()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adapter, err := buildAdapter(cfg)
	if err != nil {
		logger.Error("failed to construct channel adapter", "err", err)
		return 2
	}
	if err := adapter.Start(); err != nil {
		logger.Error("failed to prime channel adapter", "err", err)
		return 2
	}

	orch := buildOrchestrator(cfg)

	eventBus := bus.NewWithLogger(logger)

	telemetryProvider, err := telemetry.NewProvider(ctx, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("telemetry provider disabled: failed to initialize", "err", err)
		telemetryProvider = nil
	} else {
		defer telemetryProvider.Shutdown(context.Background())
	}

	var auditSink *bus.AuditSink
	if cfg.AuditDBPath != "" {
		auditSink, err = bus.NewAuditSink(cfg.AuditDBPath, 0, logger)
		if err != nil {
			logger.Warn("audit sink disabled: failed to open", "err", err)
			auditSink = nil
		} else {
			defer auditSink.Close()
		}
	}

	loop := runtime.NewLoop(cfg, adapter, orch, logger, eventBus, telemetryProvider, auditSink)
	return loop.Run(ctx)
}

func buildAdapter(cfg config.Config) (*channels.Adapter, error) {
	api, err := channels.NewAPIClient(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	cursor := cursorstore.New(cfg.CursorStatePath)
	policy := channels.ParsePolicy{}
	return channels.NewAdapter(api, cursor, policy, 0, 0), nil
}

// buildOrchestrator picks the base orchestrator by mode, then wraps it
// unconditionally in the allowlist gate (spec.md §4.6); Allowlist disables
// itself when the configured list is empty.
func buildOrchestrator(cfg config.Config) orchestrator.Orchestrator {
	var base orchestrator.Orchestrator
	switch cfg.OrchestratorMode {
	case config.OrchestratorCodex:
		base = orchestrator.NewSubprocess(orchestrator.SubprocessConfig{
			Command:         cfg.CodexCommand,
			Args:            cfg.CodexArgs,
			TimeoutS:        cfg.CodexTimeoutS,
			SessionMax:      cfg.CodexSessionMax,
			SessionIdleTTLS: cfg.CodexSessionIdleTTLS,
			NotifyOnError:   cfg.NotifyOnOrchestratorError,
		})
	default:
		base = orchestrator.NewEcho()
	}
	return orchestrator.NewAllowlist(base, cfg.AllowedChatIDs)
}

// reportInvalidConfig mirrors a malformed-startup cycle as a CycleResult
// on stdout (spec.md §4.8 reasons enumerates invalid-config) and returns
// exit code 2.
func reportInvalidConfig(err error) int {
	result := diagnostics.NewCycleResult()
	result.Status = diagnostics.StatusFailed
	result.Reason = diagnostics.ReasonInvalidConfig
	result.AddError(diagnostics.NewErrorDetail(
		diagnostics.ReasonInvalidConfig, err.Error(), false,
		diagnostics.SourceRuntimeWrapper, diagnostics.CategoryError,
		diagnostics.ErrorContext{Layer: diagnostics.LayerRuntimeWrapper, Operation: "load_config"},
	))
	_ = json.NewEncoder(os.Stdout).Encode(result)
	fmt.Fprintln(os.Stderr, err)
	return 2
}

// dumpConfig prints the resolved configuration as YAML to stderr and
// exits 0, leaving stdout free of anything but the CycleResult contract.
func dumpConfig(cfg config.Config) int {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	fmt.Fprint(os.Stderr, string(out))
	return 0
}

func printBanner() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return
	}
	fmt.Fprintf(os.Stderr, "tglive %s — starting\n", Version)
}
