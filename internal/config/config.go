// Package config resolves the runtime's CLI flag and environment variable
// surface (spec.md §6) into a single typed Config, with CLI > env > default
// precedence. Grounded on the teacher's own typed-config-plus-env-override
// shape (internal/config/config.go: default struct literal, then
// applyEnvOverrides, then normalize) and its cmd/goclaw/main.go flag.Parse
// wiring.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the fully-resolved runtime configuration (spec.md §6).
type Config struct {
	Token          string
	Mode           string
	AckPolicy      string
	PollIntervalS  int
	AllowedChatIDs []string
	LiveMode       bool

	OrchestratorMode          string
	CodexTimeoutS             float64
	NotifyOnOrchestratorError bool
	CodexSessionMax           int
	CodexSessionIdleTTLS      int
	CodexCommand              string
	CodexArgs                 []string

	CursorStatePath     string
	StrictCursorStateIO bool

	Once bool

	LogLevel     string
	OTLPEndpoint string
	AuditDBPath  string

	DumpConfig bool
}

const (
	ModePoll = "poll"

	AckPolicyAlways    = "always"
	AckPolicyOnSuccess = "on-success"

	OrchestratorDefault = "default"
	OrchestratorCodex   = "codex"
)

func defaultConfig() Config {
	return Config{
		Mode:                 ModePoll,
		AckPolicy:            AckPolicyAlways,
		PollIntervalS:        5,
		OrchestratorMode:     OrchestratorDefault,
		CodexTimeoutS:        30,
		CodexSessionMax:      16,
		CodexSessionIdleTTLS: 600,
		CodexCommand:         "codex",
		CodexArgs:            []string{"exec"},
		CursorStatePath:      "cursor_state.json",
		LogLevel:             "info",
	}
}

// envPrefix is prepended, uppercased, to every flag name to form its
// mirrored environment variable (spec.md §6: "Same as flags, CHANNEL_
// prefix, uppercase").
const envPrefix = "CHANNEL_"

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Load resolves Config from args (normally os.Args[1:]) with CLI > env >
// default precedence, returning an error describing the first problem
// found for an invalid-config/exit-2 caller to report.
func Load(args []string) (Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(&cfg)

	fs := flag.NewFlagSet("tglive", flag.ContinueOnError)
	fs.SetOutput(discardWriter{})

	token := fs.String("token", cfg.Token, "Telegram bot token")
	mode := fs.String("mode", cfg.Mode, "channel mode (poll)")
	ackPolicy := fs.String("ack-policy", cfg.AckPolicy, "ack policy (always | on-success)")
	pollIntervalS := fs.Int("poll-interval-s", cfg.PollIntervalS, "seconds between cycles in continuous mode")
	allowedChatIDs := fs.String("allowed-chat-ids", strings.Join(cfg.AllowedChatIDs, ","), "CSV allowlist of chat ids")
	liveMode := fs.Bool("live-mode", cfg.LiveMode, "require a non-empty allowlist before sending")
	orchestratorMode := fs.String("orchestrator-mode", cfg.OrchestratorMode, "orchestrator mode (default | codex)")
	codexTimeoutS := fs.Float64("codex-timeout-s", cfg.CodexTimeoutS, "codex subprocess timeout, seconds")
	notifyOnError := fs.Bool("notify-on-orchestrator-error", cfg.NotifyOnOrchestratorError, "send a fallback reply on orchestrator error")
	codexSessionMax := fs.Int("codex-session-max", cfg.CodexSessionMax, "max concurrently live codex sessions")
	codexSessionIdleTTLS := fs.Int("codex-session-idle-ttl-s", cfg.CodexSessionIdleTTLS, "idle seconds before a codex session worker is terminated")
	codexCommand := fs.String("codex-command", cfg.CodexCommand, "codex subprocess executable")
	codexArgs := fs.String("codex-args", strings.Join(cfg.CodexArgs, ","), "CSV args passed to the codex subprocess")
	cursorStatePath := fs.String("cursor-state-path", cfg.CursorStatePath, "cursor floor file path (empty disables persistence)")
	strictCursorStateIO := fs.Bool("strict-cursor-state-io", cfg.StrictCursorStateIO, "promote cursor I/O failures to a cycle failure")
	once := fs.Bool("once", cfg.Once, "run a single cycle and exit")
	logLevel := fs.String("log-level", cfg.LogLevel, "slog level (debug|info|warn|error)")
	otlpEndpoint := fs.String("otlp-endpoint", cfg.OTLPEndpoint, "OTLP HTTP trace collector endpoint; empty uses the stdout exporter")
	auditDBPath := fs.String("audit-db-path", cfg.AuditDBPath, "sqlite audit sink path; empty disables the audit sink")
	dumpConfig := fs.Bool("dump-config", false, "print the resolved config as YAML to stderr and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("invalid-config: %w", err)
	}

	cfg.Token = *token
	cfg.Mode = *mode
	cfg.AckPolicy = *ackPolicy
	cfg.PollIntervalS = *pollIntervalS
	cfg.AllowedChatIDs = splitCSV(*allowedChatIDs)
	cfg.LiveMode = *liveMode
	cfg.OrchestratorMode = *orchestratorMode
	cfg.CodexTimeoutS = *codexTimeoutS
	cfg.NotifyOnOrchestratorError = *notifyOnError
	cfg.CodexSessionMax = *codexSessionMax
	cfg.CodexSessionIdleTTLS = *codexSessionIdleTTLS
	cfg.CodexCommand = *codexCommand
	cfg.CodexArgs = splitCSV(*codexArgs)
	cfg.CursorStatePath = *cursorStatePath
	cfg.StrictCursorStateIO = *strictCursorStateIO
	cfg.Once = *once
	cfg.LogLevel = *logLevel
	cfg.OTLPEndpoint = *otlpEndpoint
	cfg.AuditDBPath = *auditDBPath
	cfg.DumpConfig = *dumpConfig

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the invariants spec.md §6 requires before the runtime
// does anything else: a token (unless --dump-config is just inspecting
// defaults), a recognized ack policy/orchestrator mode, and the
// live-mode-needs-an-allowlist rule.
func Validate(cfg Config) error {
	if cfg.Token == "" && !cfg.DumpConfig {
		return fmt.Errorf("invalid-config: token is required (--token or %s)", envName("token"))
	}
	if cfg.Mode != ModePoll {
		return fmt.Errorf("invalid-config: unsupported mode %q", cfg.Mode)
	}
	if cfg.AckPolicy != AckPolicyAlways && cfg.AckPolicy != AckPolicyOnSuccess {
		return fmt.Errorf("invalid-config: ack-policy must be %q or %q, got %q", AckPolicyAlways, AckPolicyOnSuccess, cfg.AckPolicy)
	}
	if cfg.OrchestratorMode != OrchestratorDefault && cfg.OrchestratorMode != OrchestratorCodex {
		return fmt.Errorf("invalid-config: orchestrator-mode must be %q or %q, got %q", OrchestratorDefault, OrchestratorCodex, cfg.OrchestratorMode)
	}
	if cfg.PollIntervalS < 0 {
		return fmt.Errorf("invalid-config: poll-interval-s must be >= 0")
	}
	if cfg.LiveMode && len(cfg.AllowedChatIDs) == 0 {
		return fmt.Errorf("invalid-config: live-mode requires a non-empty allowed-chat-ids")
	}
	return nil
}

// applyEnvOverrides reads CHANNEL_-prefixed environment variables into cfg,
// mirroring every flag one-to-one (spec.md §6). CLI flags applied after
// this call in Load take final precedence.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envName("token")); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv(envName("mode")); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(envName("ack-policy")); v != "" {
		cfg.AckPolicy = v
	}
	if v := os.Getenv(envName("poll-interval-s")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalS = n
		}
	}
	if v := os.Getenv(envName("allowed-chat-ids")); v != "" {
		cfg.AllowedChatIDs = splitCSV(v)
	}
	if v := os.Getenv(envName("live-mode")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LiveMode = b
		}
	}
	if v := os.Getenv(envName("orchestrator-mode")); v != "" {
		cfg.OrchestratorMode = v
	}
	if v := os.Getenv(envName("codex-timeout-s")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CodexTimeoutS = f
		}
	}
	if v := os.Getenv(envName("notify-on-orchestrator-error")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NotifyOnOrchestratorError = b
		}
	}
	if v := os.Getenv(envName("codex-session-max")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CodexSessionMax = n
		}
	}
	if v := os.Getenv(envName("codex-session-idle-ttl-s")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CodexSessionIdleTTLS = n
		}
	}
	if v := os.Getenv(envName("codex-command")); v != "" {
		cfg.CodexCommand = v
	}
	if v := os.Getenv(envName("codex-args")); v != "" {
		cfg.CodexArgs = splitCSV(v)
	}
	if v := os.Getenv(envName("cursor-state-path")); v != "" {
		cfg.CursorStatePath = v
	}
	if v := os.Getenv(envName("strict-cursor-state-io")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictCursorStateIO = b
		}
	}
	if v := os.Getenv(envName("once")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Once = b
		}
	}
	if v := os.Getenv(envName("log-level")); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envName("otlp-endpoint")); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv(envName("audit-db-path")); v != "" {
		cfg.AuditDBPath = v
	}
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// discardWriter silences flag.FlagSet's default usage/error output; Load's
// caller reports the returned error itself (exit code 2 per spec.md §6).
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
