package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"token", "mode", "ack-policy", "poll-interval-s", "allowed-chat-ids",
		"live-mode", "orchestrator-mode", "codex-timeout-s",
		"notify-on-orchestrator-error", "codex-session-max",
		"codex-session-idle-ttl-s", "codex-command", "codex-args",
		"cursor-state-path", "strict-cursor-state-io", "once", "log-level",
		"otlp-endpoint", "audit-db-path",
	} {
		t.Setenv(envName(name), "")
	}
}

func TestLoadDefaultsWithToken(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{"--token", "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ModePoll || cfg.AckPolicy != AckPolicyAlways || cfg.OrchestratorMode != OrchestratorDefault {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollIntervalS != 5 || cfg.CodexSessionMax != 16 {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
}

func TestLoadMissingTokenIsInvalid(t *testing.T) {
	clearEnv(t)
	if _, err := Load([]string{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestLoadCLIOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envName("token"), "from-env")
	t.Setenv(envName("poll-interval-s"), "9")

	cfg, err := Load([]string{"--token", "from-cli", "--poll-interval-s", "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Token != "from-cli" {
		t.Fatalf("expected CLI token to win, got %q", cfg.Token)
	}
	if cfg.PollIntervalS != 3 {
		t.Fatalf("expected CLI poll-interval-s to win, got %d", cfg.PollIntervalS)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv(envName("token"), "from-env")
	t.Setenv(envName("ack-policy"), AckPolicyOnSuccess)

	cfg, err := Load([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Token != "from-env" || cfg.AckPolicy != AckPolicyOnSuccess {
		t.Fatalf("expected env values to apply over defaults: %+v", cfg)
	}
}

func TestLoadAllowedChatIDsCSV(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{"--token", "t", "--allowed-chat-ids", "42, 7,100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"42", "7", "100"}
	if len(cfg.AllowedChatIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.AllowedChatIDs)
	}
	for i, w := range want {
		if cfg.AllowedChatIDs[i] != w {
			t.Fatalf("expected %v, got %v", want, cfg.AllowedChatIDs)
		}
	}
}

func TestLoadLiveModeRequiresAllowlist(t *testing.T) {
	clearEnv(t)
	if _, err := Load([]string{"--token", "t", "--live-mode"}); err == nil {
		t.Fatal("expected error when live-mode is set without an allowlist")
	}
	if _, err := Load([]string{"--token", "t", "--live-mode", "--allowed-chat-ids", "42"}); err != nil {
		t.Fatalf("unexpected error with a populated allowlist: %v", err)
	}
}

func TestLoadRejectsUnknownAckPolicy(t *testing.T) {
	clearEnv(t)
	if _, err := Load([]string{"--token", "t", "--ack-policy", "sometimes"}); err == nil {
		t.Fatal("expected error for unknown ack policy")
	}
}

func TestLoadFractionalCodexTimeout(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{"--token", "t", "--codex-timeout-s", "0.001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CodexTimeoutS != 0.001 {
		t.Fatalf("expected fractional timeout to be preserved, got %v", cfg.CodexTimeoutS)
	}
}

func TestLoadDumpConfigBypassesTokenRequirement(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{"--dump-config"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.DumpConfig {
		t.Fatal("expected DumpConfig to be true")
	}
}
