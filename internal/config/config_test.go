package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tandem.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.Channel.MaxConcurrentBranches != 5 {
		t.Errorf("expected 5 branches, got %d", cfg.Channel.MaxConcurrentBranches)
	}
	if cfg.Compaction.EmergencyThreshold != 0.95 {
		t.Errorf("expected emergency 0.95, got %v", cfg.Compaction.EmergencyThreshold)
	}
	if cfg.Worker.Timeout != 300*time.Second {
		t.Errorf("expected worker timeout 300s, got %v", cfg.Worker.Timeout)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := writeConfig(t, `
[llm]
api_key = "k"

[channel]
max_concurrent_branches = 2
branch_timeout = "90s"

[compaction]
background_threshold = 0.6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.MaxConcurrentBranches != 2 {
		t.Errorf("expected 2, got %d", cfg.Channel.MaxConcurrentBranches)
	}
	if cfg.Channel.BranchTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.Channel.BranchTimeout)
	}
	if cfg.Compaction.BackgroundThreshold != 0.6 {
		t.Errorf("expected 0.6, got %v", cfg.Compaction.BackgroundThreshold)
	}
	// Defaults preserved
	if cfg.Compaction.AggressiveThreshold != 0.85 {
		t.Errorf("default should be preserved, got %v", cfg.Compaction.AggressiveThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.toml"); err != nil {
		t.Errorf("missing file should not fail: %v", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "[llm\nprovider=")); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TANDEM_LLM_API_KEY", "env-key")
	t.Setenv("TANDEM_CHANNEL_MAX_TURNS", "9")
	t.Setenv("TANDEM_COMPACTION_EMERGENCY_THRESHOLD", "0.99")

	cfg, err := Load(writeConfig(t, "[channel]\nmax_turns = 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Channel.MaxTurns != 9 {
		t.Errorf("env should win over file, got %d", cfg.Channel.MaxTurns)
	}
	if cfg.Compaction.EmergencyThreshold != 0.99 {
		t.Errorf("expected 0.99, got %v", cfg.Compaction.EmergencyThreshold)
	}
}

func TestEnvReferences(t *testing.T) {
	t.Setenv("MY_DISCORD_TOKEN", "secret")
	cfg, err := Load(writeConfig(t, "[discord]\ntoken = \"env:MY_DISCORD_TOKEN\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discord.Token != "secret" {
		t.Errorf("expected secret, got %q", cfg.Discord.Token)
	}
}

func TestProviderKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	cfg, err := Load(writeConfig(t, "[llm]\nprovider = \"openai\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-fallback" {
		t.Errorf("expected fallback key, got %q", cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.LLM.APIKey = "k"

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gemini" }, "unknown provider"},
		{"missing key", func(c *Config) { c.LLM.APIKey = "" }, "api_key"},
		{"zero branches", func(c *Config) { c.Channel.MaxConcurrentBranches = 0 }, "max_concurrent_branches"},
		{"negative rpm", func(c *Config) { c.LLM.RPM = -1 }, "llm.rpm"},
		{"thresholds out of order", func(c *Config) { c.Compaction.AggressiveThreshold = 0.7 }, "compaction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestChannelSettings(t *testing.T) {
	cfg := Default()
	cfg.Worker.MaxTurns = 7
	got := cfg.ChannelSettings()
	if got.WorkerMaxTurns != 7 || got.MaxConcurrentBranches != 5 || got.InboxSize != 64 {
		t.Errorf("ChannelSettings = %+v", got)
	}
}
