package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/nevindra/tandem"
)

// envPrefix is prepended to every environment override.
const envPrefix = "TANDEM_"

type Config struct {
	Agent      AgentConfig             `toml:"agent" envPrefix:"AGENT_"`
	LLM        LLMConfig               `toml:"llm" envPrefix:"LLM_"`
	Routing    RoutingConfig           `toml:"routing" envPrefix:"ROUTING_"`
	Channel    ChannelConfig           `toml:"channel" envPrefix:"CHANNEL_"`
	Compaction tandem.CompactionConfig `toml:"compaction" envPrefix:"COMPACTION_"`
	Worker     WorkerConfig            `toml:"worker" envPrefix:"WORKER_"`
	Database   DatabaseConfig          `toml:"database" envPrefix:"DATABASE_"`
	Telegram   TelegramConfig          `toml:"telegram" envPrefix:"TELEGRAM_"`
	Discord    DiscordConfig           `toml:"discord" envPrefix:"DISCORD_"`
	Observer   ObserverConfig          `toml:"observer" envPrefix:"OBSERVER_"`
	Log        LogConfig               `toml:"log" envPrefix:"LOG_"`
}

type AgentConfig struct {
	ID            string `toml:"id" env:"ID"`
	WorkspacePath string `toml:"workspace_path" env:"WORKSPACE_PATH"`
	PromptsPath   string `toml:"prompts_path" env:"PROMPTS_PATH"`
	SkillsPath    string `toml:"skills_path" env:"SKILLS_PATH"`
}

type LLMConfig struct {
	Provider string `toml:"provider" env:"PROVIDER"`
	Model    string `toml:"model" env:"MODEL"`
	APIKey   string `toml:"api_key" env:"API_KEY"`
	BaseURL  string `toml:"base_url" env:"BASE_URL"`
	RPM      int    `toml:"rpm" env:"RPM"` // requests per minute per model; 0 disables
	TPM      int    `toml:"tpm" env:"TPM"` // tokens per minute; 0 disables
}

// RoutingConfig picks a model per process type. Empty entries use llm.model.
type RoutingConfig struct {
	Channel   string `toml:"channel" env:"CHANNEL"`
	Branch    string `toml:"branch" env:"BRANCH"`
	Worker    string `toml:"worker" env:"WORKER"`
	Compactor string `toml:"compactor" env:"COMPACTOR"`
}

type ChannelConfig struct {
	MaxConcurrentBranches int           `toml:"max_concurrent_branches" env:"MAX_CONCURRENT_BRANCHES"`
	MaxTurns              int           `toml:"max_turns" env:"MAX_TURNS"`
	ContextWindow         int           `toml:"context_window" env:"CONTEXT_WINDOW"`
	BranchMaxTurns        int           `toml:"branch_max_turns" env:"BRANCH_MAX_TURNS"`
	BranchTimeout         time.Duration `toml:"branch_timeout" env:"BRANCH_TIMEOUT"`
	InboxSize             int           `toml:"inbox_size" env:"INBOX_SIZE"`
	HistoryLimit          int           `toml:"history_limit" env:"HISTORY_LIMIT"`
}

type WorkerConfig struct {
	MaxTurns     int           `toml:"max_turns" env:"MAX_TURNS"`
	Timeout      time.Duration `toml:"timeout" env:"TIMEOUT"`
	IdleTimeout  time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShellTimeout time.Duration `toml:"shell_timeout" env:"SHELL_TIMEOUT"`
}

type DatabaseConfig struct {
	Path string `toml:"path" env:"PATH"`
	URL  string `toml:"url" env:"URL"` // postgres DSN; takes precedence over path
}

type TelegramConfig struct {
	Token          string  `toml:"token" env:"TOKEN"`
	AllowedUserIDs []int64 `toml:"allowed_user_ids" env:"ALLOWED_USER_IDS"`
}

type DiscordConfig struct {
	Token           string   `toml:"token" env:"TOKEN"`
	AllowedChannels []string `toml:"allowed_channels" env:"ALLOWED_CHANNELS"`
	DMAllowedUsers  []string `toml:"dm_allowed_users" env:"DM_ALLOWED_USERS"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled" env:"ENABLED"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type LogConfig struct {
	Level string `toml:"level" env:"LEVEL"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	ch := tandem.DefaultChannelConfig()
	return Config{
		Agent: AgentConfig{ID: "main", WorkspacePath: filepath.Join(home, "tandem-workspace")},
		LLM:   LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		Channel: ChannelConfig{
			MaxConcurrentBranches: ch.MaxConcurrentBranches,
			MaxTurns:              ch.MaxTurns,
			ContextWindow:         ch.ContextWindow,
			BranchMaxTurns:        ch.BranchMaxTurns,
			BranchTimeout:         ch.BranchTimeout,
			InboxSize:             ch.InboxSize,
			HistoryLimit:          50,
		},
		Compaction: ch.Compaction,
		Worker: WorkerConfig{
			MaxTurns:     ch.WorkerMaxTurns,
			Timeout:      ch.WorkerTimeout,
			IdleTimeout:  ch.WorkerIdleTimeout,
			ShellTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{Path: "tandem.db"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> TANDEM_* env vars (env wins)
// -> "env:NAME" references -> provider key fallbacks. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "tandem.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}

	for _, s := range []*string{
		&cfg.LLM.APIKey, &cfg.LLM.BaseURL,
		&cfg.Database.URL,
		&cfg.Telegram.Token, &cfg.Discord.Token,
	} {
		*s = resolveEnvRef(*s)
	}

	// Fallbacks
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	return cfg, nil
}

// resolveEnvRef expands a value of the form "env:NAME" to $NAME.
func resolveEnvRef(v string) string {
	if name, ok := strings.CutPrefix(v, "env:"); ok {
		return os.Getenv(name)
	}
	return v
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key: required for provider %s", c.LLM.Provider)
	}
	if c.LLM.RPM < 0 || c.LLM.TPM < 0 {
		return errors.New("llm.rpm and llm.tpm: must not be negative")
	}
	if c.Channel.MaxConcurrentBranches <= 0 {
		return fmt.Errorf("channel.max_concurrent_branches: must be positive, got %d", c.Channel.MaxConcurrentBranches)
	}
	if c.Channel.MaxTurns <= 0 || c.Channel.BranchMaxTurns <= 0 || c.Worker.MaxTurns <= 0 {
		return errors.New("max_turns: must be positive")
	}
	if c.Channel.ContextWindow <= 0 {
		return fmt.Errorf("channel.context_window: must be positive, got %d", c.Channel.ContextWindow)
	}
	if err := c.Compaction.Validate(); err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	return nil
}

// ChannelSettings converts the loaded values into channel limits.
func (c Config) ChannelSettings() tandem.ChannelConfig {
	return tandem.ChannelConfig{
		MaxConcurrentBranches: c.Channel.MaxConcurrentBranches,
		MaxTurns:              c.Channel.MaxTurns,
		ContextWindow:         c.Channel.ContextWindow,
		BranchMaxTurns:        c.Channel.BranchMaxTurns,
		WorkerMaxTurns:        c.Worker.MaxTurns,
		BranchTimeout:         c.Channel.BranchTimeout,
		WorkerTimeout:         c.Worker.Timeout,
		WorkerIdleTimeout:     c.Worker.IdleTimeout,
		InboxSize:             c.Channel.InboxSize,
		Compaction:            c.Compaction,
	}
}
