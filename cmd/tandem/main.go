package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/tandem"
	"github.com/nevindra/tandem/attachment"
	"github.com/nevindra/tandem/identity"
	"github.com/nevindra/tandem/internal/config"
	"github.com/nevindra/tandem/internal/runtime"
	"github.com/nevindra/tandem/messaging/discord"
	"github.com/nevindra/tandem/messaging/telegram"
	"github.com/nevindra/tandem/observer"
	"github.com/nevindra/tandem/provider/anthropic"
	"github.com/nevindra/tandem/provider/openai"
	"github.com/nevindra/tandem/skill"
	"github.com/nevindra/tandem/store/postgres"
	"github.com/nevindra/tandem/store/sqlite"
	"github.com/nevindra/tandem/tools/file"
	httptool "github.com/nevindra/tandem/tools/http"
	"github.com/nevindra/tandem/tools/shell"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load(os.Getenv("TANDEM_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// 2. Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	// 3. Observer (opt-in)
	var inst *observer.Instruments
	var tracer tandem.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, "tandem", pricing)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
		tracer = observer.NewTracer()
		logger.Info("observer enabled")
	}

	// 4. Create providers
	models := tandem.ModelRouting{Default: newProvider(cfg, cfg.LLM.Model, inst, logger)}
	for _, r := range []struct {
		model string
		dst   *tandem.Provider
	}{
		{cfg.Routing.Channel, &models.Channel},
		{cfg.Routing.Branch, &models.Branch},
		{cfg.Routing.Worker, &models.Worker},
		{cfg.Routing.Compactor, &models.Compactor},
	} {
		if r.model != "" && r.model != cfg.LLM.Model {
			*r.dst = newProvider(cfg, r.model, inst, logger)
		}
	}

	// 5. Create store
	var store tandem.MessageStore
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = pg
	} else {
		lite := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
		if err := lite.Init(ctx); err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer lite.Close()
		store = lite
	}
	conversations := tandem.NewAsyncLogger(store, tandem.AsyncLoggerLogger(logger))
	defer conversations.Close()

	// 6. Identity, prompts and skills
	workspace := cfg.Agent.WorkspacePath
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		log.Fatalf("workspace: %v", err)
	}
	id, err := identity.Load(workspace)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	prompts, err := identity.LoadPrompts(workspace, cfg.Agent.PromptsPath)
	if err != nil {
		log.Fatalf("prompts: %v", err)
	}
	prompts.Identity = id.Render()

	skillsDir := cfg.Agent.SkillsPath
	if skillsDir == "" {
		skillsDir = filepath.Join(workspace, "skills")
	}
	skills, err := skill.Load(skillsDir)
	if err != nil {
		log.Fatalf("skills: %v", err)
	}
	logger.Info("skills loaded", "count", len(skills.List()), "dir", skillsDir)

	// 7. Register tools
	httpTool := httptool.New(nil)
	skillTool := skill.NewTool(skills)
	branchTools := tandem.NewToolServer(observe(inst, httpTool, skillTool)...)
	workerTools := tandem.NewToolServer(observe(inst,
		shell.New(workspace, shell.WithTimeout(cfg.Worker.ShellTimeout), shell.WithLogger(logger)),
		file.New(workspace),
		httpTool,
		skillTool,
	)...)

	// 8. Create bus
	bus := tandem.NewEventBus(tandem.BusLogger(logger))
	defer bus.Close()
	if inst != nil {
		watcher := observer.WatchBus(bus, inst)
		defer watcher.Close()
	}

	// 9. Create messengers
	var messengers []tandem.Messenger
	if cfg.Telegram.Token != "" {
		messengers = append(messengers, telegram.New(cfg.Telegram.Token,
			telegram.WithAllowedUsers(cfg.Telegram.AllowedUserIDs),
			telegram.WithLogger(logger),
		))
	}
	if cfg.Discord.Token != "" {
		messengers = append(messengers, discord.New(cfg.Discord.Token,
			discord.WithAllowedChannels(cfg.Discord.AllowedChannels),
			discord.WithDMAllowedUsers(cfg.Discord.DMAllowedUsers),
			discord.WithLogger(logger),
		))
	}
	if len(messengers) == 0 {
		log.Fatal("no messenger configured: set telegram.token or discord.token")
	}

	// 10. Create runtime
	rt := runtime.New(tandem.AgentDeps{
		AgentID:       tandem.AgentID(cfg.Agent.ID),
		Models:        models,
		Bus:           bus,
		Logger:        logger,
		Tracer:        tracer,
		Conversations: conversations,
		Attachments:   attachment.New(attachment.WithLogger(logger)),
		Skills:        skills,
		BranchTools:   branchTools,
		WorkerTools:   workerTools,
		Prompts:       prompts,
	},
		runtime.WithMessengers(messengers...),
		runtime.WithStore(store, cfg.Channel.HistoryLimit),
		runtime.WithChannelSettings(cfg.ChannelSettings()),
		runtime.WithLogger(logger),
	)

	// 11. Run
	logger.Info("tandem starting", "agent_id", cfg.Agent.ID, "provider", cfg.LLM.Provider, "messengers", len(messengers))
	if err := rt.RunWithSignal(); err != nil {
		logger.Error("runtime stopped", "error", err)
		os.Exit(1)
	}
}

// newProvider builds the configured provider for model, with retries and
// rate limiting and optional instrumentation.
func newProvider(cfg config.Config, model string, inst *observer.Instruments, logger *slog.Logger) tandem.Provider {
	var p tandem.Provider
	switch cfg.LLM.Provider {
	case "openai":
		var opts []openai.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		p = openai.New(cfg.LLM.APIKey, model, append(opts, openai.WithLogger(logger))...)
	default:
		var opts []anthropic.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.LLM.BaseURL))
		}
		p = anthropic.New(cfg.LLM.APIKey, model, append(opts, anthropic.WithLogger(logger))...)
	}
	p = tandem.WithRetry(p, tandem.RetryLogger(logger))
	p = tandem.WithRateLimit(p, tandem.RPM(cfg.LLM.RPM), tandem.TPM(cfg.LLM.TPM))
	if inst != nil {
		p = observer.WrapProvider(p, model, inst)
	}
	return p
}

func observe(inst *observer.Instruments, tools ...tandem.Tool) []tandem.Tool {
	if inst == nil {
		return tools
	}
	out := make([]tandem.Tool, len(tools))
	for i, t := range tools {
		out[i] = observer.WrapTool(t, inst)
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
