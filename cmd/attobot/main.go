package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"attobot/internal/agent"
	"attobot/internal/bus"
	"attobot/internal/channel"
	"attobot/internal/config"
	"attobot/internal/cron"
	"attobot/internal/domain"
	"attobot/internal/memory"
	"attobot/internal/provider"
	"attobot/internal/skill"
	"attobot/internal/tool"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "attobot",
		Short: "Attobot: personal automation runtime",
		Long:  "Attobot is a single-process automation runtime: chat channels, a tool-calling agent loop, scheduled jobs, and background subagents.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.attobot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(cronCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from the --config flag or the
// default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	return cfg
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "workspace", cfg.General.Workspace)
			return nil
		},
	}
}

// runtimeParts is everything the chat and gateway commands share.
type runtimeParts struct {
	bus       *bus.MessageBus
	store     *memory.SQLiteStore
	loop      *agent.AgentLoop
	subagents *agent.SubagentManager
	cron      *cron.Service
	heartbeat *agent.Heartbeat
	cfg       *config.Config
}

func (r *runtimeParts) close() {
	if r.cron != nil {
		r.cron.Stop()
	}
	r.bus.StopDispatcher()
	_ = r.store.Close()
}

// buildRuntime wires the bus, memory store, provider, tools, scheduler,
// subagent manager, and agent loop together.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtimeParts, error) {
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return nil, err
	}

	messageBus := bus.New(logger)

	memStore, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	provFactory := provider.NewFactory(cfg, logger)
	prov, err := provFactory.DefaultProvider()
	if err != nil || prov == nil {
		logger.Warn("no default provider, falling back to ollama")
		prov = provider.NewOllama(provider.OllamaConfig{Logger: logger})
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	var skills []domain.SkillDefinition
	if cfg.Skills.Enabled && cfg.Skills.Dir != "" {
		skills, err = skill.LoadFromDirectory(cfg.Skills.Dir, logger)
		if err != nil {
			logger.Warn("skill loading failed", "dir", cfg.Skills.Dir, "err", err)
		}
	}

	providerCfg := cfg.Providers[prov.Name()]
	loopCfg := agent.Config{
		Model:         providerCfg.DefaultModel,
		MaxTokens:     providerCfg.MaxTokens,
		MaxIterations: cfg.General.MaxIterations,
		MemoryWindow:  cfg.Memory.MaxHistoryPerConversation,
	}

	subagents := agent.NewSubagentManager(prov, messageBus, func() *tool.Registry {
		return baseTools(cfg)
	}, cfg.General.Workspace, agent.Config{
		Model:         providerCfg.DefaultModel,
		MaxTokens:     providerCfg.MaxTokens,
		MaxIterations: cfg.General.SubagentMaxIterations,
	}, logger)

	var cronSvc *cron.Service
	if cfg.Cron.Enabled {
		cronSvc = cron.NewService(cfg.Cron.StorePath, nil, logger)
	}

	registry := baseTools(cfg)
	registry.Register(tool.NewMessageTool(messageBus))
	registry.Register(tool.NewSpawnTool(subagents))
	if cronSvc != nil {
		registry.Register(tool.NewCronTool(cronSvc))
	}

	sessions := agent.NewSessionManager(memStore, logger)
	prompts := agent.NewPromptBuilder(agent.PromptConfig{
		Workspace:         cfg.General.Workspace,
		SystemPromptExtra: cfg.General.SystemPromptExtra,
		Skills:            skills,
	}, memStore, logger)

	loop := agent.New(loopCfg, messageBus, prov, registry, sessions, prompts, logger)

	// Fired cron jobs run as agent turns in a per-job session; results are
	// delivered to the payload's channel when requested.
	if cronSvc != nil {
		cronSvc.SetOnJob(func(job cron.Job) (string, error) {
			ch := job.Payload.Channel
			if ch == "" {
				ch = "cli"
			}
			response := loop.ProcessDirect(ctx, job.Payload.Message, ch, "cron:"+job.ID)
			if job.Payload.Deliver && job.Payload.Channel != "" && job.Payload.To != "" {
				messageBus.PublishOutbound(domain.OutboundMessage{
					Channel: job.Payload.Channel,
					ChatID:  job.Payload.To,
					Content: response,
				})
			}
			return response, nil
		})
	}

	var heartbeat *agent.Heartbeat
	if cfg.Heartbeat.Enabled {
		heartbeat = agent.NewHeartbeat(loop, cfg.General.Workspace, cfg.Heartbeat.IntervalSeconds, logger)
	}

	messageBus.StartDispatcher()
	if cronSvc != nil {
		cronSvc.Start()
	}

	return &runtimeParts{
		bus:       messageBus,
		store:     memStore,
		loop:      loop,
		subagents: subagents,
		cron:      cronSvc,
		heartbeat: heartbeat,
		cfg:       cfg,
	}, nil
}

// baseTools builds the registry shared by the main loop and subagents:
// everything except the bus-coupled tools (message, spawn, cron).
func baseTools(cfg *config.Config) *tool.Registry {
	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewShellTool(tool.ShellConfig{
		WorkingDir:     cfg.General.Workspace,
		TimeoutSeconds: cfg.Tools.Shell.Timeout,
		MaxOutputBytes: cfg.Tools.Shell.MaxOutputBytes,
	}))
	registry.Register(tool.NewReadFileTool(cfg.General.Workspace))
	registry.Register(tool.NewWriteFileTool(cfg.General.Workspace))
	registry.Register(tool.NewEditFileTool(cfg.General.Workspace))
	registry.Register(tool.NewListDirTool(cfg.General.Workspace))
	registry.Register(tool.NewWebSearchTool())
	registry.Register(tool.NewWebFetchTool())
	if cfg.Tools.Browser.Enabled {
		registry.Register(tool.NewBrowserTool(cfg.Tools.Browser.TimeoutSeconds))
	}
	return registry
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			go rt.loop.Run(ctx)
			defer rt.loop.Stop()

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
			return cli.Start(ctx, rt.bus)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (all enabled channels + agent loop)",
		Long:  "Starts all enabled channels (Telegram, Discord, Slack), the scheduler, and the agent loop. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	go rt.loop.Run(ctx)

	if rt.heartbeat != nil {
		go rt.heartbeat.Start(ctx)
	}

	channels := enabledChannels(cfg)
	if len(channels) == 0 {
		logger.Warn("no channels enabled; gateway will only serve cron and subagent traffic")
	}
	for _, ch := range channels {
		ch := ch
		go func() {
			if err := ch.Start(ctx, rt.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.loop.Stop()
		for _, ch := range channels {
			_ = ch.Stop()
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func enabledChannels(cfg *config.Config) []domain.Channel {
	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	return channels
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			prov := factory.HealthyProvider(ctx)
			if prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			if cfg.Cron.Enabled {
				svc := cron.NewService(cfg.Cron.StorePath, nil, logger)
				st := svc.Status()
				logger.Info("cron", "jobs", st.Jobs, "next_wake_at_ms", st.NextWakeAtMs)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.defaultProvider ollama)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
