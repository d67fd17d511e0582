package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"aide/internal/bus"
	"aide/internal/channel"
	"aide/internal/config"
	"aide/internal/domain"
	"aide/internal/heartbeat"
	"aide/internal/memory"
	"aide/internal/metrics"
	"aide/internal/pipeline"
	"aide/internal/provider"
	"aide/internal/security"
	"aide/internal/source"
	"aide/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "aide",
		Short:   "aide: proactive personal assistant core",
		Long:    "aide routes chat messages through a model-backed pipeline with tools, memory, and a proactive heartbeat.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.aide/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			groupsPath := config.ExpandPath(cfg.Capabilities.GroupsPath)
			if err := tool.WriteDefaultGroups(groupsPath); err != nil {
				logger.Warn("capability groups not written", "err", err)
			}
			logger.Info("initialized", "config", cfgPath, "dataDir", dataDir, "capabilities", groupsPath)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("model", "failoverChain", cfg.Model.FailoverChain)
			for _, name := range []string{"telegram", "discord", "slack"} {
				logger.Info("channel", "name", name, "configured", channelConfigured(cfg, name))
			}
			logger.Info("heartbeat", "enabled", cfg.Heartbeat.Enabled, "intervalMinutes", cfg.Heartbeat.IntervalMinutes)
			return nil
		},
	}
}

func channelConfigured(cfg *config.Config, name string) bool {
	switch name {
	case "telegram":
		return cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != ""
	case "discord":
		return cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != ""
	case "slack":
		return cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != ""
	}
	return false
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. heartbeat.intervalMinutes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
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
		Short: "Set a config value and save the file",
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
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized, err := config.Sanitize(cfg)
			if err != nil {
				return fmt.Errorf("sanitize config: %w", err)
			}
			data, _ := json.MarshalIndent(sanitized, "", "  ")
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

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start all enabled channels, the pipeline, and the heartbeat",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg)
	slog.SetDefault(logger)

	if err := os.MkdirAll(config.ExpandPath(cfg.General.DataDir), 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	store, err := memory.Open(cfg.Memory.DBPath, logger)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	defer store.Close()

	models, err := provider.BuildFromConfig(cfg.Model, logger)
	if err != nil {
		return fmt.Errorf("model providers: %w", err)
	}

	index := memory.NewIndex(store, models, memory.IndexConfig{
		SemanticWeight:  cfg.Memory.SemanticWeight,
		LexicalWeight:   cfg.Memory.LexicalWeight,
		SimilarityFloor: cfg.Memory.SimilarityFloor,
		SearchWindow:    cfg.Memory.SearchWindow,
	})

	sanitizer := security.NewSanitizer(logger)

	registry, err := buildRegistry(cfg, sanitizer, index)
	if err != nil {
		return err
	}

	systemPrompt := ""
	if cfg.General.SystemPromptPath != "" {
		data, err := os.ReadFile(cfg.General.SystemPromptPath)
		if err != nil {
			logger.Warn("system prompt not loaded", "path", cfg.General.SystemPromptPath, "err", err)
		} else {
			systemPrompt = string(data)
		}
	}

	limiter := pipeline.NewRateLimiter(cfg.Model.RateBurst, cfg.Model.RatePerMinute)
	pipe := pipeline.New(pipeline.Config{
		MaxToolRounds:     cfg.Pipeline.MaxToolRounds,
		RecentTurns:       cfg.Pipeline.RecentTurns,
		RelevantTurns:     cfg.Pipeline.RelevantTurns,
		ContextCharBudget: cfg.Pipeline.ContextCharBudget,
		MaxMessageLength:  cfg.Pipeline.MaxMessageLength,
		Timeout:           time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		SystemPrompt:      systemPrompt,
	}, models, registry, index, sanitizer, limiter, messageBus, logger)

	go pipe.Run(ctx)

	router := channel.NewRouter(cfg.Channels.FallbackOrder, logger)
	if err := registerAdapters(cfg, router); err != nil {
		return err
	}
	router.StartAll(ctx, messageBus)

	var hb *heartbeat.Heartbeat
	if cfg.Heartbeat.Enabled {
		hb, err = buildHeartbeat(cfg, models, store, sanitizer, router, messageBus)
		if err != nil {
			return err
		}
		if hb != nil {
			if err := hb.Start(ctx); err != nil {
				return err
			}
		}
	}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		go collector.Watch(ctx, messageBus)
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("gateway started", "version", version)
	<-ctx.Done()
	logger.Info("shutting down gateway")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		if hb != nil {
			hb.Stop()
		}
		if err := router.StopAll(); err != nil {
			logger.Warn("adapter shutdown", "err", err)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out")
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cfg.General.LogFile, err)
		} else {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func buildRegistry(cfg *config.Config, sanitizer *security.Sanitizer, index *memory.Index) (*tool.Registry, error) {
	groups, err := tool.LoadGroups(cfg.Capabilities.GroupsPath)
	if err != nil {
		return nil, fmt.Errorf("capability groups: %w", err)
	}
	registry := tool.NewRegistry(groups, logger)

	loc, err := time.LoadLocation(cfg.General.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using local", "timezone", cfg.General.Timezone)
		loc = time.Local
	}

	for _, t := range []domain.Tool{
		tool.NewWebFetchTool(sanitizer),
		tool.NewClockTool(loc),
		tool.NewSaveNoteTool(index),
		tool.NewSearchNotesTool(index),
	} {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}
	return registry, nil
}

// registerAdapters registers all three adapters so the router can report
// unknown versus unconfigured precisely. A disabled channel gets an empty
// token, which leaves it permanently unconfigured.
func registerAdapters(cfg *config.Config, router *channel.Router) error {
	tg, dc, sl := cfg.Channels.Telegram, cfg.Channels.Discord, cfg.Channels.Slack
	if !tg.Enabled {
		tg.Token = ""
	}
	if !dc.Enabled {
		dc.Token = ""
	}
	if !sl.Enabled {
		sl.BotToken, sl.AppToken = "", ""
	}

	adapters := []domain.Adapter{
		channel.NewTelegram(channel.TelegramConfig{
			Token:     tg.Token,
			AllowFrom: tg.AllowFrom,
			ParseMode: tg.ParseMode,
			Logger:    logger,
		}),
		channel.NewDiscord(channel.DiscordConfig{
			Token:   dc.Token,
			GuildID: dc.GuildID,
			Logger:  logger,
		}),
		channel.NewSlack(channel.SlackConfig{
			BotToken: sl.BotToken,
			AppToken: sl.AppToken,
			Logger:   logger,
		}),
	}
	for _, a := range adapters {
		if err := router.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func buildHeartbeat(cfg *config.Config, model domain.Model, store *memory.Store,
	sanitizer *security.Sanitizer, router *channel.Router, messageBus domain.MessageBus) (*heartbeat.Heartbeat, error) {

	recipient := heartbeatRecipient(cfg)
	if recipient == "" {
		logger.Warn("heartbeat disabled: no recipient resolvable for the preferred channel",
			"preferred", cfg.Channels.Preferred)
		return nil, nil
	}

	// Runtime overrides saved in the settings store win over the file.
	ctx := context.Background()
	quietStart, err := store.GetSetting(ctx, "heartbeat.quietHoursStart", cfg.Heartbeat.QuietHoursStart)
	if err != nil {
		return nil, err
	}
	quietEnd, err := store.GetSetting(ctx, "heartbeat.quietHoursEnd", cfg.Heartbeat.QuietHoursEnd)
	if err != nil {
		return nil, err
	}
	dedupHours := cfg.Heartbeat.DedupWindowHours
	if v, err := store.GetSetting(ctx, "heartbeat.dedupWindowHours", ""); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			dedupHours = n
		}
	}

	quiet, err := heartbeat.ParseQuietHours(quietStart, quietEnd, cfg.General.Timezone)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	var sources []source.Source
	for _, page := range cfg.Heartbeat.WatchPages {
		sources = append(sources, source.NewWebpage(page.Name, page.URL, sanitizer))
	}

	return heartbeat.New(heartbeat.Config{
		Interval:             time.Duration(cfg.Heartbeat.IntervalMinutes) * time.Minute,
		MisfireGrace:         time.Duration(cfg.Heartbeat.MisfireGraceMinutes) * time.Minute,
		Quiet:                quiet,
		DedupWindow:          time.Duration(dedupHours) * time.Hour,
		MaxNotificationChars: cfg.Heartbeat.MaxNotificationChars,
		Checklist:            cfg.Heartbeat.Checklist,
		Preferred:            cfg.Channels.Preferred,
		Recipient:            recipient,
	}, model, store, sources, router, messageBus, logger), nil
}

// heartbeatRecipient resolves where proactive notifications land. The
// owner is the first allowed Telegram sender; other channels have no
// implicit owner identity yet.
func heartbeatRecipient(cfg *config.Config) string {
	if len(cfg.Channels.Telegram.AllowFrom) > 0 {
		return cfg.Channels.Telegram.AllowFrom[0]
	}
	return ""
}
