package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/catalog"
	"shopbot/internal/channel"
	"shopbot/internal/config"
	"shopbot/internal/conversation"
	"shopbot/internal/handler"
	"shopbot/internal/mcp"
	"shopbot/internal/metrics"
	"shopbot/internal/order"
	"shopbot/internal/provider"
	"shopbot/internal/queue"
	"shopbot/internal/store"
	"shopbot/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "shopbot",
		Short: "ShopBot: conversational commerce for messaging channels",
		Long:  "ShopBot answers product questions and takes orders over WhatsApp, Telegram, and the terminal.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.shopbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
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

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogger rebuilds the process logger from config: level from
// general.logLevel, destination from general.logFile when set.
func setupLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(config.ExpandPath(cfg.General.LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start all enabled channels and the message pipeline",
		Long:  "Starts the WhatsApp webhook, Telegram long polling, and the message pipeline. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err = setupLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.close()

	// Surface the commerce lifecycle in the server log.
	pipe.events.On(bus.EventOrderCreated, func(e bus.Event) {
		logger.Info("order created", "order", e.Payload["order"], "customer", e.Payload["customer"], "total", e.Payload["total"])
	})
	pipe.events.On(bus.EventOrderCancelled, func(e bus.Event) {
		logger.Info("order cancelled", "order", e.Payload["order"], "customer", e.Payload["customer"])
	})
	pipe.events.On(bus.EventMessageDropped, func(e bus.Event) {
		logger.Warn("message dropped after retries", "sender", e.Payload["sender"], "id", e.Payload["id"])
	})

	go pipe.handler.Run(ctx, pipe.bus, pipe.queue)

	started := 0
	var whatsappCh *channel.WhatsApp
	if cfg.Channels.WhatsApp.Enabled {
		whatsappCh = channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config: cfg.Channels.WhatsApp,
			Logger: logger,
		})
		if err := whatsappCh.Start(ctx, pipe.bus); err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		logger.Info("whatsapp channel enabled", "webhook", cfg.Channels.WhatsApp.WebhookPath)
		started++
	}

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramChannelConfig{
			Token:  cfg.Channels.Telegram.Token,
			Logger: logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, pipe.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
		started++
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Metrics.Endpoint, metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "endpoint", cfg.Metrics.Endpoint)
	}

	if started == 0 {
		return fmt.Errorf("no channels enabled; enable whatsapp or telegram in the config, or use `shopbot chat`")
	}
	logger.Info("shopbot started", "version", version)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if whatsappCh != nil {
			whatsappCh.Stop()
		}
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		pipe.bus.Close()
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

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
			}
			logger, err = setupLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipe, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer pipe.close()

			go pipe.handler.Run(ctx, pipe.bus, pipe.queue)

			cliCh := channel.NewCLI(channel.CLIChannelConfig{Logger: logger})
			return cliCh.Start(ctx, pipe.bus)
		},
	}
}

// pipeline bundles everything runServe and chat share: the store, the bus,
// the work queue, and the fully wired message handler.
type pipeline struct {
	bus     *bus.InMemoryBus
	events  *bus.EventBus
	queue   *queue.Queue
	handler *handler.Handler
	store   *store.SQLiteStore
	mcp     *mcp.Client
}

func (p *pipeline) close() {
	if p.mcp != nil {
		p.mcp.Close()
	}
	p.store.Close()
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if err := catalog.Seed(ctx, db, cfg.Catalog.Path, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	events := bus.NewEventBus(logger)
	messageBus := bus.New(cfg.Queue.BusBufferSize, logger)

	toolReg := tool.NewRegistry(logger).WithEvents(events)
	toolReg.Register(tool.NewProductSearchTool(db))
	toolReg.Register(tool.NewProductDetailsTool(db))
	toolReg.Register(tool.NewOrderStatusTool(db))
	toolReg.Register(tool.NewDeliveryStatusTool(db))

	var mcpClient *mcp.Client
	if cfg.MCP.Enabled {
		mcpClient, err = mcp.Connect(ctx, cfg.MCP, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("mcp: %w", err)
		}
		mcpClient.RegisterTools(toolReg)
	}

	prov, err := provider.NewFactory(cfg, logger).Chain()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	if prov == nil {
		logger.Warn("no provider enabled, general inquiries get the static menu")
	} else if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	contexts := conversation.NewStore(conversation.StoreConfig{
		MaxHistory: cfg.Conversation.MaxHistory,
		MaxSenders: cfg.Conversation.MaxSenders,
		TTL:        time.Duration(cfg.Conversation.TTLHours) * time.Hour,
		Logger:     logger,
	})
	contexts.StartSweep(ctx, time.Duration(cfg.Conversation.SweepMinutes)*time.Minute)

	flow := order.NewFlow(order.FlowConfig{
		Store:   db,
		Events:  events,
		Logger:  logger,
		Country: cfg.General.Country,
	})

	h := handler.NewHandler(handler.Config{
		Store:           db,
		Contexts:        contexts,
		Flow:            flow,
		Logger:          logger,
		Events:          events,
		RateLimitMax:    cfg.RateLimit.MaxMessages,
		RateLimitWindow: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		Provider:        prov,
		Tools:           toolReg,
		SystemPrompt:    cfg.General.SystemPrompt,
	})

	q := queue.New(queue.Config{
		MaxRetries: cfg.Queue.MaxRetries,
		BaseDelay:  time.Duration(cfg.Queue.BaseDelayMs) * time.Millisecond,
		Logger:     logger,
		Events:     events,
	})

	return &pipeline{bus: messageBus, events: events, queue: q, handler: h, store: db, mcp: mcpClient}, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and provider status",
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
			prov, err := provider.NewFactory(cfg, logger).Chain()
			if err != nil || prov == nil {
				logger.Info("provider", "enabled", false)
			} else if err := prov.Healthy(ctx); err != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			}

			db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "healthy", false, "err", err)
				return nil
			}
			defer db.Close()
			products, err := db.ListProducts(ctx)
			if err != nil {
				logger.Info("store", "healthy", false, "err", err)
				return nil
			}
			logger.Info("store", "healthy", true, "products", len(products))
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
			cfg, err := loadConfig()
			if err != nil {
				return err
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
		Short: "Set a config value (e.g. rateLimit.maxMessages 60)",
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
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
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
