package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"csbridge/internal/agent"
	"csbridge/internal/booking"
	"csbridge/internal/config"
	"csbridge/internal/history"
	"csbridge/internal/metrics"
	"csbridge/internal/notify"
	"csbridge/internal/provider"
	"csbridge/internal/relay"
	"csbridge/internal/tool"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
	envFile    string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "csbridge",
		Short: "csbridge: AI customer-service bridge for Dianping chats",
		Long: `csbridge receives scraped chat messages over WebSocket, generates replies
with OpenAI, Zhipu or DeepSeek (falling back in priority order), books
appointments through the store's booking API and mails confirmations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			logger = newLogger(logLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.csbridge/config.json, environment only when absent)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment overlay")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: general.logLevel)")

	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(notifyCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("csbridge", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig reads --config, or the default path when it exists, or builds
// the config from the environment alone. The log level from the file applies
// unless --log-level was given.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no config file, using environment", "path", path)
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, err
			}
			applyLogLevel(cfg)
			return cfg, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyLogLevel(cfg)
	logger.Debug("config loaded", "path", path)
	return cfg, nil
}

func applyLogLevel(cfg *config.Config) {
	if logLevel == "" && cfg.General.LogLevel != "" {
		logger = newLogger(cfg.General.LogLevel)
	}
}

// app is the wired reply stack shared by the commands.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	factory  *provider.Factory
	booking  *booking.Client
	notifier *notify.Service
	tools    *tool.Registry
	orch     *agent.Orchestrator
}

func buildApp(cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	prompt, err := config.LoadPrompt(cfg.General.PromptFile)
	if err != nil {
		return nil, err
	}
	mail, err := config.LoadMail(cfg.General.MailFile)
	if err != nil {
		return nil, err
	}
	sender, err := notify.NewSender(mail.Email, logger)
	if err != nil {
		return nil, fmt.Errorf("mail sender: %w", err)
	}

	bookingClient := booking.NewClient(booking.Config{
		BaseURL: cfg.Booking.APIBase,
		Timeout: time.Duration(cfg.Booking.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	notifier := notify.NewService(notify.ServiceConfig{
		Sender:        sender,
		Directory:     bookingClient,
		AddressDomain: mail.Email.AddressDomain,
		Metrics:       m,
		Logger:        logger,
	})

	tools := tool.NewRegistry(logger, m)
	tool.RegisterBookingTools(tools, bookingClient, tool.BookingOptions{
		DefaultUsername: cfg.Booking.Username,
		Linter:          prompt,
	})
	if notify.Delivers(mail.Email) {
		tool.RegisterEmailTool(tools, notifier)
	} else {
		logger.Warn("mail provider is stub; send_appointment_emails is not offered to the model", "provider", mail.Email.Provider)
	}

	factory := provider.NewFactory(cfg, logger)
	providers := factory.Configured()
	if len(providers) == 0 {
		logger.Warn("no provider configured; set OPENAI_API_KEY, ZHIPU_API_KEY or DEEPSEEK_API_KEY")
	}

	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Providers:       providers,
		Tools:           tools,
		Prompt:          agent.NewPromptBuilder(prompt, cfg.General.HistoryTurns),
		Memory:          agent.NewMemory(cfg.General.MemoryLimit),
		DefaultProvider: cfg.General.DefaultProvider,
		Metrics:         m,
		Logger:          logger,
	})

	return &app{
		cfg:      cfg,
		registry: reg,
		metrics:  m,
		factory:  factory,
		booking:  bookingClient,
		notifier: notifier,
		tools:    tools,
		orch:     orch,
	}, nil
}

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket relay",
		Long:  "Accepts scraper connections, replies to new customer messages and serves /healthz, /status and /metrics. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("host") {
				cfg.Relay.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Relay.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides relay.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides relay.port)")
	return cmd
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	store, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer store.Close()

	for _, p := range a.factory.Configured() {
		if err := p.Healthy(ctx); err != nil {
			logger.Warn("provider unhealthy at startup", "provider", p.Name(), "error", err)
		} else {
			logger.Info("provider healthy", "provider", p.Name(), "model", p.Model())
		}
	}

	rc := relay.Config{
		Host:          cfg.Relay.Host,
		Port:          cfg.Relay.Port,
		Path:          cfg.Relay.Path,
		DefaultChatID: cfg.Relay.DefaultChatID,
		Pipeline:      relay.NewPipeline(store, a.orch, cfg.History.Limit, logger),
		Status: func(ctx context.Context) any {
			return a.orch.Status()
		},
		Metrics: a.metrics,
		Logger:  logger,
	}
	if cfg.Metrics.Enabled {
		rc.MetricsHandler = metrics.Handler(a.registry)
		rc.MetricsPath = cfg.Metrics.Path
	}
	srv := relay.NewServer(rc)

	logger.Info("csbridge started", "version", version, "tools", len(a.tools.Names()), "history", cfg.History.Backend)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
