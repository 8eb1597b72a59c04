package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/igormart21/milha-alerta-fly/internal/auth"
	"github.com/igormart21/milha-alerta-fly/internal/broker"
	"github.com/igormart21/milha-alerta-fly/internal/cache"
	"github.com/igormart21/milha-alerta-fly/internal/config"
	"github.com/igormart21/milha-alerta-fly/internal/database"
	"github.com/igormart21/milha-alerta-fly/internal/events"
	"github.com/igormart21/milha-alerta-fly/internal/features"
	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/metrics"
	"github.com/igormart21/milha-alerta-fly/internal/notify"
	"github.com/igormart21/milha-alerta-fly/internal/service"
	"github.com/igormart21/milha-alerta-fly/internal/tracing"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "milha-alerta",
		Short:   "Travel-miles alert API",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "JSON config file (env variables take precedence)")

	rootCmd.AddCommand(newServeCmd(), newSweepCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newSweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale alerts once and print their ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
				now = parsed.UTC()
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.service.ExpireStale(cmd.Context(), now)
			for _, alert := range expired {
				fmt.Fprintln(cmd.OutOrStdout(), alert.ID)
			}
			a.log.Info("sweep finished", "expired", len(expired))
			return err
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "reference time in RFC3339 (default: current time)")
	return cmd
}

// app holds the dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	db       *database.DB
	cache    cache.Cache
	flags    *features.Manager
	events   *events.Manager
	sink     broker.Sink
	service  *service.Service
	sessions auth.SessionProvider
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	metrics.Register()

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: tracing.DefaultServiceName,
		Environment: cfg.Tracing.Environment,
		Version:     version,
	}); err != nil {
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		flags: features.NewDefaultManager(cfg.Features),
	}

	a.cache = cache.NewInMemoryCache()
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, using in-memory cache", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			a.cache = rc
		}
	}

	a.events = events.NewManager(true, log)

	if cfg.Notify.WhatsAppEndpoint != "" {
		client := notify.NewWhatsAppClient(notify.WhatsAppConfig{
			BaseURL:    cfg.Notify.WhatsAppEndpoint,
			Token:      cfg.Notify.WhatsAppToken,
			Timeout:    config.Seconds(cfg.Notify.Timeout),
			MaxElapsed: config.Seconds(cfg.Notify.MaxElapsed),
		}, log)
		notify.NewNotifier(client, a.flags, log).Register(a.events)
	}

	a.sink, err = broker.New(broker.Config{
		Kind:          cfg.Events.Sink,
		KafkaBrokers:  cfg.KafkaBrokers(),
		KafkaTopic:    cfg.Events.KafkaTopic,
		NATSURL:       cfg.Events.NATSURL,
		SubjectPrefix: cfg.Events.SubjectPrefix,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect events sink: %w", err)
	}
	if a.sink != nil {
		broker.Register(a.events, a.sink, log)
	}

	policy, err := service.ParsePolicy(cfg.Lifecycle.ReplacementPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = service.NewService(db,
		service.WithEvents(a.events),
		service.WithCache(a.cache, config.Seconds(cfg.Cache.StatsTTL)),
		service.WithFeatures(a.flags),
		service.WithLogger(log),
		service.WithPolicy(policy),
		service.WithRetention(cfg.Retention()),
	)

	if cfg.Auth.SupabaseURL != "" {
		a.sessions = auth.NewSupabaseProvider(cfg.Auth.SupabaseURL, cfg.Auth.SupabaseKey).
			WithCache(a.cache, config.Seconds(cfg.Cache.SessionTTL))
	} else {
		users, err := auth.ParseStaticTokens(cfg.Auth.StaticTokens)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sessions = auth.NewStaticProvider(users)
		log.Warn("using static session tokens", "count", len(users))
	}

	return a, nil
}

// Close drains pending event handlers and releases every connection.
func (a *app) Close() {
	if a.events != nil {
		a.events.Shutdown()
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("failed to close events sink", "error", err)
		}
	}
	if rc, ok := a.cache.(*cache.RedisCache); ok {
		rc.Close()
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("failed to close database", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		a.log.Warn("failed to flush traces", "error", err)
	}
	a.log.Sync()
}
