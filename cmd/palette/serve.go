package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	palette "github.com/mindspring/palette"
	"github.com/mindspring/palette/internal/config"
	"github.com/mindspring/palette/internal/logging"
	"github.com/mindspring/palette/internal/orchestrator"
	httpadapter "github.com/mindspring/palette/pkg/adapters/http"
	"github.com/mindspring/palette/pkg/adapters/llm"
	"github.com/mindspring/palette/pkg/adapters/memory"
	redisadapter "github.com/mindspring/palette/pkg/adapters/redis"
	"github.com/mindspring/palette/pkg/observability"
	"github.com/mindspring/palette/pkg/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the suggestion engine HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		return runServe(cfgPath)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfgPath string) error {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
	}

	logger := logging.New(logLevel(cfg.LogLevel))

	store, locker, closeStore, err := buildStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	providers := make([]ports.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.APIKey() == "" {
			logger.Warn("provider has no API key, requests will fail",
				slog.String("provider", p.Name),
				slog.String("env", p.APIKeyEnv))
		}
		providers = append(providers, llm.NewClient(p.Name, p.BaseURL, p.APIKey(), p.Model))
	}
	if len(providers) == 0 {
		return fmt.Errorf("no providers configured")
	}

	reg := prometheus.NewRegistry()

	engineOpts := []palette.Option{
		palette.WithLogger(logger),
		palette.WithMetrics(observability.NewMetrics(reg)),
		palette.WithOrchestratorConfig(orchestrator.Config{
			TargetCount:     cfg.Engine.TargetCount,
			ProviderTimeout: cfg.Engine.ProviderTimeout,
			RunBudget:       cfg.Engine.RunBudget,
			Grace:           cfg.Engine.Grace,
			MaxTokens:       cfg.Engine.MaxTokens,
		}),
	}
	if locker != nil {
		engineOpts = append(engineOpts, palette.WithLocker(locker))
	}

	engine := palette.New(store, providers, engineOpts...)
	defer engine.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", httpadapter.NewHandler(engine, httpadapter.WithLogger(logger)))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("store", cfg.Store.Backend),
			slog.Int("providers", len(providers)),
			slog.String("version", palette.Version))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown started", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}

// buildStore creates the configured session store. The locker is non-nil only
// for backends that support cross-process locking.
func buildStore(cfg config.StoreConfig) (ports.SessionStore, ports.DistributedLocker, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisadapter.NewFromClient(client,
			redisadapter.WithTTL(cfg.TTL),
			redisadapter.WithPrefix(cfg.Redis.Prefix))
		locker := redisadapter.NewLocker(client, "palette:lock:")
		return store, locker, func() { store.Close() }, nil
	case "memory":
		store := memory.NewStore(memory.WithTTL(cfg.TTL))
		return store, nil, func() { store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
