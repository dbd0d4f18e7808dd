package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"crosspost/internal/api"
	"crosspost/internal/assets"
	"crosspost/internal/channel"
	"crosspost/internal/config"
	"crosspost/internal/generator"
	"crosspost/internal/ledger"
	"crosspost/internal/relay"
	"crosspost/internal/scheduler"
	"crosspost/internal/service"
	"crosspost/internal/store"
	storepg "crosspost/internal/store/postgres"
	"crosspost/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	local, err := sqlite.Open(cfg.Local.Path)
	if err != nil {
		logger.Error("failed to open local store", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	syncStore := store.NewSyncStore(local, storepg.NewStore(db), cfg.Sync.RetryDelay, logger)
	state := store.NewStateStore(syncStore)

	rabbitMQ, err := relay.NewRabbitMQ(relay.Config{
		URL:        cfg.Relay.URL,
		Exchange:   cfg.Relay.Exchange,
		RoutingKey: cfg.Relay.RoutingKey,
		QueueName:  cfg.Relay.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to relay", "error", err)
		os.Exit(1)
	}
	defer rabbitMQ.Close()

	registry := channel.NewRegistry(cfg.Channels)

	genClient := generator.New(generator.Config{
		BaseURL:        cfg.Generation.BaseURL,
		TargetLength:   cfg.Generation.TargetLength,
		Timeout:        cfg.Generation.Timeout,
		MaxAttempts:    cfg.Generation.Retry.MaxAttempts,
		InitialBackoff: cfg.Generation.Retry.InitialBackoff,
		MaxBackoff:     cfg.Generation.Retry.MaxBackoff,
		RatePerSec:     cfg.Generation.RatePerSec,
		RateBurst:      cfg.Generation.RateBurst,
	}, logger)

	creditLedger := ledger.New(state, logger)

	orchestrator := service.NewGenerationOrchestrator(
		registry,
		genClient,
		creditLedger,
		state,
		logger,
		service.GenerationOptions{
			TaskTimeout:    cfg.Generation.TaskTimeout,
			CreditsEnabled: cfg.Credits.Enabled,
			GenerationCost: cfg.Credits.GenerationCost,
		},
	)

	dispatcher := service.NewPublishDispatcher(
		registry,
		rabbitMQ,
		creditLedger,
		state,
		logger,
		service.DispatchOptions{
			CreditsEnabled: cfg.Credits.Enabled,
			ScheduleCost:   cfg.Credits.ScheduleCost,
		},
	)

	calendar := service.NewCalendarMaterializer(state, cfg.Calendar.HorizonDays, logger)

	assetClient := assets.New(assets.Config{
		BaseURL: cfg.Assets.BaseURL,
		Timeout: cfg.Assets.Timeout,
	}, logger)

	sched := scheduler.New(
		dispatcher,
		syncStore,
		cfg.Dispatch.Interval,
		cfg.Sync.ReconcileInterval,
		logger,
	)

	apiServer := api.NewServer(orchestrator, dispatcher, calendar, creditLedger, assetClient, logger)
	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: apiServer.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("api listening", "addr", cfg.API.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", "error", err)
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting publishing orchestrator",
		"channels", len(cfg.Channels),
		"dispatch_interval", cfg.Dispatch.Interval,
		"credits_enabled", cfg.Credits.Enabled,
	)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
