package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcoot/bunker/internal/api"
	"github.com/mcoot/bunker/internal/api/middleware"
	"github.com/mcoot/bunker/internal/config"
	"github.com/mcoot/bunker/internal/factory"
	"github.com/mcoot/bunker/internal/logging"
)

const (
	hubCleanupInterval     = time.Minute
	sessionCleanupInterval = 10 * time.Minute
	limiterIdleTimeout     = 10 * time.Minute
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, logging.Format(cfg.LogFormat), logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; tokens will not survive a restart")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	factoryCfg, err := factory.ConfigFrom(cfg, logger)
	if err != nil {
		logger.Error("failed to build application config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	app, err := factory.New(ctx, factoryCfg)
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	attempts := middleware.NewAttemptLimiter(cfg.JoinRatePerMinute)
	router := api.NewRouter(api.RouterConfig{
		Logger:          logger,
		AuthService:     app.AuthService,
		LobbyController: app.LobbyController,
		Subscriber:      app.Feed,
		HubManager:      app.HubManager,
		AllowedOrigins:  cfg.Origins(),
		Attempts:        attempts,
		StorageType:     cfg.StorageType,
		FeedType:        cfg.FeedType,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Host
	serverConfig.Port = cfg.Port
	server := api.NewServer(router, serverConfig, logger)
	// SSE handlers block until their hub closes
	server.RegisterOnShutdown(app.HubManager.Close)

	go app.HubManager.RunCleanup(ctx, hubCleanupInterval)
	go runPeriodic(ctx, sessionCleanupInterval, func() {
		app.AuthService.CleanExpiredSessions()
		if n := attempts.Prune(limiterIdleTimeout); n > 0 {
			logger.Debug("pruned idle rate limiters", slog.Int("count", n))
		}
	})

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started",
		slog.String("addr", server.Addr()),
		slog.String("storage", cfg.StorageType),
		slog.String("feed", cfg.FeedType))

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	// Closing the feed ends any websocket streams still open
	if err := app.Close(); err != nil {
		logger.Error("failed to close backends", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("server stopped")
	cancel()
	os.Exit(exitCode)
}

func runPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
