package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/app"
	"github.com/antoniostano/ivrsat/internal/config"
	"github.com/antoniostano/ivrsat/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	logger.Info("ivrsat starting",
		zap.String("ari_url", cfg.ARIURL),
		zap.String("application", cfg.ARIApplication),
		zap.Int("max_retries", cfg.MaxRetries),
	)
	if err := built.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}
