package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/avwx-rest/account-backend/adapter/cli"
	"github.com/avwx-rest/account-backend/internal/app"
	"github.com/avwx-rest/account-backend/pkg/config"
	"github.com/avwx-rest/account-backend/pkg/observability"
)

func main() {
	// Warnings only by default so command output stays clean.
	logCfg := observability.DefaultLogConfig()
	logCfg.Level = observability.LogLevelWarn
	logger := observability.NewLogger(logCfg)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Warn("failed to load config, using development mode", "error", err)
		cfg = &config.Config{AppEnv: "development"}
	}

	if cfg.IsDevelopment() {
		logCfg.Level = observability.LogLevelDebug
		logger = observability.NewLogger(logCfg)
	}
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		// Commands fail individually with a clear message when they need
		// the database.
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()
		cli.SetContainer(container)
	}

	cli.Execute(ctx)
}
