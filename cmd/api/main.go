package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
)

// @title           Stock Ledger API
// @version         1.0
// @description     Reserve, commit, release and expire inventory holds without overselling.
// @BasePath        /
// @schemes         http
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app, cleanup, err := InitializeApp(cfg)
	if err != nil {
		log.Fatalf("initialize app: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info("stockledger starting",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.Int("http_port", cfg.Server.Port),
		zap.Bool("grpc", cfg.GRPC.Enabled),
	)

	if err := app.Run(ctx); err != nil {
		app.logger.Error("stockledger stopped with error", zap.Error(err))
		stop()
		cleanup()
		os.Exit(1)
	}
	app.logger.Info("stockledger stopped")
}
