package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/app"
	"github.com/kaushikharsh99/Dropvault/internal/config"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
	"github.com/kaushikharsh99/Dropvault/internal/tracer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()
	log := logger.NewZapLogger(cfg.LogFile, cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	shutdownTracer := tracer.InitTracer(ctx, cfg.OtelEnabled, cfg.OtelEndpoint, "dropvault-api", log)

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("main", "startup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if err := application.StartWorkers(ctx); err != nil {
		log.Error("main", "worker startup failed", map[string]interface{}{"error": err.Error()})
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- application.Server.Start() }()
	log.Info("main", "DropVault is running", map[string]interface{}{"port": cfg.Port})

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("main", "server error", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn("main", "http shutdown", map[string]interface{}{"error": err.Error()})
	}
	application.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("main", "tracer shutdown", map[string]interface{}{"error": err.Error()})
	}
	log.Info("main", "shut down cleanly", nil)
}
