package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/app"
	"activity/internal/config"
)

// Worker renders and discards certificate images queued by the api.
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a TOML config file")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	if cfg.QueueBackend == "memory" {
		logger.Error.Fatalf("worker needs a shared queue, QUEUE_BACKEND=memory runs jobs inside the api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.NewService(ctx, cfg)
	if err != nil {
		logger.Error.Fatalf("Failed to start: %v", err)
	}
	defer service.Close()

	if !cfg.FaceSkip {
		if err := service.Face.Health(ctx); err != nil {
			logger.Error.Printf("face service not available: %v", err)
		} else {
			logger.Info.Println("face service connected")
		}
	}

	logger.Info.Println("worker started, waiting for jobs...")
	if err := service.RunArtifacts(ctx); err != nil {
		logger.Error.Printf("worker stopped: %v", err)
		return
	}
	logger.Info.Println("worker stopped")
}
