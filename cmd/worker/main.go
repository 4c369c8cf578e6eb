package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/trunov/captionhub/internal/app"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/logger"
)

func main() {
	file := os.Getenv("CONFIG_FILE")
	if file == "" {
		file = "config.json"
	}
	cfg, err := config.Load(file)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.SentryDSN,
		Environment: cfg.Sentry.Environment,
		Release:     "v1",
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	lg := logger.New(cfg.Log, "compress-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := app.NewWorker(ctx, cfg, lg)
	if err != nil {
		lg.WithError(err).Fatal("failed to start worker")
	}
	defer w.Close()

	if err := w.Run(ctx); err != nil {
		lg.WithError(err).Error("worker stopped with error")
		return
	}
	lg.Info("worker stopped, in-flight jobs settled")
}
