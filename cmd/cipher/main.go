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

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.SentryDSN,
		Environment: cfg.Sentry.Environment,
		Release:     "v1",
	}); err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	lg := logger.New(cfg.Log, "cipher")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.NewCipher(cfg, lg).Run(ctx); err != nil {
		lg.WithError(err).Error("cipher service stopped with error")
		return
	}
	lg.Info("cipher service stopped")
}
