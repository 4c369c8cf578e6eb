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

const defaultConfigFile = "config.json"

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

func configFile() string {
	if f := os.Getenv("CONFIG_FILE"); f != "" {
		return f
	}
	return defaultConfigFile
}

func main() {
	cfg, err := config.Load(configFile())
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	err = initSentry(&cfg.Sentry, "v1")
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}

	// Flush buffered events before the program terminates.
	defer sentry.Flush(2 * time.Second)

	lg := logger.New(cfg.Log, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.WithError(err).Fatal("failed to start api")
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		lg.WithError(err).Error("api stopped with error")
		return
	}
	lg.Info("api stopped")
}
