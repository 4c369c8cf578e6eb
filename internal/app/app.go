package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/cmd/migrate"
	"github.com/trunov/captionhub/internal/blob"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/cryptoclient"
	"github.com/trunov/captionhub/internal/queue"
	"github.com/trunov/captionhub/internal/redisholder"
	"github.com/trunov/captionhub/internal/repository/storage"
	"github.com/trunov/captionhub/internal/transport/handler"
	"github.com/trunov/captionhub/internal/transport/router"
	use_case "github.com/trunov/captionhub/internal/use-case"
)

const shutdownTimeout = 15 * time.Second

// App is the API process: it accepts submissions, produces compression jobs
// and serves records back.
type App struct {
	HttpServer *http.Server
	log        *logrus.Entry
	closers    []func()
}

func New(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*App, error) {
	if err := migrate.Migrate(ctx, cfg.Database.DSN, migrate.Migrations, log); err != nil {
		return nil, err
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{log: log, closers: []func(){repo.Close}}

	// The Redis health loop outlives the request context and stops in Close.
	infraCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	holder, err := redisholder.Build(infraCtx, cfg.Redis, log)
	if err != nil {
		cancel()
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, cancel, func() { _ = holder.Close() })

	objects, err := blob.Open(ctx, cfg.Storage, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	crypto := cryptoclient.New(cfg.Crypto.URL, cfg.Crypto.Timeout, log)
	producer := queue.NewProducer(holder, cfg.Worker.Stream, cfg.Worker.MaxLen)

	a.HttpServer = &http.Server{
		Handler:      newAPIHandler(cfg, repo, pingAll{repo, holder}, objects, crypto, producer, log),
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// pingAll reports the first dependency that does not answer.
type pingAll []handler.Pinger

func (p pingAll) Ping(ctx context.Context) error {
	for _, d := range p {
		if err := d.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newAPIHandler(cfg *config.Config, repo use_case.Storage, health handler.Pinger, objects use_case.ObjectStore, crypto use_case.Crypto, producer use_case.JobPublisher, log *logrus.Entry) http.Handler {
	uc := use_case.New(repo, objects, crypto, producer, use_case.Buckets{
		Raw:    cfg.Storage.RawBucket,
		Public: cfg.Storage.PublicBucket,
	}, log)

	h := handler.New(uc, cfg.Upload, health)
	return router.NewRouter(h)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	return serve(ctx, a.HttpServer, a.log)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, srv *http.Server, log *logrus.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
