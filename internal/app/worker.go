package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/blob"
	"github.com/trunov/captionhub/internal/cache"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/events"
	"github.com/trunov/captionhub/internal/metrics"
	"github.com/trunov/captionhub/internal/pipeline"
	"github.com/trunov/captionhub/internal/processor"
	"github.com/trunov/captionhub/internal/queue"
	"github.com/trunov/captionhub/internal/redisholder"
	"github.com/trunov/captionhub/internal/repository/storage"
)

// Worker is the compression process: a consumer pool on the job stream, the
// reconciliation sweep and a metrics endpoint.
type Worker struct {
	consumers *queue.Worker
	sweeper   *queue.Sweeper
	metrics   *http.Server
	log       *logrus.Entry
	closers   []func()
}

type workerStore interface {
	pipeline.RecordStore
	queue.StaleRecords
}

func NewWorker(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Worker, error) {
	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	w := &Worker{log: log, closers: []func(){repo.Close}}

	// Redis must stay up until in-flight jobs are acked, after ctx is cancelled.
	infraCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	holder, err := redisholder.Build(infraCtx, cfg.Redis, log)
	if err != nil {
		cancel()
		w.Close()
		return nil, err
	}
	w.closers = append(w.closers, cancel, func() { _ = holder.Close() })

	objects, err := blob.Open(ctx, cfg.Storage, log)
	if err != nil {
		w.Close()
		return nil, err
	}

	ev, err := events.New(cfg.Events.Brokers, cfg.Events.Topic)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.closers = append(w.closers, func() { _ = ev.Close() })

	w.consumers, w.sweeper = newCompressionWorker(cfg, holder, objects, repo, ev, log)
	if cfg.Worker.MetricsPort > 0 {
		w.metrics = metrics.NewServer(cfg.Worker.MetricsPort)
	}
	return w, nil
}

func newCompressionWorker(cfg *config.Config, holder *redisholder.Holder, objects blob.Store, repo workerStore, ev events.Publisher, log *logrus.Entry) (*queue.Worker, *queue.Sweeper) {
	p := pipeline.New(
		objects,
		repo,
		processor.NewCompressor(cfg.Worker.Quality, cfg.Worker.MaxWidth, cfg.Worker.MaxHeight),
		cache.NewCache("captionhub:completed", holder),
		ev,
		pipeline.Options{
			RawBucket:     cfg.Storage.RawBucket,
			PublicBucket:  cfg.Storage.PublicBucket,
			ScratchDir:    cfg.Worker.ScratchDir,
			CompletionTTL: cfg.Worker.CompletionTTL,
		},
		log,
	)

	consumers := queue.NewWorker(holder, cfg.Worker, p, log)
	producer := queue.NewProducer(holder, cfg.Worker.Stream, cfg.Worker.MaxLen)
	parked := queue.NewParked(holder, cfg.Worker.Stream)
	sweeper := queue.NewSweeper(repo, producer, parked, objects, cfg.Storage.RawBucket, cfg.Reconcile, log)
	return consumers, sweeper
}

// Run blocks until ctx is cancelled and every consumer has finished its
// current job.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if w.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serve(ctx, w.metrics, w.log.WithField("component", "metrics")); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweeper.Run(ctx)
	}()

	err := w.consumers.Start(ctx)
	wg.Wait()
	return err
}

func (w *Worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}
