package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/errs"
	"github.com/trunov/captionhub/internal/metrics"
)

// Handler processes one message payload. Its error decides between
// acknowledging and redelivering, see Decide.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

type HandlerFunc func(ctx context.Context, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Worker consumes a Redis Stream through a consumer group with a pool of
// consumers. Each consumer handles one message to completion before asking
// for the next.
type Worker struct {
	rc      ClientSource
	cfg     config.WorkerConfig
	handler Handler
	parked  *Parked
	log     *logrus.Entry
}

func NewWorker(rc ClientSource, cfg config.WorkerConfig, handler Handler, log *logrus.Entry) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Worker{
		rc:      rc,
		cfg:     cfg,
		handler: handler,
		parked:  NewParked(rc, cfg.Stream),
		log:     log.WithFields(logrus.Fields{"component": "compress-worker", "stream": cfg.Stream, "group": cfg.Group}),
	}
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.rc.Get().XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Start runs the consumers until ctx is cancelled. A message being handled
// when ctx ends is finished (bounded by JobTimeout) before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	w.log.WithField("workers", w.cfg.Workers).Info("starting consumers")

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", w.cfg.Consumer, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := w.log.WithField("consumer", consumer)
			log.Info("consumer started")
			w.loop(ctx, consumer)
			log.Info("consumer stopped")
		}()
	}

	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context, consumer string) {
	failures := 0
	for ctx.Err() == nil {
		m, ok, err := w.next(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := min(time.Duration(failures)*200*time.Millisecond, 5*time.Second)
			w.log.WithError(err).WithField("consumer", consumer).Warn("read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if !ok {
			continue
		}
		w.handle(ctx, consumer, m)
	}
}

// next returns one message for consumer: an idle pending message reclaimed
// from any consumer of the group if there is one, otherwise a new message.
func (w *Worker) next(ctx context.Context, consumer string) (redis.XMessage, bool, error) {
	rc := w.rc.Get()

	if w.cfg.ReclaimIdle > 0 {
		// XAUTOCLAIM transfers ownership of messages pending longer than
		// ReclaimIdle: deferred ones, and ones whose consumer died before XACK.
		msgs, _, err := rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: consumer,
			MinIdle:  w.cfg.ReclaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, fmt.Errorf("xautoclaim: %w", err)
		}
		if len(msgs) > 0 {
			return msgs[0], true, nil
		}
	}

	// XREADGROUP with ">" delivers a new message and adds it to this
	// consumer's pending entries list until XACK.
	streams, err := rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.cfg.Group,
		Consumer: consumer,
		Streams:  []string{w.cfg.Stream, ">"},
		Count:    1,
		Block:    w.cfg.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("xreadgroup: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return redis.XMessage{}, false, nil
	}
	return streams[0].Messages[0], true, nil
}

// handle runs the handler for one message and settles it. The work runs on a
// context detached from ctx so shutdown does not abort it halfway.
func (w *Worker) handle(ctx context.Context, consumer string, m redis.XMessage) Outcome {
	start := time.Now()
	log := w.log.WithFields(logrus.Fields{"consumer": consumer, "message_id": m.ID})

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	defer cancel()

	raw, ok := m.Values["payload"].(string)
	var err error
	if !ok {
		err = errs.E(errs.KindInvalidInput, "queue.Worker", errors.New("message has no payload field"))
	} else {
		err = w.safeHandle(jobCtx, []byte(raw))
	}

	outcome := Decide(err)
	switch outcome {
	case OutcomeCompleted:
		w.ack(jobCtx, log, m.ID)
		log.Info("job completed")

	case OutcomeRejected:
		w.ack(jobCtx, log, m.ID)
		log.WithError(err).WithField("kind", errs.KindOf(err)).Warn("job rejected, dropping message")
		sentry.CaptureException(err)
		w.park(jobCtx, log, raw)

	case OutcomeDeferred:
		deliveries, derr := w.deliveries(jobCtx, m.ID)
		if derr != nil {
			log.WithError(derr).Warn("could not read delivery count")
		}
		if w.cfg.MaxDeliveries > 0 && deliveries >= w.cfg.MaxDeliveries {
			outcome = OutcomeDeadLettered
			w.deadLetter(jobCtx, log, m.ID, raw, deliveries, err)
			break
		}
		log.WithError(err).WithField("deliveries", deliveries).Warn("job deferred, message left pending for redelivery")
	}

	metrics.ObserveJob(string(outcome), time.Since(start))
	return outcome
}

func (w *Worker) safeHandle(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, payload)
}

func (w *Worker) ack(ctx context.Context, log *logrus.Entry, id string) {
	if err := w.rc.Get().XAck(ctx, w.cfg.Stream, w.cfg.Group, id).Err(); err != nil {
		// The message stays pending and is handled again; the pipeline is idempotent.
		log.WithError(err).Error("ack failed")
	}
}

// park keeps the sweeper from re-publishing a record whose job will not
// succeed on its own.
func (w *Worker) park(ctx context.Context, log *logrus.Entry, raw string) {
	job, err := ParseCompressJob([]byte(raw))
	if err != nil {
		return
	}
	if err := w.parked.Add(ctx, job.RecordID); err != nil {
		log.WithError(err).WithField("record_id", job.RecordID).Warn("park record failed")
	}
}

func (w *Worker) deliveries(ctx context.Context, id string) (int64, error) {
	pending, err := w.rc.Get().XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: w.cfg.Stream,
		Group:  w.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (w *Worker) deadLetter(ctx context.Context, log *logrus.Entry, id, raw string, deliveries int64, cause error) {
	err := w.rc.Get().XAdd(ctx, &redis.XAddArgs{
		Stream: w.cfg.DeadLetter(),
		MaxLen: w.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			"payload":    raw,
			"message_id": id,
			"deliveries": deliveries,
			"error":      cause.Error(),
		},
	}).Err()
	if err != nil {
		log.WithError(err).Error("dead-letter publish failed, message left pending")
		return
	}

	w.ack(ctx, log, id)
	w.park(ctx, log, raw)
	metrics.DeadLetters.Inc()
	log.WithError(cause).WithField("deliveries", deliveries).Error("job dead-lettered after exhausting deliveries")
	sentry.CaptureException(fmt.Errorf("job %s dead-lettered after %d deliveries: %w", id, deliveries, cause))
}
