package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/cache"
	"github.com/trunov/captionhub/internal/errs"
	"github.com/trunov/captionhub/internal/events"
	"github.com/trunov/captionhub/internal/queue"
)

type ObjectStore interface {
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
	Upload(ctx context.Context, bucket, key, contentType string, payload []byte) error
	URL(bucket, key string) string
}

type RecordStore interface {
	CompleteRecord(ctx context.Context, id int64, publicURL string) error
}

type Compressor interface {
	Compress(r io.Reader) ([]byte, error)
}

type CompletionCache interface {
	Get(ctx context.Context, key string) (string, error)
	Store(ctx context.Context, key string, ttl time.Duration, value string) error
}

type Options struct {
	RawBucket     string
	PublicBucket  string
	ScratchDir    string
	CompletionTTL time.Duration
}

// Pipeline turns one compression job into a completed record. Every step is
// idempotent, so a redelivered job converges on the same object and row.
type Pipeline struct {
	objects    ObjectStore
	records    RecordStore
	compressor Compressor
	done       CompletionCache
	events     events.Publisher
	opts       Options
	log        *logrus.Entry
}

func New(objects ObjectStore, records RecordStore, compressor Compressor, done CompletionCache, ev events.Publisher, opts Options, log *logrus.Entry) *Pipeline {
	if ev == nil {
		ev = events.Noop{}
	}
	return &Pipeline{
		objects:    objects,
		records:    records,
		compressor: compressor,
		done:       done,
		events:     ev,
		opts:       opts,
		log:        log.WithField("component", "pipeline"),
	}
}

// Handle implements queue.Handler.
func (p *Pipeline) Handle(ctx context.Context, payload []byte) error {
	job, err := queue.ParseCompressJob(payload)
	if err != nil {
		return err
	}
	log := p.log.WithFields(logrus.Fields{"record_id": job.RecordID, "object": job.ObjectName})

	if url, ok := p.completed(ctx, job); ok {
		log.WithField("public_object_url", url).Info("job already completed, skipping")
		return nil
	}

	publicURL, err := p.process(ctx, job)
	if err != nil {
		return err
	}

	if p.done != nil {
		if err := p.done.Store(ctx, markerKey(job), p.opts.CompletionTTL, publicURL); err != nil {
			log.WithError(err).Warn("could not store completion marker")
		}
	}

	ev := events.RecordCompleted{
		RecordID:    job.RecordID,
		ObjectName:  job.PublicObjectName(),
		PublicURL:   publicURL,
		CompletedAt: time.Now().UTC(),
	}
	if err := p.events.PublishCompleted(ctx, ev); err != nil {
		log.WithError(err).Warn("record.completed event not published")
	}

	log.WithField("public_object_url", publicURL).Info("record completed")
	return nil
}

func (p *Pipeline) process(ctx context.Context, job queue.CompressJob) (string, error) {
	scratch, err := os.MkdirTemp(p.opts.ScratchDir, "compress-*")
	if err != nil {
		return "", errs.E(errs.KindTransient, "pipeline.scratch", err)
	}
	defer os.RemoveAll(scratch)

	src, err := os.Create(filepath.Join(scratch, job.ObjectName))
	if err != nil {
		return "", errs.E(errs.KindTransient, "pipeline.scratch", err)
	}
	defer src.Close()

	if _, err := p.objects.Download(ctx, p.opts.RawBucket, job.ObjectName, src); err != nil {
		return "", fmt.Errorf("download %s: %w", job.ObjectName, err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", errs.E(errs.KindTransient, "pipeline.scratch", err)
	}

	compressed, err := p.compressor.Compress(src)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", job.ObjectName, err)
	}

	publicName := job.PublicObjectName()
	if err := p.objects.Upload(ctx, p.opts.PublicBucket, publicName, "image/jpeg", compressed); err != nil {
		return "", fmt.Errorf("upload %s: %w", publicName, err)
	}

	publicURL := p.objects.URL(p.opts.PublicBucket, publicName)
	if err := p.records.CompleteRecord(ctx, job.RecordID, publicURL); err != nil {
		return "", fmt.Errorf("complete record %d: %w", job.RecordID, err)
	}
	return publicURL, nil
}

func (p *Pipeline) completed(ctx context.Context, job queue.CompressJob) (string, bool) {
	if p.done == nil {
		return "", false
	}
	url, err := p.done.Get(ctx, markerKey(job))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			p.log.WithError(err).Warn("completion marker lookup failed")
		}
		return "", false
	}
	return url, true
}

func markerKey(job queue.CompressJob) string {
	return fmt.Sprintf("%d:%s", job.RecordID, job.ObjectName)
}
