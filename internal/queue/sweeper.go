package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/blob"
	"github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/entities"
	"github.com/trunov/captionhub/internal/metrics"
)

type StaleRecords interface {
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]entities.Record, error)
	TouchRecord(ctx context.Context, id int64) error
}

type JobPublisher interface {
	PublishCompress(ctx context.Context, job CompressJob) (string, error)
}

// ParkedRecords holds records the worker gave up on.
type ParkedRecords interface {
	Add(ctx context.Context, recordID int64) error
	Has(ctx context.Context, recordID int64) (bool, error)
}

type RawObjects interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// Sweeper re-publishes jobs for records that stayed in processing longer
// than StaleAfter, which covers a lost publish after commit and a message
// dropped by the broker. Parked records and records whose raw object is gone
// are left in processing for an operator.
type Sweeper struct {
	records   StaleRecords
	publisher JobPublisher
	parked    ParkedRecords
	objects   RawObjects
	rawBucket string
	cfg       config.ReconcileConfig
	log       *logrus.Entry
	now       func() time.Time
}

func NewSweeper(records StaleRecords, publisher JobPublisher, parked ParkedRecords, objects RawObjects, rawBucket string, cfg config.ReconcileConfig, log *logrus.Entry) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		records:   records,
		publisher: publisher,
		parked:    parked,
		objects:   objects,
		rawBucket: rawBucket,
		cfg:       cfg,
		log:       log.WithField("component", "reconcile"),
		now:       time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled. A zero Interval disables it.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.log.Info("reconciliation disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("sweep failed")
			}
		}
	}
}

// Sweep performs one pass and returns how many jobs were re-published.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.records.ListStaleProcessing(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	republished := 0
	for _, rec := range stale {
		log := s.log.WithField("record_id", rec.ID)
		name, ok := objectNameOf(rec)
		if !ok {
			log.Warn("processing record without a raw object, skipping")
			continue
		}
		if !s.eligible(ctx, log, rec.ID, name) {
			continue
		}

		job := CompressJob{RecordID: rec.ID, ObjectName: name}
		if _, err := s.publisher.PublishCompress(ctx, job); err != nil {
			log.WithError(err).Warn("re-publish failed")
			continue
		}
		// Touching moves the record out of the stale window so the next pass
		// does not publish it again while the job is queued.
		if err := s.records.TouchRecord(ctx, rec.ID); err != nil {
			log.WithError(err).Warn("touch after re-publish failed")
		}
		metrics.Republished.Inc()
		republished++
		log.WithField("filename", name).Info("job re-published")
	}
	return republished, nil
}

func (s *Sweeper) eligible(ctx context.Context, log *logrus.Entry, id int64, name string) bool {
	parked, err := s.parked.Has(ctx, id)
	if err != nil {
		log.WithError(err).Warn("parked lookup failed")
		return false
	}
	if parked {
		log.Debug("record parked, skipping")
		return false
	}

	exists, err := s.objects.Exists(ctx, s.rawBucket, name)
	if err != nil {
		log.WithError(err).Warn("raw object lookup failed")
		return false
	}
	if !exists {
		if err := s.parked.Add(ctx, id); err != nil {
			log.WithError(err).Warn("park record failed")
		}
		log.WithField("filename", name).Warn("raw object missing, record parked")
		return false
	}
	return true
}

func objectNameOf(rec entities.Record) (string, bool) {
	if rec.RawObjectURL == nil {
		return "", false
	}
	return blob.KeyFromURL(*rec.RawObjectURL)
}
