package use_case

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/blob"
	"github.com/trunov/captionhub/internal/cryptoclient"
	"github.com/trunov/captionhub/internal/entities"
	"github.com/trunov/captionhub/internal/metrics"
	"github.com/trunov/captionhub/internal/queue"
)

type Storage interface {
	InsertRecord(ctx context.Context, nr entities.NewRecord) (entities.Record, error)
	GetRecord(ctx context.Context, id int64) (entities.Record, error)
	ListRecords(ctx context.Context) ([]entities.Record, error)
	ToggleDone(ctx context.Context, id int64) (entities.Record, error)
	DeleteRecord(ctx context.Context, id int64) (entities.Record, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, payload []byte) error
	Delete(ctx context.Context, bucket, key string) error
	URL(bucket, key string) string
}

type Crypto interface {
	Protect(ctx context.Context, text string) cryptoclient.Result
	Reveal(ctx context.Context, text string) cryptoclient.Result
}

type JobPublisher interface {
	PublishCompress(ctx context.Context, job queue.CompressJob) (string, error)
}

type Buckets struct {
	Raw    string
	Public string
}

type useCase struct {
	storage Storage
	objects ObjectStore
	crypto  Crypto
	wqueue  JobPublisher
	buckets Buckets
	log     *logrus.Entry
}

func New(storage Storage, objects ObjectStore, crypto Crypto, wqueue JobPublisher, buckets Buckets, log *logrus.Entry) *useCase {
	return &useCase{
		storage: storage,
		objects: objects,
		crypto:  crypto,
		wqueue:  wqueue,
		buckets: buckets,
		log:     log.WithField("component", "producer"),
	}
}

// Submit stores a submission and, when it carries a photo, queues it for
// compression. The job is published only after the record insert returned, so
// a worker never sees a job for a row that is not committed.
func (c *useCase) Submit(ctx context.Context, sub entities.Submission) (entities.Record, error) {
	nr := entities.NewRecord{Caption: sub.Caption, Status: entities.StatusTextOnly}
	if !sub.SkipEncryption {
		res := c.crypto.Protect(ctx, sub.Caption)
		nr.Caption = res.Text
		nr.CaptionEncrypted = res.Transformed
	}

	var objectName string
	if sub.HasImage() {
		objectName = uuid.NewString() + queue.ImageExt
		contentType := sub.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if err := c.objects.Upload(ctx, c.buckets.Raw, objectName, contentType, sub.Image); err != nil {
			return entities.Record{}, fmt.Errorf("store raw object: %w", err)
		}
		rawURL := c.objects.URL(c.buckets.Raw, objectName)
		nr.RawObjectURL = &rawURL
		nr.Status = entities.StatusProcessing
	}

	rec, err := c.storage.InsertRecord(ctx, nr)
	if err != nil {
		return entities.Record{}, fmt.Errorf("insert record: %w", err)
	}

	log := c.log.WithFields(logrus.Fields{"record_id": rec.ID, "status": rec.Status})
	if objectName == "" {
		log.Info("text-only record stored")
		return rec, nil
	}

	job := queue.CompressJob{RecordID: rec.ID, ObjectName: objectName}
	msgID, err := c.wqueue.PublishCompress(ctx, job)
	if err != nil {
		// The record stays processing; the reconciliation sweep re-publishes it.
		metrics.EnqueueFailures.Inc()
		log.WithError(err).Error("compression job not published")
		sentry.CaptureException(err)
		return rec, nil
	}
	log.WithFields(logrus.Fields{"object": objectName, "message_id": msgID}).Info("compression job published")
	return rec, nil
}

func (c *useCase) ListRecords(ctx context.Context) ([]entities.Record, error) {
	recs, err := c.storage.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i] = c.reveal(ctx, recs[i])
	}
	return recs, nil
}

func (c *useCase) GetRecord(ctx context.Context, id int64) (entities.Record, error) {
	rec, err := c.storage.GetRecord(ctx, id)
	if err != nil {
		return entities.Record{}, err
	}
	return c.reveal(ctx, rec), nil
}

func (c *useCase) ToggleDone(ctx context.Context, id int64) (entities.Record, error) {
	rec, err := c.storage.ToggleDone(ctx, id)
	if err != nil {
		return entities.Record{}, err
	}
	return c.reveal(ctx, rec), nil
}

// DeleteRecord removes the row, then its objects. Object cleanup is best
// effort: an object left behind is only storage, the row is the source of
// truth.
func (c *useCase) DeleteRecord(ctx context.Context, id int64) error {
	rec, err := c.storage.DeleteRecord(ctx, id)
	if err != nil {
		return err
	}

	log := c.log.WithField("record_id", id)
	objects := []struct {
		bucket string
		url    *string
	}{
		{c.buckets.Raw, rec.RawObjectURL},
		{c.buckets.Public, rec.PublicObjectURL},
	}
	for _, o := range objects {
		if o.url == nil {
			continue
		}
		key, ok := blob.KeyFromURL(*o.url)
		if !ok {
			continue
		}
		if err := c.objects.Delete(ctx, o.bucket, key); err != nil {
			log.WithError(err).WithField("object", key).Warn("object delete failed")
		}
	}
	log.Info("record deleted")
	return nil
}

// reveal decrypts an encrypted caption for display. If the crypto service is
// down the ciphertext is returned with CaptionEncrypted still set.
func (c *useCase) reveal(ctx context.Context, rec entities.Record) entities.Record {
	if !rec.CaptionEncrypted {
		return rec
	}
	res := c.crypto.Reveal(ctx, rec.Caption)
	if res.Transformed {
		rec.Caption = res.Text
		rec.CaptionEncrypted = false
	}
	return rec
}
