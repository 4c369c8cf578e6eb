package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	conf "github.com/trunov/captionhub/internal/config"
	"github.com/trunov/captionhub/internal/errs"
)

// Minio is the backend for self-hosted MinIO deployments.
type Minio struct {
	client  *minio.Client
	baseURL string
	retry   retryPolicy
	log     *logrus.Entry
}

func NewMinio(ctx context.Context, cfg conf.StorageConfig, log *logrus.Entry) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	m := &Minio{
		client:  client,
		baseURL: cfg.PublicBaseURL,
		retry:   retryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay},
		log:     log.WithField("component", "blob-minio"),
	}
	for _, bucket := range []string{cfg.RawBucket, cfg.PublicBucket} {
		if err := m.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Minio) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	m.log.WithField("bucket", bucket).Info("bucket created")
	return nil
}

func (m *Minio) Upload(ctx context.Context, bucket, key, contentType string, payload []byte) error {
	attempt := 0
	for {
		attempt++
		_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err == nil {
			return nil
		}

		err = classifyMinio("blob.Upload", err)
		if errs.IsPermanent(err) || attempt > m.retry.MaxRetries {
			return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
		}

		timer := time.NewTimer(m.retry.backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("upload %s/%s: %w", bucket, key, errs.E(errs.KindTransient, "blob.Upload", ctx.Err()))
		}
	}
}

func (m *Minio) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to download %q: %w", key, classifyMinio("blob.Download", err))
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces a missing key before any bytes are copied.
	if _, err := obj.Stat(); err != nil {
		return 0, fmt.Errorf("failed to download %q: %w", key, classifyMinio("blob.Download", err))
	}

	n, err := io.Copy(io.NewOffsetWriter(w, 0), obj)
	if err != nil {
		return n, fmt.Errorf("failed to read body for %q: %w", key, classifyMinio("blob.Download", err))
	}
	return n, nil
}

func (m *Minio) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, classifyMinio("blob.Delete", err))
	}
	return nil
}

func (m *Minio) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	err = classifyMinio("blob.Exists", err)
	if errs.KindOf(err) == errs.KindNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
}

func (m *Minio) URL(bucket, key string) string { return ObjectURL(m.baseURL, bucket, key) }

func classifyMinio(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return errs.E(errs.KindNotFound, op, err)
	case resp.Code == "XMinioInvalidObjectName" || resp.Code == "InvalidArgument":
		return errs.E(errs.KindInvalidInput, op, err)
	}
	return errs.E(errs.KindTransient, op, err)
}
