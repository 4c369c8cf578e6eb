// Package blob stores raw uploads and compressed outputs. Every backend
// classifies its failures with errs kinds: a missing object is
// errs.KindNotFound, anything else errs.KindTransient.
package blob

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/config"
)

type Store interface {
	Upload(ctx context.Context, bucket, key, contentType string, payload []byte) error
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	URL(bucket, key string) string
}

// Open returns the backend selected by cfg.Driver. The memory driver keeps
// objects in process and is only useful when producer and worker share it.
func Open(ctx context.Context, cfg config.StorageConfig, log *logrus.Entry) (Store, error) {
	switch cfg.Driver {
	case "", "s3":
		s, err := NewS3(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio":
		m, err := NewMinio(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "memory":
		log.Warn("using in-memory object storage")
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ObjectURL builds the unsigned public URL of an object.
func ObjectURL(baseURL, bucket, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
}

// KeyFromURL returns the object key, the last path segment, of a URL built
// by ObjectURL.
func KeyFromURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	key := path.Base(p)
	if key == "." || key == "/" {
		return "", false
	}
	return key, true
}

// retryPolicy is shared by the network backends for uploads.
type retryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// backoff returns the delay before the given retry attempt (1-based), with
// ±5% jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << (attempt - 1)
	jitter := time.Duration(int64(delay) / 10)
	if jitter <= 0 {
		return delay
	}
	return delay - jitter/2 + time.Duration(rand.Int63n(int64(jitter)))
}
