package blob

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/trunov/captionhub/internal/errs"
)

type memObject struct {
	contentType string
	data        []byte
}

// Memory keeps objects in process memory. It backs local development
// (storage.driver = "memory") and tests.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memObject
	uploads int
}

func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: baseURL, objects: map[string]memObject{}}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (m *Memory) Upload(ctx context.Context, bucket, key, contentType string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return errs.E(errs.KindTransient, "blob.Upload", err)
	}
	data := make([]byte, len(payload))
	copy(data, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, key)] = memObject{contentType: contentType, data: data}
	m.uploads++
	return nil
}

func (m *Memory) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.E(errs.KindTransient, "blob.Download", err)
	}
	m.mu.RLock()
	obj, ok := m.objects[memKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("failed to download %q: %w", key, errs.E(errs.KindNotFound, "blob.Download", nil))
	}

	n, err := w.WriteAt(obj.data, 0)
	if err != nil {
		return int64(n), errs.E(errs.KindTransient, "blob.Download", err)
	}
	return int64(n), nil
}

func (m *Memory) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, memKey(bucket, key))
	return nil
}

func (m *Memory) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errs.E(errs.KindTransient, "blob.Exists", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[memKey(bucket, key)]
	return ok, nil
}

func (m *Memory) URL(bucket, key string) string { return ObjectURL(m.baseURL, bucket, key) }

// Object returns a copy of the stored bytes and content type.
func (m *Memory) Object(bucket, key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[memKey(bucket, key)]
	if !ok {
		return nil, "", false
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.contentType, true
}

// Count returns how many distinct objects a bucket holds.
func (m *Memory) Count(bucket string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	prefix := bucket + "/"
	for k := range m.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// Uploads returns the number of Upload calls, overwrites included.
func (m *Memory) Uploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads
}
