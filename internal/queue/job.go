package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/trunov/captionhub/internal/errs"
)

const (
	// ImageExt is the extension every raw object name carries.
	ImageExt = ".jpg"
	// PublicPrefix is prepended to the raw name to form the public object name.
	PublicPrefix = "compressed_"
)

// CompressJob is what we push to Redis Streams.
// No bytes here: workers fetch by ObjectName.
type CompressJob struct {
	RecordID   int64  `json:"todo_id"`
	ObjectName string `json:"filename"`
}

// wireJob distinguishes missing fields from zero values.
type wireJob struct {
	RecordID   *int64  `json:"todo_id"`
	ObjectName *string `json:"filename"`
}

// ParseCompressJob decodes and validates a message payload. Every failure is
// errs.KindInvalidInput: a malformed payload never becomes valid.
func ParseCompressJob(raw []byte) (CompressJob, error) {
	var w wireJob
	if err := json.Unmarshal(raw, &w); err != nil {
		return CompressJob{}, errs.E(errs.KindInvalidInput, "queue.ParseCompressJob", fmt.Errorf("decode payload: %w", err))
	}
	if w.RecordID == nil || w.ObjectName == nil {
		return CompressJob{}, errs.E(errs.KindInvalidInput, "queue.ParseCompressJob", errors.New("payload requires todo_id and filename"))
	}

	job := CompressJob{RecordID: *w.RecordID, ObjectName: *w.ObjectName}
	if err := job.Validate(); err != nil {
		return CompressJob{}, err
	}
	return job, nil
}

func (j CompressJob) Validate() error {
	switch {
	case j.RecordID <= 0:
		return errs.E(errs.KindInvalidInput, "queue.CompressJob", fmt.Errorf("invalid record id %d", j.RecordID))
	case j.ObjectName == "" || strings.ContainsAny(j.ObjectName, `/\`):
		return errs.E(errs.KindInvalidInput, "queue.CompressJob", fmt.Errorf("invalid object name %q", j.ObjectName))
	case !strings.HasSuffix(strings.ToLower(j.ObjectName), ImageExt):
		return errs.E(errs.KindInvalidInput, "queue.CompressJob", fmt.Errorf("object %q is not a %s image", j.ObjectName, ImageExt))
	}
	return nil
}

// PublicObjectName derives the destination key; the same job always maps to
// the same key.
func (j CompressJob) PublicObjectName() string { return PublicPrefix + j.ObjectName }
