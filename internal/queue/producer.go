package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientSource yields the current Redis client.
type ClientSource interface {
	Get() redis.UniversalClient
}

type Producer struct {
	r      ClientSource
	stream string
	maxLen int64
}

func NewProducer(r ClientSource, stream string, maxLen int64) *Producer {
	return &Producer{r: r, stream: stream, maxLen: maxLen}
}

// PublishCompress encodes the job as JSON and appends it to the stream.
// It returns the stream entry id.
func (p *Producer) PublishCompress(ctx context.Context, job CompressJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	id, err := p.r.Get().XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"payload": string(raw),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish job for record %d: %w", job.RecordID, err)
	}
	return id, nil
}
