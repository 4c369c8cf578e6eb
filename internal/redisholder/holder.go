package redisholder

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/trunov/captionhub/internal/metrics"
)

// Holder hands out the current Redis client. The producer, the stream
// consumers and the completion cache call Get per command, so a client
// swapped in by the health loop is used from the next read or ack on.
type Holder struct {
	cur        atomic.Pointer[clientRef]
	reconnects atomic.Int64
}

type clientRef struct{ c redis.UniversalClient }

func NewHolder(initial redis.UniversalClient) *Holder {
	h := &Holder{}
	h.cur.Store(&clientRef{c: initial})
	return h
}

func (h *Holder) Get() redis.UniversalClient {
	if ref := h.cur.Load(); ref != nil {
		return ref.c
	}
	return nil
}

func (h *Holder) swap(newc redis.UniversalClient) (old redis.UniversalClient) {
	prev := h.cur.Swap(&clientRef{c: newc})
	h.reconnects.Add(1)
	metrics.RedisReconnects.Inc()
	if prev == nil {
		return nil
	}
	return prev.c
}

// Reconnects returns how many times the health loop replaced the client.
func (h *Holder) Reconnects() int64 { return h.reconnects.Load() }

func (h *Holder) Ping(ctx context.Context) error {
	return h.Get().Ping(ctx).Err()
}

func (h *Holder) Close() error {
	if c := h.Get(); c != nil {
		return c.Close()
	}
	return nil
}
