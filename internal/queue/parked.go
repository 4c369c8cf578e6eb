package queue

import (
	"context"
	"strconv"
)

// Parked is the Redis set of record ids whose job was rejected or
// dead-lettered. The sweeper skips them; an operator clears an id with
// Remove once the cause is fixed.
type Parked struct {
	rc  ClientSource
	key string
}

func NewParked(rc ClientSource, stream string) *Parked {
	return &Parked{rc: rc, key: stream + ":parked"}
}

func (p *Parked) Add(ctx context.Context, recordID int64) error {
	return p.rc.Get().SAdd(ctx, p.key, strconv.FormatInt(recordID, 10)).Err()
}

func (p *Parked) Has(ctx context.Context, recordID int64) (bool, error) {
	return p.rc.Get().SIsMember(ctx, p.key, strconv.FormatInt(recordID, 10)).Result()
}

func (p *Parked) Remove(ctx context.Context, recordID int64) error {
	return p.rc.Get().SRem(ctx, p.key, strconv.FormatInt(recordID, 10)).Err()
}
