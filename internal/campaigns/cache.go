package campaigns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/leadstitch/pkg/logging"
)

// CachedRegistry is a read-through Redis cache in front of another Registry.
type CachedRegistry struct {
	next   Registry
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedRegistry(next Registry, client *redis.Client, ttl time.Duration, logger *logging.Logger) Registry {
	if client == nil {
		return next
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedRegistry{next: next, redis: client, ttl: ttl, logger: logger}
}

func (r *CachedRegistry) key(id string) string {
	return fmt.Sprintf("campaign:config:%s", id)
}

func (r *CachedRegistry) Get(ctx context.Context, id string) (*Campaign, error) {
	data, err := r.redis.Get(ctx, r.key(id)).Bytes()
	switch {
	case err == nil:
		var c Campaign
		if err := json.Unmarshal(data, &c); err == nil {
			return &c, nil
		}
	case err != redis.Nil:
		r.logger.Warn("campaign cache read failed", "campaign_id", id, "error", err)
	}

	c, err := r.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, c)
	return c, nil
}

func (r *CachedRegistry) Put(ctx context.Context, c *Campaign) error {
	if err := r.next.Put(ctx, c); err != nil {
		return err
	}
	r.store(ctx, c)
	return nil
}

func (r *CachedRegistry) store(ctx context.Context, c *Campaign) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, r.key(c.ID), data, r.ttl).Err(); err != nil {
		r.logger.Warn("campaign cache write failed", "campaign_id", c.ID, "error", err)
	}
}
