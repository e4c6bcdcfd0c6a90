// Package cache provides an optional read-through cache for decision
// records. Records are immutable once persisted, so cached entries never go
// stale; the TTL only bounds memory on the Redis side.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

const recordTTL = 15 * time.Minute

// RecordCache caches decision records by decision id. A miss is (nil, nil).
type RecordCache interface {
	Get(ctx context.Context, decisionID string) (*contracts.DecisionRecord, error)
	Set(ctx context.Context, record *contracts.DecisionRecord) error
}

// RedisCache backs RecordCache with Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the given address.
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func key(decisionID string) string {
	return "lumyn:record:" + decisionID
}

func (c *RedisCache) Get(ctx context.Context, decisionID string) (*contracts.DecisionRecord, error) {
	raw, err := c.client.Get(ctx, key(decisionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record contracts.DecisionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *RedisCache) Set(ctx context.Context, record *contracts.DecisionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(record.DecisionID), raw, recordTTL).Err()
}

// Nop returns a cache that never hits.
func Nop() RecordCache { return nopCache{} }

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*contracts.DecisionRecord, error) { return nil, nil }
func (nopCache) Set(context.Context, *contracts.DecisionRecord) error           { return nil }
