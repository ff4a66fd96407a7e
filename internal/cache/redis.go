package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStrategy is a multi-process-safe cache backend for deployments
// running more than one engine process against the same result cache,
// named in SPEC_FULL.md's domain-stack wiring for go-redis/v9.
type RedisStrategy struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis builds a RedisStrategy against an already-constructed client.
func NewRedis(client *redis.Client, ttl time.Duration, keyPrefix string) *RedisStrategy {
	if keyPrefix == "" {
		keyPrefix = "qa-orchestrator:cache:"
	}
	return &RedisStrategy{client: client, ttl: ttl, prefix: keyPrefix}
}

func (r *RedisStrategy) Get(key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (r *RedisStrategy) Set(key string, e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	r.client.Set(ctx, r.prefix+key, raw, r.ttl)
}

// Len reports the approximate number of cache keys under this strategy's
// prefix. This issues a blocking SCAN and should only be used for
// diagnostics, not on the hot path.
func (r *RedisStrategy) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}
