package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

// ArtifactCache is the Redis-backed publish cache: the publish gate
// writes each completed daily artifact here and the ops server reads
// through it before hitting Postgres.
type ArtifactCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Conn dials Redis and verifies the connection with a ping.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewArtifactCache wraps an established Redis client.
func NewArtifactCache(rdb *redis.Client, ttl time.Duration) *ArtifactCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &ArtifactCache{rdb: rdb, ttl: ttl}
}

func artifactKey(date string) string {
	return "voidwire:artifact:" + date
}

// Publish stores the artifact payload for a date, replacing any earlier
// run's artifact for the same date.
func (c *ArtifactCache) Publish(ctx context.Context, date string, artifact json.RawMessage) error {
	return c.rdb.Set(ctx, artifactKey(date), []byte(artifact), c.ttl).Err()
}

// Get returns the cached artifact for a date, or false on a miss.
func (c *ArtifactCache) Get(ctx context.Context, date string) (json.RawMessage, bool, error) {
	raw, err := c.rdb.Get(ctx, artifactKey(date)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
