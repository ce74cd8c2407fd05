package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radiusdt/pulse/internal/metrics"
)

// RedisClickGuard implements ClickGuard as a shared cache in front of the
// LinkStore. Markers never expire; they are only written after the store
// has counted the unique click.
type RedisClickGuard struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

// NewRedisClickGuard creates a Redis-backed unique click cache.
func NewRedisClickGuard(client *redis.Client, m *metrics.Metrics) *RedisClickGuard {
	return &RedisClickGuard{client: client, metrics: m}
}

func guardKey(campaignID, url, contactID string) string {
	sum := sha1.Sum([]byte(url))
	return fmt.Sprintf("pulse:uniqclick:%s:%s:%s", campaignID, hex.EncodeToString(sum[:]), contactID)
}

func (g *RedisClickGuard) Seen(ctx context.Context, campaignID, url, contactID string) (bool, error) {
	start := time.Now()
	n, err := g.client.Exists(ctx, guardKey(campaignID, url, contactID)).Result()
	g.metrics.RecordRedisOp("exists", time.Since(start))
	if err != nil {
		return false, fmt.Errorf("failed to check unique click: %w", err)
	}
	return n == 1, nil
}

func (g *RedisClickGuard) Remember(ctx context.Context, campaignID, url, contactID string) error {
	start := time.Now()
	err := g.client.Set(ctx, guardKey(campaignID, url, contactID), time.Now().UTC().Unix(), 0).Err()
	g.metrics.RecordRedisOp("set", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to remember unique click: %w", err)
	}
	return nil
}
