package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"swing-trading-bot/internal/monitor"
)

const (
	// positionSnapshotKey holds the latest full position metadata snapshot.
	positionSnapshotKey = "swingbot:positions:snapshot"

	// positionSnapshotTTL keeps stale snapshots from surviving long outages.
	positionSnapshotTTL = 7 * 24 * time.Hour
)

// PositionCache mirrors the monitor's metadata into Redis so a restart can
// recover position state even when PostgreSQL is briefly down. When Redis is
// unavailable it falls back to an in-memory copy so the cycle never blocks
// on the cache.
type PositionCache struct {
	client *redis.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	fallback map[string]*monitor.Metadata
}

// NewPositionCache creates a cache over an existing Redis client. A nil
// client degrades to the in-memory fallback only.
func NewPositionCache(client *redis.Client, logger zerolog.Logger) *PositionCache {
	return &PositionCache{
		client:   client,
		logger:   logger.With().Str("component", "PositionCache").Logger(),
		fallback: make(map[string]*monitor.Metadata),
	}
}

// Save stores the full snapshot. Redis failures are logged, not returned:
// the durable store is PostgreSQL, this cache is best-effort.
func (c *PositionCache) Save(ctx context.Context, positions map[string]*monitor.Metadata) {
	c.mu.Lock()
	c.fallback = positions
	c.mu.Unlock()

	if c.client == nil {
		return
	}
	data, err := json.Marshal(positions)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal position snapshot")
		return
	}
	if err := c.client.Set(ctx, positionSnapshotKey, data, positionSnapshotTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis snapshot write failed, in-memory fallback holds state")
	}
}

// Load returns the snapshot from Redis, or the in-memory fallback when Redis
// is unreachable or empty.
func (c *PositionCache) Load(ctx context.Context) (map[string]*monitor.Metadata, error) {
	if c.client != nil {
		data, err := c.client.Get(ctx, positionSnapshotKey).Bytes()
		switch {
		case err == nil:
			var out map[string]*monitor.Metadata
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, fmt.Errorf("failed to parse position snapshot: %w", err)
			}
			return out, nil
		case err == redis.Nil:
			// No snapshot yet.
		default:
			c.logger.Warn().Err(err).Msg("redis snapshot read failed, using in-memory fallback")
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*monitor.Metadata, len(c.fallback))
	for sym, md := range c.fallback {
		copied := *md
		out[sym] = &copied
	}
	return out, nil
}
