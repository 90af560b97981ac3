package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nof0labs/stratrun/pkg/domain"
)

// SnapshotCache fronts the per-symbol market snapshot fetch with a
// short-lived cache, avoiding a redundant exchange call when multiple
// strategies decide against the same symbol within one interval.
type SnapshotCache interface {
	Get(ctx context.Context, symbol string) (domain.SymbolSnapshot, bool)
	Put(ctx context.Context, symbol string, snapshot domain.SymbolSnapshot, ttl time.Duration)
}

// RedisSnapshotCache is the Redis-backed SnapshotCache implementation,
// grounded on ice444999-Bazil's go-redis usage (mirrored from
// pkg/execution/paper's idempotency cache) and sized here to a decision
// interval's worth of staleness rather than a full trading session.
type RedisSnapshotCache struct {
	Client *redis.Client
	Prefix string
}

func (c *RedisSnapshotCache) key(symbol string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "marketdata:snapshot:"
	}
	return prefix + symbol
}

// Get implements SnapshotCache.
func (c *RedisSnapshotCache) Get(ctx context.Context, symbol string) (domain.SymbolSnapshot, bool) {
	var out domain.SymbolSnapshot
	raw, err := c.Client.Get(ctx, c.key(symbol)).Result()
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, false
	}
	return out, true
}

// Put implements SnapshotCache.
func (c *RedisSnapshotCache) Put(ctx context.Context, symbol string, snapshot domain.SymbolSnapshot, ttl time.Duration) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	c.Client.Set(ctx, c.key(symbol), raw, ttl)
}
