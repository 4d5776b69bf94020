package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	couponDomain "github.com/Kilat-Pet-Delivery/service-coupon/internal/domain/coupon"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "coupon:snapshot:"

	// tombstone holds an invalidated key so a load that read the store before
	// the write cannot repopulate it with the old snapshot.
	tombstone = "-"

	defaultInvalidationHold = 5 * time.Second
)

// LoadFunc reads a coupon from the store on a cache miss.
type LoadFunc func(ctx context.Context) (*couponDomain.Coupon, error)

// Option customises a CouponCache.
type Option func(*CouponCache)

// WithInvalidationHold sets how long an invalidated code bypasses the cache.
func WithInvalidationHold(d time.Duration) Option {
	return func(c *CouponCache) {
		if d > 0 {
			c.hold = d
		}
	}
}

// CouponCache is a read-through Redis cache of coupon snapshots. Concurrent
// misses for the same code share one store read. Redis errors degrade to a
// direct store read.
type CouponCache struct {
	client *redis.Client
	ttl    time.Duration
	hold   time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCouponCache creates a new CouponCache.
func NewCouponCache(client *redis.Client, ttl time.Duration, logger *zap.Logger, opts ...Option) *CouponCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &CouponCache{client: client, ttl: ttl, hold: defaultInvalidationHold, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrLoad returns the cached coupon for code or loads and caches it. While
// code is held after an invalidation every call reads the store.
func (c *CouponCache) GetOrLoad(ctx context.Context, code string, load LoadFunc) (*couponDomain.Coupon, error) {
	key := keyPrefix + code

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil && string(raw) == tombstone:
		// recently invalidated, read through without caching
	case err == nil:
		var s couponDomain.Snapshot
		if jsonErr := json.Unmarshal(raw, &s); jsonErr == nil {
			return couponDomain.Reconstruct(s), nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("code", code))
		c.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("coupon cache read failed", zap.String("code", code), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// shared by every waiter, so one caller going away must not fail the rest
		loadCtx := context.WithoutCancel(ctx)
		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.store(loadCtx, key, loaded)
		return loaded.Snapshot(), nil
	})
	if err != nil {
		return nil, err
	}
	return couponDomain.Reconstruct(v.(couponDomain.Snapshot)), nil
}

// Invalidate replaces the cached entry for code with a short-lived tombstone.
func (c *CouponCache) Invalidate(ctx context.Context, code string) {
	if err := c.client.Set(ctx, keyPrefix+code, tombstone, c.hold).Err(); err != nil {
		c.logger.Warn("coupon cache invalidation failed", zap.String("code", code), zap.Error(err))
	}
}

// Ping verifies the Redis connection.
func (c *CouponCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (c *CouponCache) store(ctx context.Context, key string, cp *couponDomain.Coupon) {
	raw, err := json.Marshal(cp.Snapshot())
	if err != nil {
		c.logger.Warn("failed to encode coupon snapshot", zap.Error(err))
		return
	}
	// SetNX leaves a tombstone or a newer entry in place
	if err := c.client.SetNX(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("coupon cache write failed", zap.String("key", key), zap.Error(err))
	}
}
