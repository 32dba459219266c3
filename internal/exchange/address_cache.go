package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hotwallet-settlement/internal/logging"

	"github.com/redis/go-redis/v9"
)

// AddressCache memoizes deposit addresses keyed by (asset, network) in
// Redis. It is a pure memoization layer: every miss or Redis failure
// falls through to the exchange lookup, and rotated addresses are
// handled by explicit invalidation.
type AddressCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logging.Logger
}

// NewAddressCache creates a deposit-address cache with the given TTL
func NewAddressCache(rdb *redis.Client, ttl time.Duration) *AddressCache {
	return &AddressCache{
		rdb: rdb,
		ttl: ttl,
		log: logging.WithComponent("address-cache"),
	}
}

// Get returns the cached address for an asset/network pair
func (c *AddressCache) Get(ctx context.Context, asset, network string) (*DepositAddress, bool) {
	data, err := c.rdb.Get(ctx, c.key(asset, network)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("address cache read failed", "asset", asset, "network", network, "error", err)
		}
		return nil, false
	}

	var addr DepositAddress
	if err := json.Unmarshal([]byte(data), &addr); err != nil {
		c.log.Warn("address cache entry corrupt, dropping", "asset", asset, "network", network)
		_ = c.rdb.Del(ctx, c.key(asset, network)).Err()
		return nil, false
	}

	return &addr, true
}

// Set stores an address; cache write failures are non-fatal
func (c *AddressCache) Set(ctx context.Context, addr *DepositAddress) {
	data, err := json.Marshal(addr)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(addr.Asset, addr.Network), data, c.ttl).Err(); err != nil {
		c.log.Warn("address cache write failed", "asset", addr.Asset, "network", addr.Network, "error", err)
	}
}

// Invalidate drops the cached address for an asset/network pair
func (c *AddressCache) Invalidate(ctx context.Context, asset, network string) {
	if err := c.rdb.Del(ctx, c.key(asset, network)).Err(); err != nil {
		c.log.Warn("address cache invalidate failed", "asset", asset, "network", network, "error", err)
	}
}

func (c *AddressCache) key(asset, network string) string {
	return fmt.Sprintf("settlement:deposit-address:%s:%s", asset, network)
}
