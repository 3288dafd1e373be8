// Package cache holds the read-path balance snapshot cache. Postgres stays
// the system of record; a cache miss or a Redis outage only costs a query.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/courseloom/monetization/internal/domain"
	"github.com/courseloom/monetization/internal/logging"
)

const balanceKeyPrefix = "wallet:balances:"

type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache accepts a nil client; every method degrades to a no-op so
// the service runs without Redis.
func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func NewRedisClient(ctx context.Context, addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.FromContext(ctx).Warn("redis unavailable, balance cache disabled", "error", err)
		return nil
	}
	return rdb
}

func (c *BalanceCache) Get(ctx context.Context, walletID uuid.UUID) ([]domain.Balance, bool) {
	if c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, balanceKeyPrefix+walletID.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.FromContext(ctx).Warn("balance cache read failed", "wallet_id", walletID, "error", err)
		}
		return nil, false
	}

	var balances []domain.Balance
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, false
	}
	return balances, true
}

func (c *BalanceCache) Set(ctx context.Context, walletID uuid.UUID, balances []domain.Balance) {
	if c.rdb == nil {
		return
	}

	raw, err := json.Marshal(balances)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, balanceKeyPrefix+walletID.String(), raw, c.ttl).Err(); err != nil {
		logging.FromContext(ctx).Warn("balance cache write failed", "wallet_id", walletID, "error", err)
	}
}

// Invalidate drops the snapshots for every wallet touched by a posting.
func (c *BalanceCache) Invalidate(ctx context.Context, walletIDs ...uuid.UUID) {
	if c.rdb == nil || len(walletIDs) == 0 {
		return
	}

	keys := make([]string, len(walletIDs))
	for i, id := range walletIDs {
		keys[i] = balanceKeyPrefix + id.String()
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logging.FromContext(ctx).Warn("balance cache invalidation failed", "error", err)
	}
}
