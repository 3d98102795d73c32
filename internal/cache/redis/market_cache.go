package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// defaultMarketTTL applies when no TTL is configured. Entries must survive a
// couple of missed catalog refreshes, but a dead writer's markets should
// still age out.
const defaultMarketTTL = 15 * time.Minute

// MarketCache implements domain.MarketCache over two string keys per market:
//
//	market:{id}            - JSON document
//	market:token:{tokenID} - ID of the owning market
//
// The catalog rewrites the whole mirror after every refresh, so writes are
// batched; single-market traffic only happens on reads and evictions.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache. ttl bounds how long mirrored entries
// outlive the refresh that wrote them; non-positive selects the default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(id string) string       { return "market:" + id }
func marketTokenKey(tok string) string { return "market:token:" + tok }

// SetAll mirrors a set of markets in one pipeline, refreshing the TTL on
// every document and token index entry.
func (mc *MarketCache) SetAll(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	pipe := mc.rdb.Pipeline()
	for _, m := range markets {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
		}
		pipe.Set(ctx, marketKey(m.ID), data, mc.ttl)
		for _, tokenID := range m.TokenIDs {
			if tokenID != "" {
				pipe.Set(ctx, marketTokenKey(tokenID), m.ID, mc.ttl)
			}
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: mirror %d markets: %w", len(markets), err)
	}
	return nil
}

// Get retrieves a market by ID, domain.ErrNotFound when missing or expired.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.Market{}, domain.ErrNotFound
	case err != nil:
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// GetByToken resolves the owning market of an outcome token.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	marketID, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.Market{}, domain.ErrNotFound
	case err != nil:
		return domain.Market{}, fmt.Errorf("redis: resolve token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, marketID)
}

// Invalidate removes a market and its token index entries. The catalog calls
// this for markets that closed between crawls, so stale entries never sit
// out their TTL.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	keys := []string{marketKey(id)}
	switch m, err := mc.Get(ctx, id); {
	case err == nil:
		for _, tokenID := range m.TokenIDs {
			if tokenID != "" {
				keys = append(keys, marketTokenKey(tokenID))
			}
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	if err := mc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
