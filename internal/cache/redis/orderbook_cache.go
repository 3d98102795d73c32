package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

//go:embed scripts/orderbook_update.lua
var orderbookUpdateLua string

// OrderbookCache implements domain.OrderbookCache on Redis sorted sets and
// hashes, mirroring each tracked book for out-of-process readers.
//
// Key schema:
//
//	book:{assetID}:bids     - sorted set of bid prices (score = price)
//	book:{assetID}:asks     - sorted set of ask prices (score = price)
//	book:{assetID}:bid:size - hash mapping price -> size for bids
//	book:{assetID}:ask:size - hash mapping price -> size for asks
//	book:{assetID}:bbo      - hash with fields "bid" and "ask"
//	book:{assetID}:meta     - hash with "ts" and "mid" fields
type OrderbookCache struct {
	rdb         *redis.Client
	levelUpdate *redis.Script
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{
		rdb:         c.Underlying(),
		levelUpdate: redis.NewScript(orderbookUpdateLua),
	}
}

func bookKey(assetID, suffix string) string { return "book:" + assetID + ":" + suffix }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// SetSnapshot atomically replaces the mirrored book for an asset: both
// sorted sets, both size hashes, the BBO hash, and the metadata hash are
// cleared and repopulated in one transaction.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	bidsKey, asksKey := bookKey(assetID, "bids"), bookKey(assetID, "asks")
	bidSizeKey, askSizeKey := bookKey(assetID, "bid:size"), bookKey(assetID, "ask:size")
	bboKey, metaKey := bookKey(assetID, "bbo"), bookKey(assetID, "meta")

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, bboKey, metaKey)

	for _, lvl := range snap.Bids {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, bidSizeKey, price, formatFloat(lvl.Size))
	}
	for _, lvl := range snap.Asks {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, askSizeKey, price, formatFloat(lvl.Size))
	}

	if snap.BestBid > 0 {
		pipe.HSet(ctx, bboKey, "bid", formatFloat(snap.BestBid))
	}
	if snap.BestAsk > 0 {
		pipe.HSet(ctx, bboKey, "ask", formatFloat(snap.BestAsk))
	}

	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))
	if snap.MidPrice > 0 {
		pipe.HSet(ctx, metaKey, "mid", formatFloat(snap.MidPrice))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", assetID, err)
	}
	return nil
}

// GetSnapshot reconstructs the mirrored book from Redis, bids descending and
// asks ascending. It returns domain.ErrNotFound when nothing is cached for
// the asset.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookKey(assetID, "bids"), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookKey(assetID, "asks"), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookKey(assetID, "bid:size"))
	askSizeCmd := pipe.HGetAll(ctx, bookKey(assetID, "ask:size"))
	bboCmd := pipe.HGetAll(ctx, bookKey(assetID, "bbo"))
	metaCmd := pipe.HGetAll(ctx, bookKey(assetID, "meta"))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", assetID, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderbookSnapshot{AssetID: assetID}
	if ts, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, ts)
	}

	bidSizes, _ := bidSizeCmd.Result()
	for _, z := range bidsCmd.Val() {
		snap.Bids = append(snap.Bids, levelFromZ(z, bidSizes))
	}
	askSizes, _ := askSizeCmd.Result()
	for _, z := range asksCmd.Val() {
		snap.Asks = append(snap.Asks, levelFromZ(z, askSizes))
	}

	bbo, _ := bboCmd.Result()
	snap.BestBid, _ = strconv.ParseFloat(bbo["bid"], 64)
	snap.BestAsk, _ = strconv.ParseFloat(bbo["ask"], 64)

	// The stored mid carries the monitor's size-weighted midpoint; fall back
	// to the arithmetic mid for books written without one.
	if mid, err := strconv.ParseFloat(meta["mid"], 64); err == nil && mid > 0 {
		snap.MidPrice = mid
	} else if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	return snap, nil
}

func levelFromZ(z redis.Z, sizes map[string]string) domain.PriceLevel {
	lvl := domain.PriceLevel{Price: z.Score}
	if price, ok := z.Member.(string); ok {
		lvl.Size, _ = strconv.ParseFloat(sizes[price], 64)
	}
	return lvl
}

// UpdateLevel applies one incremental level change through an atomic Lua
// script: size > 0 upserts the level, size == 0 removes it, and the side's
// best price and the book's freshness stamp are refreshed either way. The
// mirror uses this for small diffs instead of rewriting the whole book. The
// side string accepts every alias the CLOB wire uses ("BUY", "SELL", "bids",
// "asks", ...).
func (oc *OrderbookCache) UpdateLevel(ctx context.Context, assetID string, side string, price, size float64) error {
	parsed, ok := domain.ParseBookSide(side)
	if !ok {
		return fmt.Errorf("redis: update level %s: unknown side %q", assetID, side)
	}

	var zKey, hKey, sideArg string
	if parsed == domain.SideBid {
		zKey, hKey, sideArg = bookKey(assetID, "bids"), bookKey(assetID, "bid:size"), "bids"
	} else {
		zKey, hKey, sideArg = bookKey(assetID, "asks"), bookKey(assetID, "ask:size"), "asks"
	}

	keys := []string{zKey, hKey, bookKey(assetID, "bbo"), bookKey(assetID, "meta")}
	args := []interface{}{formatFloat(price), formatFloat(size), sideArg}
	if err := oc.levelUpdate.Run(ctx, oc.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: update level %s %s@%s: %w", assetID, sideArg, formatFloat(price), err)
	}
	return nil
}

// GetBBO reads the best bid and ask from the BBO hash. It returns
// domain.ErrNotFound when no BBO has been written for the asset.
func (oc *OrderbookCache) GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk float64, err error) {
	vals, err := oc.rdb.HGetAll(ctx, bookKey(assetID, "bbo")).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	bestBid, _ = strconv.ParseFloat(vals["bid"], 64)
	bestAsk, _ = strconv.ParseFloat(vals["ask"], 64)
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
