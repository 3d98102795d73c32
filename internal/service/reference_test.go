package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

type failingPriceCache struct {
	*fakePriceCache
	err error
}

func (c *failingPriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	if c.err != nil {
		return c.err
	}
	return c.fakePriceCache.SetPrice(ctx, assetID, price, ts)
}

func TestReferenceTrackerRecord(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("tracks_latest_mid_per_symbol", func(t *testing.T) {
		prices := newFakePriceCache()
		tr := NewReferenceTracker(prices, testLogger())

		tr.Record(ctx, "BTCUSDT", 64_000.5, at)
		tr.Record(ctx, "ETHUSDT", 3_200.25, at)
		tr.Record(ctx, "BTCUSDT", 64_010, at.Add(time.Second))

		mid, ok := tr.Mid("btcusdt")
		require.True(t, ok)
		assert.InDelta(t, 64_010, mid, 1e-9)

		// Symbol lookup is case-insensitive.
		mid, ok = tr.Mid("BTCUSDT")
		require.True(t, ok)
		assert.InDelta(t, 64_010, mid, 1e-9)

		assert.Equal(t, []string{"btcusdt", "ethusdt"}, tr.Symbols())
	})

	t.Run("mirrors_into_the_price_cache_under_the_ref_prefix", func(t *testing.T) {
		prices := newFakePriceCache()
		tr := NewReferenceTracker(prices, testLogger())

		tr.Record(ctx, "BTCUSDT", 64_000.5, at)

		got, _, err := prices.GetPrice(ctx, RefPricePrefix+"btcusdt")
		require.NoError(t, err)
		assert.InDelta(t, 64_000.5, got, 1e-9)
	})

	t.Run("drops_empty_symbols_and_non_positive_mids", func(t *testing.T) {
		prices := newFakePriceCache()
		tr := NewReferenceTracker(prices, testLogger())

		tr.Record(ctx, "", 100, at)
		tr.Record(ctx, "  ", 100, at)
		tr.Record(ctx, "btcusdt", 0, at)
		tr.Record(ctx, "btcusdt", -1, at)

		assert.Empty(t, tr.Symbols())
		_, ok := tr.Mid("btcusdt")
		assert.False(t, ok)
	})

	t.Run("history_is_bounded", func(t *testing.T) {
		tr := NewReferenceTracker(nil, testLogger())

		for i := 0; i < RefHistoryCapacity+50; i++ {
			tr.Record(ctx, "btcusdt", float64(1+i), at.Add(time.Duration(i)*time.Second))
		}

		history := tr.History("btcusdt")
		require.Len(t, history, RefHistoryCapacity)
		// Oldest samples fell off the front.
		assert.InDelta(t, 51, history[0].Price, 1e-9)
		assert.InDelta(t, float64(RefHistoryCapacity+50), history[len(history)-1].Price, 1e-9)
	})

	t.Run("history_returns_a_copy", func(t *testing.T) {
		tr := NewReferenceTracker(nil, testLogger())
		tr.Record(ctx, "btcusdt", 100, at)

		history := tr.History("btcusdt")
		history[0].Price = -1

		again := tr.History("btcusdt")
		assert.InDelta(t, 100, again[0].Price, 1e-9)
	})

	t.Run("cache_failure_keeps_the_in_memory_sample", func(t *testing.T) {
		prices := &failingPriceCache{fakePriceCache: newFakePriceCache(), err: errors.New("redis down")}
		tr := NewReferenceTracker(prices, testLogger())

		tr.Record(ctx, "btcusdt", 64_000, at)

		mid, ok := tr.Mid("btcusdt")
		require.True(t, ok)
		assert.InDelta(t, 64_000, mid, 1e-9)
	})

	t.Run("nil_price_cache_keeps_history_in_memory_only", func(t *testing.T) {
		tr := NewReferenceTracker(nil, testLogger())
		tr.Record(ctx, "btcusdt", 64_000, at)

		mid, ok := tr.Mid("btcusdt")
		require.True(t, ok)
		assert.InDelta(t, 64_000, mid, 1e-9)
	})
}

func TestReferenceTrackerCachedReads(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("reads_mirrored_mids_for_symbols_without_live_samples", func(t *testing.T) {
		prices := newFakePriceCache()
		writer := NewReferenceTracker(prices, testLogger())
		writer.Record(ctx, "btcusdt", 64_000, at)

		// A second tracker sharing the cache, as a poll-mode instance would.
		reader := NewReferenceTracker(prices, testLogger())

		mid, _, err := reader.CachedMid(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.InDelta(t, 64_000, mid, 1e-9)

		mids, err := reader.CachedMids(ctx, []string{"btcusdt", "ethusdt"})
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"btcusdt": 64_000}, mids)
	})

	t.Run("unknown_symbol_is_not_found", func(t *testing.T) {
		tr := NewReferenceTracker(newFakePriceCache(), testLogger())
		_, _, err := tr.CachedMid(ctx, "dogeusdt")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("nil_cache_is_not_found", func(t *testing.T) {
		tr := NewReferenceTracker(nil, testLogger())
		_, _, err := tr.CachedMid(ctx, "btcusdt")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		mids, err := tr.CachedMids(ctx, []string{"btcusdt"})
		require.NoError(t, err)
		assert.Empty(t, mids)
	})
}

func TestReferenceTrackerConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	tr := NewReferenceTracker(newFakePriceCache(), testLogger())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			symbol := fmt.Sprintf("sym%d", g)
			for i := 0; i < 100; i++ {
				tr.Record(ctx, symbol, float64(1+i), at.Add(time.Duration(i)*time.Millisecond))
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	assert.Len(t, tr.Symbols(), 4)
	for _, symbol := range tr.Symbols() {
		mid, ok := tr.Mid(symbol)
		require.True(t, ok)
		assert.InDelta(t, 100, mid, 1e-9)
	}
}
