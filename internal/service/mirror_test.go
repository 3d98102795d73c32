package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

type fakeBookCache struct {
	mu      sync.Mutex
	snaps   map[string][]domain.OrderbookSnapshot
	updates map[string][]levelWrite
	err     error
}

func newFakeBookCache() *fakeBookCache {
	return &fakeBookCache{
		snaps:   make(map[string][]domain.OrderbookSnapshot),
		updates: make(map[string][]levelWrite),
	}
}

func (c *fakeBookCache) SetSnapshot(_ context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.snaps[assetID] = append(c.snaps[assetID], snap)
	return nil
}

func (c *fakeBookCache) GetSnapshot(_ context.Context, assetID string) (domain.OrderbookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := c.snaps[assetID]
	if len(stored) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return stored[len(stored)-1], nil
}

func (c *fakeBookCache) UpdateLevel(_ context.Context, assetID string, side string, price, size float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.updates[assetID] = append(c.updates[assetID], levelWrite{side: side, price: price, size: size})
	return nil
}

func (c *fakeBookCache) GetBBO(ctx context.Context, assetID string) (float64, float64, error) {
	snap, err := c.GetSnapshot(ctx, assetID)
	if err != nil {
		return 0, 0, err
	}
	return snap.BestBid, snap.BestAsk, nil
}

func (c *fakeBookCache) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeBookCache) writes(assetID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps[assetID])
}

func (c *fakeBookCache) levelWrites(assetID string) []levelWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]levelWrite(nil), c.updates[assetID]...)
}

type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string][]float64
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: make(map[string][]float64)}
}

func (c *fakePriceCache) SetPrice(_ context.Context, assetID string, price float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[assetID] = append(c.prices[assetID], price)
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := c.prices[assetID]
	if len(stored) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return stored[len(stored)-1], time.Time{}, nil
}

func (c *fakePriceCache) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range assetIDs {
		if p, _, err := c.GetPrice(ctx, id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

func (c *fakePriceCache) writes(assetID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prices[assetID])
}

type staticViews struct {
	mu    sync.Mutex
	views []*domain.BookView
}

func (s *staticViews) Views() []*domain.BookView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.BookView(nil), s.views...)
}

func (s *staticViews) set(views ...*domain.BookView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = views
}

func mirrorView(assetID string, version uint64, mid float64) *domain.BookView {
	return &domain.BookView{
		AssetID:     assetID,
		Bids:        []domain.BookLevel{{Price: 0.52, Size: 80}},
		Asks:        []domain.BookLevel{{Price: 0.55, Size: 100}},
		BestBid:     0.52,
		BestAsk:     0.55,
		Spread:      0.03,
		WeightedMid: mid,
		Source:      "websocket",
		UpdatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Version:     version,
	}
}

func TestMirrorSync(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes_views_to_cache_and_bus", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.533), mirrorView("tok-b", 4, 0.41))
		books := newFakeBookCache()
		prices := newFakePriceCache()
		bus := newFakeBus()
		m := NewMirror(views, books, prices, bus, time.Second, testLogger())

		m.syncOnce(ctx)

		snap, err := books.GetSnapshot(ctx, "tok-a")
		require.NoError(t, err)
		assert.InDelta(t, 0.52, snap.BestBid, 1e-12)
		assert.InDelta(t, 0.533, snap.MidPrice, 1e-12)
		assert.Equal(t, 1, prices.writes("tok-a"))
		assert.Equal(t, 1, prices.writes("tok-b"))
		assert.Len(t, bus.publishedOn(BookChannel), 2)
	})

	t.Run("skips_unchanged_versions", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		prices := newFakePriceCache()
		m := NewMirror(views, books, prices, newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)
		m.syncOnce(ctx)
		assert.Equal(t, 1, books.writes("tok-a"))
		assert.Equal(t, 1, prices.writes("tok-a"))
	})

	t.Run("small_diffs_sync_as_level_deltas", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		m := NewMirror(views, books, newFakePriceCache(), newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)
		require.Equal(t, 1, books.writes("tok-a"))

		next := mirrorView("tok-a", 2, 0.5)
		next.Bids[0].Size = 95
		next.Asks = nil
		views.set(next)
		m.syncOnce(ctx)

		assert.Equal(t, 1, books.writes("tok-a"), "no full rewrite for a two-level change")
		assert.ElementsMatch(t, []levelWrite{
			{side: "bids", price: 0.52, size: 95},
			{side: "asks", price: 0.55, size: 0},
		}, books.levelWrites("tok-a"))
	})

	t.Run("big_diffs_rewrite_the_book", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		m := NewMirror(views, books, newFakePriceCache(), newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)

		next := mirrorView("tok-a", 2, 0.5)
		next.Bids = nil
		for i := 0; i <= maxDeltaLevels+1; i++ {
			next.Bids = append(next.Bids, domain.BookLevel{Price: 0.50 - float64(i)*0.01, Size: 10})
		}
		views.set(next)
		m.syncOnce(ctx)

		assert.Equal(t, 2, books.writes("tok-a"))
		assert.Empty(t, books.levelWrites("tok-a"))
	})

	t.Run("delta_failure_forces_a_rewrite", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		m := NewMirror(views, books, newFakePriceCache(), newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)
		require.Equal(t, 1, books.writes("tok-a"))

		next := mirrorView("tok-a", 2, 0.5)
		next.Bids[0].Size = 95
		views.set(next)
		books.setErr(errors.New("redis down"))
		m.syncOnce(ctx)
		assert.Empty(t, books.levelWrites("tok-a"))

		books.setErr(nil)
		m.syncOnce(ctx)
		assert.Equal(t, 2, books.writes("tok-a"), "the half-updated book is rewritten in full")
	})

	t.Run("stale_mirror_gets_rewritten_periodically", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		m := NewMirror(views, books, newFakePriceCache(), newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)
		m.lastFull["tok-a"] = time.Now().Add(-2 * fullSyncInterval)

		next := mirrorView("tok-a", 2, 0.5)
		next.Bids[0].Size = 95
		views.set(next)
		m.syncOnce(ctx)

		assert.Equal(t, 2, books.writes("tok-a"))
		assert.Empty(t, books.levelWrites("tok-a"))
	})

	t.Run("failed_push_retries_next_pass", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		books.setErr(errors.New("redis down"))
		m := NewMirror(views, books, newFakePriceCache(), newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)
		assert.Equal(t, 0, books.writes("tok-a"))

		books.setErr(nil)
		m.syncOnce(ctx)
		assert.Equal(t, 1, books.writes("tok-a"))
	})

	t.Run("zero_midpoint_skips_the_price_cache", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0))
		books := newFakeBookCache()
		prices := newFakePriceCache()
		m := NewMirror(views, books, prices, newFakeBus(), time.Second, testLogger())

		m.syncOnce(ctx)

		assert.Equal(t, 1, books.writes("tok-a"))
		assert.Equal(t, 0, prices.writes("tok-a"))
	})

	t.Run("bus_failure_is_best_effort", func(t *testing.T) {
		views := &staticViews{}
		views.set(mirrorView("tok-a", 1, 0.5))
		books := newFakeBookCache()
		bus := newFakeBus()
		bus.err = errors.New("redis down")
		m := NewMirror(views, books, newFakePriceCache(), bus, time.Second, testLogger())

		m.syncOnce(ctx)
		assert.Equal(t, 1, books.writes("tok-a"), "cache write still lands")

		bus.err = nil
		m.syncOnce(ctx)
		assert.Equal(t, 1, books.writes("tok-a"), "version was recorded despite the bus error")
	})
}

func TestDiffSnapshots(t *testing.T) {
	prev := domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{{Price: 0.52, Size: 80}, {Price: 0.51, Size: 40}},
		Asks: []domain.PriceLevel{{Price: 0.55, Size: 100}},
	}
	next := domain.OrderbookSnapshot{
		Bids: []domain.PriceLevel{{Price: 0.52, Size: 80}, {Price: 0.50, Size: 25}},
		Asks: []domain.PriceLevel{{Price: 0.55, Size: 90}},
	}

	writes, ok := diffSnapshots(prev, next)
	require.True(t, ok)
	assert.ElementsMatch(t, []levelWrite{
		{side: "bids", price: 0.50, size: 25},
		{side: "bids", price: 0.51, size: 0},
		{side: "asks", price: 0.55, size: 90},
	}, writes)

	writes, ok = diffSnapshots(prev, prev)
	require.True(t, ok)
	assert.Empty(t, writes, "an identical book diffs to nothing")
}

func TestMirrorRun(t *testing.T) {
	views := &staticViews{}
	views.set(mirrorView("tok-a", 1, 0.5))
	books := newFakeBookCache()
	m := NewMirror(views, books, newFakePriceCache(), newFakeBus(), time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return books.writes("tok-a") == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop")
	}
}
