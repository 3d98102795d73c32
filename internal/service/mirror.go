package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// BookChannel is the pub/sub channel live book summaries go out on.
const BookChannel = "books"

// DefaultMirrorInterval is how often the mirror syncs views to Redis.
const DefaultMirrorInterval = time.Second

// maxDeltaLevels caps how many changed levels are pushed one by one before a
// full rewrite of the book is cheaper than the per-level round trips.
const maxDeltaLevels = 8

// fullSyncInterval bounds how long a book is maintained by deltas alone. The
// periodic rewrite also repairs a mirror lost to a Redis restart.
const fullSyncInterval = time.Minute

// ViewSource supplies the latest published book views. *monitor.Monitor
// implements it.
type ViewSource interface {
	Views() []*domain.BookView
}

// Mirror copies the monitor's published views into the Redis caches and
// announces updates on the bus, so dashboards and other processes can read
// book state without touching the monitor loop. It runs off-loop on its own
// cadence and skips assets whose version has not moved. Books that moved in
// only a few places sync as level deltas; the rest rewrite in full.
type Mirror struct {
	views    ViewSource
	books    domain.OrderbookCache
	prices   domain.PriceCache
	bus      domain.SignalBus
	interval time.Duration
	seen     map[string]uint64
	last     map[string]domain.OrderbookSnapshot
	lastFull map[string]time.Time
	logger   *slog.Logger
}

// NewMirror wires the mirror. A non-positive interval falls back to
// DefaultMirrorInterval.
func NewMirror(
	views ViewSource,
	books domain.OrderbookCache,
	prices domain.PriceCache,
	bus domain.SignalBus,
	interval time.Duration,
	logger *slog.Logger,
) *Mirror {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	return &Mirror{
		views:    views,
		books:    books,
		prices:   prices,
		bus:      bus,
		interval: interval,
		seen:     make(map[string]uint64),
		last:     make(map[string]domain.OrderbookSnapshot),
		lastFull: make(map[string]time.Time),
		logger:   logger.With(slog.String("component", "book_mirror")),
	}
}

// Run syncs on the configured cadence until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.syncOnce(ctx)
		}
	}
}

// syncOnce pushes every view whose version advanced since the last pass. A
// failed push is retried on the next pass because the version is only
// recorded after success.
func (m *Mirror) syncOnce(ctx context.Context) {
	for _, view := range m.views.Views() {
		if m.seen[view.AssetID] == view.Version {
			continue
		}
		if err := m.push(ctx, view); err != nil {
			m.logger.WarnContext(ctx, "book mirror push failed",
				slog.String("asset", view.AssetID),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.seen[view.AssetID] = view.Version
	}
}

func (m *Mirror) push(ctx context.Context, view *domain.BookView) error {
	if err := m.syncBook(ctx, view.AssetID, view.Snapshot()); err != nil {
		return err
	}

	if view.WeightedMid > 0 {
		if err := m.prices.SetPrice(ctx, view.AssetID, view.WeightedMid, view.UpdatedAt); err != nil {
			return fmt.Errorf("set price: %w", err)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"event":     "book_update",
		"asset_id":  view.AssetID,
		"label":     view.Label,
		"best_bid":  view.BestBid,
		"best_ask":  view.BestAsk,
		"mid_price": view.WeightedMid,
		"spread":    view.Spread,
		"source":    view.Source,
		"version":   view.Version,
		"timestamp": view.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err := m.bus.Publish(ctx, BookChannel, payload); err != nil {
		// Pub/sub is best effort; the caches already hold the state.
		m.logger.WarnContext(ctx, "book update publish failed",
			slog.String("asset", view.AssetID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// syncBook pushes the snapshot into the book cache, incrementally when the
// change since the last push is small. The first push of an asset and every
// push after fullSyncInterval rewrite the whole book.
func (m *Mirror) syncBook(ctx context.Context, assetID string, snap domain.OrderbookSnapshot) error {
	prev, warm := m.last[assetID]
	if warm && time.Since(m.lastFull[assetID]) < fullSyncInterval {
		if writes, ok := diffSnapshots(prev, snap); ok {
			for _, wr := range writes {
				if err := m.books.UpdateLevel(ctx, assetID, wr.side, wr.price, wr.size); err != nil {
					// The book may be half updated; force a rewrite next pass.
					delete(m.lastFull, assetID)
					return fmt.Errorf("update level: %w", err)
				}
			}
			m.last[assetID] = snap
			return nil
		}
	}

	if err := m.books.SetSnapshot(ctx, assetID, snap); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	m.last[assetID] = snap
	m.lastFull[assetID] = time.Now()
	return nil
}

// levelWrite is one pending level change, in the cache's side vocabulary.
type levelWrite struct {
	side  string
	price float64
	size  float64
}

// diffSnapshots lists the level writes that turn prev into next. ok is false
// when the books differ in more than maxDeltaLevels places and a full rewrite
// should happen instead.
func diffSnapshots(prev, next domain.OrderbookSnapshot) ([]levelWrite, bool) {
	writes := make([]levelWrite, 0, maxDeltaLevels)
	for _, side := range []struct {
		name       string
		prev, next []domain.PriceLevel
	}{
		{"bids", prev.Bids, next.Bids},
		{"asks", prev.Asks, next.Asks},
	} {
		before := make(map[float64]float64, len(side.prev))
		for _, lvl := range side.prev {
			before[lvl.Price] = lvl.Size
		}
		for _, lvl := range side.next {
			if before[lvl.Price] != lvl.Size {
				writes = append(writes, levelWrite{side.name, lvl.Price, lvl.Size})
			}
			delete(before, lvl.Price)
		}
		// Levels gone from the new book are removed with a zero size.
		for price := range before {
			writes = append(writes, levelWrite{side.name, price, 0})
		}
		if len(writes) > maxDeltaLevels {
			return nil, false
		}
	}
	return writes, true
}
