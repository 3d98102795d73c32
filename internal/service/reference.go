package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// RefHistoryCapacity bounds the in-memory midpoint history per reference
// symbol.
const RefHistoryCapacity = 300

// RefPricePrefix namespaces reference prices in the shared price cache so
// pair symbols never collide with CLOB token IDs.
const RefPricePrefix = "ref:"

// ReferenceTracker accumulates external reference quotes (Binance bookTicker
// midpoints) per symbol and mirrors the latest price into the shared cache.
// Symbols are case-insensitive; keys are stored lowercased.
type ReferenceTracker struct {
	prices domain.PriceCache // nil keeps history in memory only
	logger *slog.Logger

	mu      sync.Mutex
	history map[string][]domain.PricePoint
}

// NewReferenceTracker wires the tracker. prices may be nil.
func NewReferenceTracker(prices domain.PriceCache, logger *slog.Logger) *ReferenceTracker {
	return &ReferenceTracker{
		prices:  prices,
		logger:  logger.With(slog.String("component", "reference")),
		history: make(map[string][]domain.PricePoint),
	}
}

// Record appends one midpoint sample for symbol and pushes it to the price
// cache. Samples with no symbol or a non-positive mid are dropped. A cache
// failure is logged, not returned; the in-memory history already holds the
// sample.
func (t *ReferenceTracker) Record(ctx context.Context, symbol string, mid float64, at time.Time) {
	key := strings.ToLower(strings.TrimSpace(symbol))
	if key == "" || mid <= 0 {
		return
	}

	t.mu.Lock()
	points := append(t.history[key], domain.PricePoint{At: at, Price: mid})
	if len(points) > RefHistoryCapacity {
		points = append(points[:0], points[len(points)-RefHistoryCapacity:]...)
	}
	t.history[key] = points
	t.mu.Unlock()

	if t.prices == nil {
		return
	}
	if err := t.prices.SetPrice(ctx, RefPricePrefix+key, mid, at); err != nil {
		t.logger.WarnContext(ctx, "reference price cache update failed",
			slog.String("symbol", key),
			slog.String("error", err.Error()),
		)
	}
}

// Mid returns the most recent midpoint for symbol. The boolean is false when
// no sample has been recorded.
func (t *ReferenceTracker) Mid(symbol string) (float64, bool) {
	key := strings.ToLower(strings.TrimSpace(symbol))

	t.mu.Lock()
	defer t.mu.Unlock()

	points := t.history[key]
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Price, true
}

// History returns a copy of the recorded samples for symbol, oldest first.
func (t *ReferenceTracker) History(symbol string) []domain.PricePoint {
	key := strings.ToLower(strings.TrimSpace(symbol))

	t.mu.Lock()
	defer t.mu.Unlock()

	points := t.history[key]
	if len(points) == 0 {
		return nil
	}
	out := make([]domain.PricePoint, len(points))
	copy(out, points)
	return out
}

// CachedMid reads one mirrored mid with its sample time from the shared
// price cache, for symbols this instance has no live feed for. It returns
// domain.ErrNotFound when no cache is wired or the symbol was never
// mirrored.
func (t *ReferenceTracker) CachedMid(ctx context.Context, symbol string) (float64, time.Time, error) {
	if t.prices == nil {
		return 0, time.Time{}, domain.ErrNotFound
	}

	key := RefPricePrefix + strings.ToLower(strings.TrimSpace(symbol))
	mid, at, err := t.prices.GetPrice(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, time.Time{}, domain.ErrNotFound
		}
		return 0, time.Time{}, fmt.Errorf("service: cached reference mid %s: %w", symbol, err)
	}
	return mid, at, nil
}

// CachedMids batch-reads mirrored mids for the given symbols, keyed by
// lowercased symbol. Symbols never mirrored are absent from the result.
func (t *ReferenceTracker) CachedMids(ctx context.Context, symbols []string) (map[string]float64, error) {
	if t.prices == nil || len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = RefPricePrefix + strings.ToLower(strings.TrimSpace(s))
	}
	cached, err := t.prices.GetPrices(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("service: cached reference mids: %w", err)
	}

	out := make(map[string]float64, len(cached))
	for key, mid := range cached {
		out[strings.TrimPrefix(key, RefPricePrefix)] = mid
	}
	return out, nil
}

// Symbols returns the tracked symbols in sorted order.
func (t *ReferenceTracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.history))
	for key := range t.history {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
