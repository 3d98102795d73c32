// Package book maintains per-asset orderbook state: bounded-depth bids and
// asks mutated only through snapshot/delta application, derived analytics
// (spread, weighted midpoint, depth curve), and a bounded midpoint history.
// A Book is owned by the single consumer loop; readers get immutable views.
package book

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// DefaultDepth is how many price levels each side retains.
	DefaultDepth = 30

	// DefaultTickSize is used until the instrument reports its own.
	DefaultTickSize = 0.0001

	// DefaultHighlightWindow is how long a level's change direction stays
	// visible before it is cleared.
	DefaultHighlightWindow = 1000 * time.Millisecond
)

// Data-source labels for degraded-mode observability.
const (
	SourceLive = "websocket"
	SourceREST = "rest"
)

// Config configures a Book.
type Config struct {
	AssetID string
	Label   string

	// Depth bounds each side; non-positive falls back to DefaultDepth.
	Depth int

	// TickSize is the initial minimum price increment; non-positive falls
	// back to DefaultTickSize.
	TickSize float64

	// HighlightWindow is how long change highlights last; non-positive
	// falls back to DefaultHighlightWindow.
	HighlightWindow time.Duration

	// HistoryCapacity bounds the midpoint history.
	HistoryCapacity int

	Logger *slog.Logger

	// Now is the clock; nil means time.Now. Injectable for tests.
	Now func() time.Time
}

// Book is the consistent orderbook state machine for one asset. All mutation
// goes through the Apply* methods; every mutation leaves both sides sorted
// (bids descending, asks ascending) and truncated to the configured depth,
// with derived stats recomputed and the midpoint history appended.
type Book struct {
	assetID   string
	label     string
	depth     int
	tick      float64
	highlight time.Duration

	bids []domain.BookLevel // sorted descending by price
	asks []domain.BookLevel // sorted ascending by price

	bestBid     float64
	bestAsk     float64
	spread      float64
	weightedMid float64
	lastTrade   float64
	lastSize    float64

	source    string
	updatedAt time.Time
	version   uint64

	history *History
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an empty Book.
func New(cfg Config) *Book {
	b := &Book{
		assetID:   cfg.AssetID,
		label:     cfg.Label,
		depth:     cfg.Depth,
		tick:      cfg.TickSize,
		highlight: cfg.HighlightWindow,
		history:   NewHistory(cfg.HistoryCapacity),
		now:       cfg.Now,
		logger: cfg.Logger.With(
			slog.String("component", "book"),
			slog.String("asset", cfg.AssetID),
		),
	}
	if b.depth <= 0 {
		b.depth = DefaultDepth
	}
	if b.tick <= 0 {
		b.tick = DefaultTickSize
	}
	if b.highlight <= 0 {
		b.highlight = DefaultHighlightWindow
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.history.now = b.now
	return b
}

// AssetID returns the instrument this book tracks.
func (b *Book) AssetID() string { return b.assetID }

// Version returns a counter that increments on every state change.
func (b *Book) Version() uint64 { return b.version }

// History returns the book's midpoint history buffer.
func (b *Book) History() *History { return b.history }

// SetLabel attaches a display label once the catalog resolves the asset.
func (b *Book) SetLabel(label string) { b.label = label }

// SetSource records which transport produced the current state.
func (b *Book) SetSource(source string) { b.source = source }

// SetTickSize replaces the tick size from a trusted (REST) source.
func (b *Book) SetTickSize(tick float64) {
	if tick > 0 {
		b.tick = tick
	}
}

// Apply routes one feed event to the matching mutation. Unknown events are
// ignored; workers drop them before they reach the consumer loop anyway.
func (b *Book) Apply(ev domain.FeedEvent) {
	switch e := ev.(type) {
	case domain.BookEvent:
		b.ApplySnapshot(e)
	case domain.PriceChangeEvent:
		b.ApplyDelta(e)
	case domain.TickSizeChangeEvent:
		b.ApplyTickSize(e)
	case domain.TradeEvent:
		b.ApplyTrade(e)
	}
}

// ApplySnapshot replaces both sides from a full snapshot. Level pairs that
// fail to parse are skipped, never fatal.
func (b *Book) ApplySnapshot(ev domain.BookEvent) {
	b.bids = b.bids[:0]
	for _, raw := range ev.Bids {
		if price, size, ok := b.parseLevel(raw.Price, raw.Size); ok {
			b.bids = append(b.bids, domain.BookLevel{Price: price, Size: size})
		}
	}

	b.asks = b.asks[:0]
	for _, raw := range ev.Asks {
		if price, size, ok := b.parseLevel(raw.Price, raw.Size); ok {
			b.asks = append(b.asks, domain.BookLevel{Price: price, Size: size})
		}
	}

	b.finishMutation()
}

// ApplyDelta applies a batch of level changes. Each change resolves its side
// case-insensitively; unknown sides and unparseable numbers are logged and
// skipped. A size of zero deletes the matched level; both sides are re-sorted
// and re-truncated once per batch, not per change.
func (b *Book) ApplyDelta(ev domain.PriceChangeEvent) {
	for _, change := range ev.Changes {
		side, ok := domain.ParseBookSide(change.Side)
		if !ok {
			b.logger.Warn("skipping delta with unknown side", slog.String("side", change.Side))
			continue
		}
		price, size, ok := b.parseLevel(change.Price, change.Size)
		if !ok {
			continue
		}

		if side == domain.SideBid {
			b.bids = b.applyChange(b.bids, price, size)
		} else {
			b.asks = b.applyChange(b.asks, price, size)
		}
	}

	b.finishMutation()
}

// applyChange mutates one side for a single delta: delete on zero size,
// update in place (recording the change direction) on a tolerance match,
// insert otherwise.
func (b *Book) applyChange(side []domain.BookLevel, price, size float64) []domain.BookLevel {
	idx := -1
	for i := range side {
		if diff := side[i].Price - price; diff < domain.PriceMatchTolerance && diff > -domain.PriceMatchTolerance {
			idx = i
			break
		}
	}

	switch {
	case idx >= 0 && size == 0:
		return append(side[:idx], side[idx+1:]...)

	case idx >= 0:
		lvl := &side[idx]
		lvl.PrevSize = lvl.Size
		if size > lvl.Size {
			lvl.Change = domain.ChangeIncrease
		} else if size < lvl.Size {
			lvl.Change = domain.ChangeDecrease
		}
		lvl.Size = size
		lvl.ChangedAt = b.now()
		return side

	case size > 0:
		return append(side, domain.BookLevel{
			Price:     price,
			Size:      size,
			Change:    domain.ChangeIncrease,
			ChangedAt: b.now(),
		})

	default:
		// Zero-size delta for a level we never had: no-op.
		return side
	}
}

// ApplyTickSize replaces the tick size; an unparseable or non-positive
// payload is ignored.
func (b *Book) ApplyTickSize(ev domain.TickSizeChangeEvent) {
	tick, err := strconv.ParseFloat(ev.NewTickSize, 64)
	if err != nil || tick <= 0 {
		b.logger.Debug("ignoring invalid tick size", slog.String("value", ev.NewTickSize))
		return
	}
	b.tick = tick
	b.updatedAt = b.now()
	b.version++
}

// ApplyTrade records the most recent execution. Trades never touch levels;
// they only refresh the derived display state.
func (b *Book) ApplyTrade(ev domain.TradeEvent) {
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		b.logger.Debug("skipping trade with unparseable price", slog.String("price", ev.Price))
		return
	}
	b.lastTrade = price
	if size, err := strconv.ParseFloat(ev.Size, 64); err == nil {
		b.lastSize = size
	}
	b.updatedAt = b.now()
	b.version++
}

// ClearExpiredHighlights resets the change direction of every level whose
// highlight window has elapsed. It returns how many levels were cleared.
func (b *Book) ClearExpiredHighlights() int {
	now := b.now()
	cleared := 0
	for _, side := range [][]domain.BookLevel{b.bids, b.asks} {
		for i := range side {
			lvl := &side[i]
			if lvl.Change == domain.ChangeNone {
				continue
			}
			if now.Sub(lvl.ChangedAt) >= b.highlight {
				lvl.Change = domain.ChangeNone
				lvl.ChangedAt = time.Time{}
				cleared++
			}
		}
	}
	if cleared > 0 {
		b.version++
	}
	return cleared
}

// Spread returns best ask minus best bid, 0 unless both sides are populated.
func (b *Book) Spread() float64 { return b.spread }

// WeightedMidpoint returns the liquidity-weighted midpoint: thin top-of-book
// liquidity pulls the estimate toward the thick side's price. Empty sides
// yield 0; two zero-size tops reduce to the arithmetic mean.
func (b *Book) WeightedMidpoint() float64 { return b.weightedMid }

// BestBid returns the highest bid price, 0 when the side is empty.
func (b *Book) BestBid() float64 { return b.bestBid }

// BestAsk returns the lowest ask price, 0 when the side is empty.
func (b *Book) BestAsk() float64 { return b.bestAsk }

// Seed installs a REST-bootstrapped history series.
func (b *Book) Seed(points []domain.PricePoint) {
	b.history.Seed(points)
}

// View builds an immutable copy of the current state for readers outside the
// consumer loop.
func (b *Book) View() *domain.BookView {
	view := &domain.BookView{
		AssetID:     b.assetID,
		Label:       b.label,
		Bids:        make([]domain.BookLevel, len(b.bids)),
		Asks:        make([]domain.BookLevel, len(b.asks)),
		BestBid:     b.bestBid,
		BestAsk:     b.bestAsk,
		Spread:      b.spread,
		WeightedMid: b.weightedMid,
		TickSize:    b.tick,
		LastTrade:   b.lastTrade,
		LastSize:    b.lastSize,
		Source:      b.source,
		UpdatedAt:   b.updatedAt,
		Version:     b.version,
	}
	copy(view.Bids, b.bids)
	copy(view.Asks, b.asks)
	return view
}

// DepthProjection builds the cumulative depth curve clipped to a window of
// ticksAround buckets centered on the midpoint. Non-positive ticksAround
// falls back to DefaultTicksAroundSpread.
func (b *Book) DepthProjection(ticksAround int) []domain.DepthPoint {
	return projectDepth(b.bids, b.asks, b.tick, ticksAround)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// parseLevel parses a (price, size) string pair; ok is false when either
// fails, and the failure is logged at debug level.
func (b *Book) parseLevel(priceStr, sizeStr string) (price, size float64, ok bool) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		b.logger.Debug("skipping level with unparseable price", slog.String("price", priceStr))
		return 0, 0, false
	}
	size, err = strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		b.logger.Debug("skipping level with unparseable size", slog.String("size", sizeStr))
		return 0, 0, false
	}
	return price, size, true
}

// finishMutation is the once-per-batch epilogue: sort, truncate, stamp,
// recompute, and extend the midpoint history.
func (b *Book) finishMutation() {
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })

	if len(b.bids) > b.depth {
		b.bids = b.bids[:b.depth]
	}
	if len(b.asks) > b.depth {
		b.asks = b.asks[:b.depth]
	}

	b.updatedAt = b.now()
	b.version++
	b.recompute()
}

// recompute refreshes the derived stats and appends the midpoint to history.
func (b *Book) recompute() {
	b.bestBid, b.bestAsk, b.spread = 0, 0, 0
	if len(b.bids) > 0 {
		b.bestBid = b.bids[0].Price
	}
	if len(b.asks) > 0 {
		b.bestAsk = b.asks[0].Price
	}
	if b.bestBid > 0 && b.bestAsk > 0 {
		b.spread = b.bestAsk - b.bestBid
	}

	b.weightedMid = b.computeWeightedMid()
	if b.weightedMid > 0 {
		b.history.Add(b.weightedMid)
	}
}

func (b *Book) computeWeightedMid() float64 {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0
	}
	bidTop, askTop := b.bids[0], b.asks[0]
	if bidTop.Size == 0 && askTop.Size == 0 {
		return (bidTop.Price + askTop.Price) / 2
	}
	return (bidTop.Price*askTop.Size + askTop.Price*bidTop.Size) / (bidTop.Size + askTop.Size)
}
