// Package catalog maintains the market and event metadata the monitor works
// against: which instruments exist, what to call them, and how event legs
// group for parity checks. It is a periodically refreshed read-through cache
// over the Gamma API.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// pageLimit is how many events one Gamma page requests.
	pageLimit = 500

	// maxEvents caps the crawl; beyond this the long tail is dead volume.
	maxEvents = 5000

	// DefaultRefreshInterval is the re-crawl cadence when the config does
	// not choose one.
	DefaultRefreshInterval = 5 * time.Minute
)

// CatalogSource lists Gamma events page by page and resolves the pinned IDs
// the page crawl may not carry.
type CatalogSource interface {
	GetEvents(ctx context.Context, limit, offset int) ([]domain.Event, []domain.Market, error)
	GetEvent(ctx context.Context, id string) (domain.Event, []domain.Market, error)
	GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error)
}

// Catalog is the in-memory market/event index. All reads are served from the
// last completed crawl; a refresh swaps the whole index at once, so readers
// never observe a half-built catalog.
type Catalog struct {
	source CatalogSource
	cache  domain.MarketCache // optional Redis mirror
	logger *slog.Logger

	pinnedEvents []string
	pinnedTokens []string

	mu       sync.RWMutex
	events   []domain.Event // active events, richest first
	eventIdx map[string]int
	markets  map[string]domain.Market // active markets by ID
	byToken  map[string]string        // token ID → market ID
	loadedAt time.Time
}

// New creates an empty Catalog; call Refresh before first use.
func New(source CatalogSource, logger *slog.Logger) *Catalog {
	return &Catalog{
		source:   source,
		logger:   logger.With(slog.String("component", "catalog")),
		eventIdx: make(map[string]int),
		markets:  make(map[string]domain.Market),
		byToken:  make(map[string]string),
	}
}

// UseCache mirrors refreshed market metadata into the given cache so other
// processes can resolve tokens without re-crawling Gamma. Call before Run.
func (c *Catalog) UseCache(cache domain.MarketCache) {
	c.cache = cache
}

// Pin records watched event and token IDs that every refresh must resolve.
// IDs the page crawl misses are fetched directly; without this a watched
// market outside the top pages would lose its label and its user-channel
// condition ID. Call before Run.
func (c *Catalog) Pin(eventIDs, tokenIDs []string) {
	c.pinnedEvents = append([]string(nil), eventIDs...)
	c.pinnedTokens = append([]string(nil), tokenIDs...)
}

// Refresh re-crawls the Gamma event listing, resolves pinned IDs the crawl
// missed, and atomically replaces the index. Inactive events, events with no
// open markets, and closed or unopened markets are dropped; surviving events
// are ordered by member volume, richest first.
func (c *Catalog) Refresh(ctx context.Context) error {
	var (
		events  []domain.Event
		markets []domain.Market
	)
	for offset := 0; offset < maxEvents; offset += pageLimit {
		evs, mks, err := c.source.GetEvents(ctx, pageLimit, offset)
		if err != nil {
			return fmt.Errorf("catalog: refresh page at offset %d: %w", offset, err)
		}
		events = append(events, evs...)
		markets = append(markets, mks...)
		if len(evs) < pageLimit {
			break
		}
	}

	events, markets = c.fetchPinned(ctx, events, markets)

	dropped := c.install(events, markets)
	c.mirrorToCache(ctx, dropped)

	c.mu.RLock()
	eventCount, marketCount := len(c.events), len(c.markets)
	c.mu.RUnlock()
	c.logger.Info("catalog refreshed",
		slog.Int("events", eventCount),
		slog.Int("markets", marketCount),
	)
	return nil
}

// fetchPinned appends directly fetched events and markets for pinned IDs the
// crawl did not cover. Fetch failures are logged and skipped; the refresh
// proceeds with what it has.
func (c *Catalog) fetchPinned(ctx context.Context, events []domain.Event, markets []domain.Market) ([]domain.Event, []domain.Market) {
	if len(c.pinnedEvents) == 0 && len(c.pinnedTokens) == 0 {
		return events, markets
	}

	haveEvent := make(map[string]struct{}, len(events))
	for _, ev := range events {
		haveEvent[ev.ID] = struct{}{}
	}
	for _, id := range c.pinnedEvents {
		if _, ok := haveEvent[id]; ok {
			continue
		}
		ev, ms, err := c.source.GetEvent(ctx, id)
		if err != nil {
			c.logger.Warn("pinned event fetch failed",
				slog.String("event", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, ev)
		markets = append(markets, ms...)
	}

	haveToken := make(map[string]struct{}, len(markets)*2)
	for _, m := range markets {
		for _, token := range m.TokenIDs {
			if token != "" {
				haveToken[token] = struct{}{}
			}
		}
	}
	for _, id := range c.pinnedTokens {
		if _, ok := haveToken[id]; ok {
			continue
		}
		m, err := c.source.GetMarketByToken(ctx, id)
		if err != nil {
			c.logger.Warn("pinned token fetch failed",
				slog.String("token", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		markets = append(markets, m)
		for _, token := range m.TokenIDs {
			if token != "" {
				haveToken[token] = struct{}{}
			}
		}
	}
	return events, markets
}

// mirrorToCache writes the installed markets to the external cache in one
// batch and evicts entries for markets that left the index, best-effort. A
// cold or unreachable cache never fails a refresh.
func (c *Catalog) mirrorToCache(ctx context.Context, dropped []string) {
	if c.cache == nil {
		return
	}

	c.mu.RLock()
	markets := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		markets = append(markets, m)
	}
	c.mu.RUnlock()

	if err := c.cache.SetAll(ctx, markets); err != nil {
		c.logger.Warn("market cache mirror failed", slog.String("error", err.Error()))
	}
	var failed int
	for _, id := range dropped {
		if err := c.cache.Invalidate(ctx, id); err != nil {
			failed++
		}
	}
	if failed > 0 {
		c.logger.Warn("market cache eviction incomplete",
			slog.Int("failed", failed),
			slog.Int("total", len(dropped)),
		)
	}
}

// Run refreshes the catalog on the given interval until the context ends.
// Failed refreshes keep the previous index and retry on the next tick.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("catalog refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Market returns one open market by its ID.
func (c *Catalog) Market(id string) (domain.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	return m, ok
}

// MarketForToken resolves the market owning a CLOB token ID.
func (c *Catalog) MarketForToken(tokenID string) (domain.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byToken[tokenID]
	if !ok {
		return domain.Market{}, false
	}
	m, ok := c.markets[id]
	return m, ok
}

// LabelForToken renders the "Question - Outcome" label for a token; ok is
// false for unknown tokens.
func (c *Catalog) LabelForToken(tokenID string) (string, bool) {
	m, ok := c.MarketForToken(tokenID)
	if !ok {
		return "", false
	}
	return m.Label(tokenID), true
}

// Event returns one event by ID with its filtered legs.
func (c *Catalog) Event(id string) (domain.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.eventIdx[id]
	if !ok {
		return domain.Event{}, false
	}
	return copyEvent(c.events[idx]), true
}

// Events returns up to limit events, richest first. Non-positive limits
// return everything.
func (c *Catalog) Events(limit int) []domain.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit <= 0 || limit > len(c.events) {
		limit = len(c.events)
	}
	out := make([]domain.Event, 0, limit)
	for _, ev := range c.events[:limit] {
		out = append(out, copyEvent(ev))
	}
	return out
}

// Markets returns every open market, highest volume first.
func (c *Catalog) Markets() []domain.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	return out
}

// LegLabels maps each leg token of an event to its display label, the shape
// event-scoped strategy selections want.
func (c *Catalog) LegLabels(eventID string) map[string]string {
	ev, ok := c.Event(eventID)
	if !ok {
		return nil
	}
	labels := make(map[string]string, len(ev.Legs))
	for _, leg := range ev.Legs {
		if label, ok := c.LabelForToken(leg); ok {
			labels[leg] = label
		}
	}
	return labels
}

// TagsForTokens returns the union of reference-symbol tags across the
// markets owning the given tokens, sorted. The result drives which Binance
// reference streams to open.
func (c *Catalog) TagsForTokens(tokens []string) []string {
	seen := make(map[string]struct{})
	for _, token := range tokens {
		m, ok := c.MarketForToken(token)
		if !ok {
			continue
		}
		for _, tag := range m.Tags {
			seen[tag] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ExpandWatch resolves a watch configuration into the full token set:
// explicitly listed assets first, then every leg of the listed events,
// deduplicated in order. Unknown events are logged and skipped.
func (c *Catalog) ExpandWatch(assetIDs, eventIDs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(token string) {
		if token == "" {
			return
		}
		if _, dup := seen[token]; dup {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}

	for _, id := range assetIDs {
		add(id)
	}
	for _, id := range eventIDs {
		ev, ok := c.Event(id)
		if !ok {
			c.logger.Warn("watched event not in catalog", slog.String("event", id))
			continue
		}
		for _, leg := range ev.Legs {
			add(leg)
		}
	}
	return out
}

// Counts returns how many events and markets the index holds.
func (c *Catalog) Counts() (events, markets int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events), len(c.markets)
}

// LoadedAt returns when the index was last rebuilt, zero before the first
// refresh.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// install filters a crawl down to open instruments and swaps the index. It
// returns the IDs of markets that were indexed before but are not anymore,
// so the cache mirror can evict them.
func (c *Catalog) install(events []domain.Event, markets []domain.Market) (dropped []string) {
	marketsByID := make(map[string]domain.Market, len(markets))
	byToken := make(map[string]string, len(markets)*2)
	for _, m := range markets {
		if m.Status != domain.MarketStatusActive {
			continue
		}
		m.Tags = tagStrings(Classify(m.Question))
		marketsByID[m.ID] = m
		for _, token := range m.TokenIDs {
			if token != "" {
				byToken[token] = m.ID
			}
		}
	}

	kept := make([]domain.Event, 0, len(events))
	volumes := make(map[string]float64, len(events))
	for _, ev := range events {
		if !ev.Active {
			continue
		}
		var (
			memberIDs []string
			legs      []string
			volume    float64
		)
		for _, id := range ev.MarketIDs {
			m, ok := marketsByID[id]
			if !ok {
				continue
			}
			memberIDs = append(memberIDs, id)
			if m.TokenIDs[0] != "" {
				legs = append(legs, m.TokenIDs[0])
			}
			volume += m.Volume
		}
		if len(memberIDs) == 0 {
			continue
		}
		ev.MarketIDs = memberIDs
		ev.Legs = legs
		kept = append(kept, ev)
		volumes[ev.ID] = volume
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return volumes[kept[i].ID] > volumes[kept[j].ID]
	})

	eventIdx := make(map[string]int, len(kept))
	for i, ev := range kept {
		eventIdx[ev.ID] = i
	}

	c.mu.Lock()
	for id := range c.markets {
		if _, still := marketsByID[id]; !still {
			dropped = append(dropped, id)
		}
	}
	c.events = kept
	c.eventIdx = eventIdx
	c.markets = marketsByID
	c.byToken = byToken
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return dropped
}

func copyEvent(ev domain.Event) domain.Event {
	ev.MarketIDs = append([]string(nil), ev.MarketIDs...)
	ev.Legs = append([]string(nil), ev.Legs...)
	return ev
}

func tagStrings(tags []Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}
