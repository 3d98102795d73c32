package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/book"
	"github.com/alanyoungcy/clobwatch/internal/domain"
	"github.com/alanyoungcy/clobwatch/internal/feed"
	"github.com/alanyoungcy/clobwatch/internal/strategy"
)

const (
	// DefaultTickInterval is the consumer loop cadence: health checks plus
	// one inbox drain per tick.
	DefaultTickInterval = 50 * time.Millisecond

	// DefaultRefreshInterval bounds slow-path staleness: expired highlights
	// are swept and chart views republished on this cadence even when no
	// events arrive.
	DefaultRefreshInterval = time.Second

	// DefaultPollInterval is the REST snapshot cadence while no live feed
	// is up.
	DefaultPollInterval = 100 * time.Millisecond
)

// BookSource serves order book data over REST: the bootstrap path and the
// poll fallback. *polymarket.ClobClient implements it.
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.BookEvent, error)
	GetTickSize(ctx context.Context, tokenID string) (float64, error)
	GetPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]domain.PricePoint, error)
}

// Labeler resolves display labels for token IDs. *catalog.Catalog
// implements it; a nil Labeler leaves books labeled by asset ID.
type Labeler interface {
	LabelForToken(tokenID string) (string, bool)
}

// ManagedFeed pairs a supervised connection with the inbox its workers
// write into.
type ManagedFeed struct {
	Supervisor *feed.Supervisor
	Inbox      *feed.Inbox
}

// Config configures the monitor loop.
type Config struct {
	// AssetIDs are the tracked tokens, in display order.
	AssetIDs []string

	// Depth caps the displayed levels per book side.
	Depth int

	// TickInterval, RefreshInterval and PollInterval are the loop cadences;
	// non-positive values fall back to the package defaults.
	TickInterval    time.Duration
	RefreshInterval time.Duration
	PollInterval    time.Duration

	// HighlightWindow is how long level changes stay highlighted.
	HighlightWindow time.Duration

	// HistoryCapacity bounds each book's midpoint history.
	HistoryCapacity int

	// HistoryBootstrap seeds histories from the REST price-history endpoint
	// during Bootstrap; HistoryInterval and HistoryFidelity are passed
	// through to the endpoint.
	HistoryBootstrap bool
	HistoryInterval  string
	HistoryFidelity  int

	// PollOnly runs without feeds entirely; books update from REST alone.
	PollOnly bool

	Logger *slog.Logger

	// Now is the clock; nil means time.Now. Injectable for tests.
	Now func() time.Time
}

// Monitor owns every tracked book and the strategy engine dispatch. All
// mutations happen on the single goroutine running the loop; readers get
// state through the Publisher's immutable views, so none of the book state
// needs locks.
type Monitor struct {
	cfg    Config
	source BookSource
	engine *strategy.Engine
	feeds  []ManagedFeed
	pub    *Publisher

	order []string
	books map[string]*book.Book

	startedAt   time.Time
	lastRefresh time.Time
	lastPoll    time.Time

	eventsConsumed atomic.Int64
	alertsEmitted  atomic.Int64
	pollCycles     atomic.Int64

	now    func() time.Time
	logger *slog.Logger
}

// NewMonitor builds the books for cfg.AssetIDs and registers their
// publisher slots. Nothing runs until Bootstrap and Run.
func NewMonitor(cfg Config, source BookSource, labels Labeler, engine *strategy.Engine, feeds []ManagedFeed) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	m := &Monitor{
		cfg:    cfg,
		source: source,
		engine: engine,
		feeds:  feeds,
		pub:    NewPublisher(),
		books:  make(map[string]*book.Book, len(cfg.AssetIDs)),
		now:    cfg.Now,
		logger: cfg.Logger.With(slog.String("component", "monitor")),
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.startedAt = m.now()

	for _, id := range cfg.AssetIDs {
		if _, ok := m.books[id]; ok {
			continue
		}
		bc := book.Config{
			AssetID:         id,
			Depth:           cfg.Depth,
			HighlightWindow: cfg.HighlightWindow,
			HistoryCapacity: cfg.HistoryCapacity,
			Logger:          cfg.Logger,
			Now:             m.now,
		}
		if labels != nil {
			if label, ok := labels.LabelForToken(id); ok {
				bc.Label = label
			}
		}
		m.books[id] = book.New(bc)
		m.order = append(m.order, id)
		m.pub.Register(id)
	}
	return m
}

// Bootstrap primes every book over REST before the loop starts. A failed
// order book fetch is fatal; missing tick sizes and price histories only
// degrade the book and are logged.
func (m *Monitor) Bootstrap(ctx context.Context) error {
	for _, id := range m.order {
		b := m.books[id]

		snap, err := m.source.GetOrderBook(ctx, id)
		if err != nil {
			return fmt.Errorf("monitor: bootstrap book %s: %w", id, err)
		}

		if tick, err := m.source.GetTickSize(ctx, id); err != nil {
			m.logger.Warn("tick size unavailable, keeping default",
				slog.String("asset", id),
				slog.String("error", err.Error()),
			)
		} else {
			b.SetTickSize(tick)
		}

		if m.cfg.HistoryBootstrap {
			points, err := m.source.GetPriceHistory(ctx, id, m.cfg.HistoryInterval, m.cfg.HistoryFidelity)
			if err != nil {
				m.logger.Warn("price history unavailable, starting empty",
					slog.String("asset", id),
					slog.String("error", err.Error()),
				)
			} else {
				b.Seed(points)
			}
		}

		// The snapshot lands after the seeded history so the live midpoint
		// extends the series instead of being replaced by it.
		b.ApplySnapshot(snap)
		b.SetSource(book.SourceREST)
		m.publish(ctx, id)
	}
	m.publishCharts()
	m.logger.Info("bootstrap complete", slog.Int("assets", len(m.order)))
	return nil
}

// Run drives the consumer loop until ctx is cancelled, then closes the
// feeds on the way out.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor loop starting",
		slog.String("mode", m.mode()),
		slog.Int("assets", len(m.order)),
		slog.Int("feeds", len(m.feeds)),
	)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, f := range m.feeds {
				_ = f.Supervisor.Close()
			}
			m.logger.Info("monitor loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// View returns the latest published view for one asset.
func (m *Monitor) View(assetID string) (*domain.BookView, bool) {
	return m.pub.View(assetID)
}

// Views returns the latest published views in tracking order. Assets that
// have not published yet are skipped.
func (m *Monitor) Views() []*domain.BookView {
	out := make([]*domain.BookView, 0, len(m.order))
	for _, id := range m.order {
		if v, ok := m.pub.View(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// Chart returns the latest published chart view for one asset.
func (m *Monitor) Chart(assetID string) (*domain.ChartView, bool) {
	return m.pub.Chart(assetID)
}

// AssetIDs returns the tracked assets in display order.
func (m *Monitor) AssetIDs() []string {
	return append([]string(nil), m.order...)
}

// RearmFeed resets the reconnect budget of the feed named key, or of the
// feed covering key as an asset ID.
func (m *Monitor) RearmFeed(key string) error {
	for _, f := range m.feeds {
		if f.Supervisor.Status().Name == key {
			f.Supervisor.Rearm()
			return nil
		}
	}
	for _, f := range m.feeds {
		for _, id := range f.Supervisor.Status().AssetIDs {
			if id == key {
				f.Supervisor.Rearm()
				return nil
			}
		}
	}
	return fmt.Errorf("monitor: rearm %q: %w", key, domain.ErrNotFound)
}

// Status summarizes the monitor for the status endpoint.
func (m *Monitor) Status() domain.MonitorStatus {
	live := m.anyFeedLive()
	st := domain.MonitorStatus{
		Mode:           m.mode(),
		Live:           live,
		Source:         book.SourceREST,
		StartedAt:      m.startedAt,
		UptimeSeconds:  int64(m.now().Sub(m.startedAt).Seconds()),
		TrackedAssets:  len(m.order),
		EventsConsumed: m.eventsConsumed.Load(),
		AlertsEmitted:  m.alertsEmitted.Load(),
		PollCycles:     m.pollCycles.Load(),
	}
	if live {
		st.Source = book.SourceLive
	}
	for _, f := range m.feeds {
		st.Feeds = append(st.Feeds, f.Supervisor.Status())
		st.EventsDropped += int64(f.Inbox.Dropped())
	}
	for _, s := range m.engine.Statuses() {
		if s.Phase == domain.PhaseRunning {
			st.RunningCount++
		}
	}
	return st
}

// ----- Loop internals -----

// tick is one pass of the consumer loop. Health checks run before the
// drain so a dead feed is reaped on the same pass that would otherwise
// read from its stale inbox.
func (m *Monitor) tick(ctx context.Context) {
	now := m.now()

	if !m.cfg.PollOnly {
		for _, f := range m.feeds {
			f.Supervisor.Tick(ctx)
		}
	}

	touched := m.drain()

	refresh := now.Sub(m.lastRefresh) >= m.cfg.RefreshInterval
	if refresh {
		m.lastRefresh = now
		for id, b := range m.books {
			if b.ClearExpiredHighlights() > 0 {
				touched[id] = struct{}{}
			}
		}
	}

	if m.pollNeeded() && now.Sub(m.lastPoll) >= m.cfg.PollInterval {
		m.lastPoll = now
		m.poll(ctx, touched)
	}

	for _, id := range m.order {
		if _, ok := touched[id]; ok {
			m.publish(ctx, id)
		}
	}
	if refresh {
		m.publishCharts()
	}
}

// drain empties every feed inbox and applies the events to their books,
// returning the set of assets whose state changed.
func (m *Monitor) drain() map[string]struct{} {
	touched := make(map[string]struct{})
	for _, f := range m.feeds {
		for _, ev := range f.Inbox.TryDrain() {
			b, ok := m.books[ev.Asset()]
			if !ok {
				// Workers filter subscriptions, so this is a feed serving
				// an asset the monitor was never told about.
				m.logger.Debug("event for untracked asset", slog.String("asset", ev.Asset()))
				continue
			}
			b.Apply(ev)
			b.SetSource(book.SourceLive)
			touched[ev.Asset()] = struct{}{}
			m.eventsConsumed.Add(1)
		}
	}
	return touched
}

// pollNeeded reports whether books must be fed over REST this tick: always
// in poll-only mode, otherwise whenever no feed connection is live.
func (m *Monitor) pollNeeded() bool {
	if m.cfg.PollOnly {
		return true
	}
	return !m.anyFeedLive()
}

// poll replaces every book from a REST snapshot and marks the data source
// degraded. Per-asset failures are logged and skipped so one bad token
// does not starve the rest.
func (m *Monitor) poll(ctx context.Context, touched map[string]struct{}) {
	m.pollCycles.Add(1)
	for _, id := range m.order {
		snap, err := m.source.GetOrderBook(ctx, id)
		if err != nil {
			m.logger.Warn("rest poll failed",
				slog.String("asset", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		b := m.books[id]
		b.ApplySnapshot(snap)
		b.SetSource(book.SourceREST)
		touched[id] = struct{}{}
	}
}

// publish snapshots one book into the publisher and dispatches the update
// to the strategy engine.
func (m *Monitor) publish(ctx context.Context, assetID string) {
	view := m.books[assetID].View()
	m.pub.Publish(view)
	if alerts := m.engine.OnBookUpdate(ctx, view); len(alerts) > 0 {
		m.alertsEmitted.Add(int64(len(alerts)))
	}
}

// publishCharts rebuilds the slow-path chart views for every asset.
func (m *Monitor) publishCharts() {
	for _, id := range m.order {
		b := m.books[id]
		chart := &domain.ChartView{
			AssetID: id,
			Depth:   b.DepthProjection(book.DefaultTicksAroundSpread),
			History: b.History().Points(),
			Version: b.Version(),
		}
		if lo, hi, ok := b.History().PriceRange(); ok {
			chart.PriceLo, chart.PriceHi = lo, hi
		}
		if from, to, ok := b.History().TimeRange(); ok {
			chart.From, chart.To = from, to
		}
		m.pub.PublishChart(chart)
	}
}

func (m *Monitor) anyFeedLive() bool {
	for _, f := range m.feeds {
		if f.Supervisor.Live() {
			return true
		}
	}
	return false
}

func (m *Monitor) mode() string {
	if m.cfg.PollOnly {
		return "poll"
	}
	return "monitor"
}
