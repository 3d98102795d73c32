// Package monitor runs the consumer loop that owns all mutable book and
// strategy state: it supervises feed health, drains worker inboxes, applies
// events, expires highlights, falls back to REST polling when no live feed
// is up, and publishes immutable read-models for the API side.
package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// Publisher hands the consumer loop's snapshots to API readers through
// atomic pointer swaps. Readers always see a complete view, never partial
// state, and never contend with the loop.
type Publisher struct {
	mu     sync.RWMutex
	views  map[string]*atomic.Pointer[domain.BookView]
	charts map[string]*atomic.Pointer[domain.ChartView]
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		views:  make(map[string]*atomic.Pointer[domain.BookView]),
		charts: make(map[string]*atomic.Pointer[domain.ChartView]),
	}
}

// Register creates the slots for an asset. Idempotent.
func (p *Publisher) Register(assetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.views[assetID]; !ok {
		p.views[assetID] = &atomic.Pointer[domain.BookView]{}
		p.charts[assetID] = &atomic.Pointer[domain.ChartView]{}
	}
}

// Publish swaps in the latest book view for its asset.
func (p *Publisher) Publish(view *domain.BookView) {
	if slot := p.viewSlot(view.AssetID); slot != nil {
		slot.Store(view)
	}
}

// PublishChart swaps in the latest chart view for its asset.
func (p *Publisher) PublishChart(chart *domain.ChartView) {
	p.mu.RLock()
	slot := p.charts[chart.AssetID]
	p.mu.RUnlock()
	if slot != nil {
		slot.Store(chart)
	}
}

// View returns the latest published view; ok is false before the first
// publish or for unknown assets.
func (p *Publisher) View(assetID string) (*domain.BookView, bool) {
	p.mu.RLock()
	slot := p.views[assetID]
	p.mu.RUnlock()
	if slot == nil {
		return nil, false
	}
	view := slot.Load()
	return view, view != nil
}

// Chart returns the latest published chart view.
func (p *Publisher) Chart(assetID string) (*domain.ChartView, bool) {
	p.mu.RLock()
	slot := p.charts[assetID]
	p.mu.RUnlock()
	if slot == nil {
		return nil, false
	}
	chart := slot.Load()
	return chart, chart != nil
}

func (p *Publisher) viewSlot(assetID string) *atomic.Pointer[domain.BookView] {
	p.mu.RLock()
	slot := p.views[assetID]
	p.mu.RUnlock()
	return slot
}
