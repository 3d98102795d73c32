package book

import (
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// DefaultHistoryCapacity bounds a price history buffer when the caller does
// not choose a capacity.
const DefaultHistoryCapacity = 500

// historyPadding widens the reported price range on each bound so chart
// framing leaves headroom.
const historyPadding = 0.05

// History is a bounded, deduplicating midpoint time series. Appends that
// exactly equal the last stored price are skipped; overflow evicts the
// oldest point. Points are never mutated in place.
type History struct {
	capacity int
	points   []domain.PricePoint
	now      func() time.Time
}

// NewHistory creates an empty history. Non-positive capacities fall back to
// DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		now:      time.Now,
	}
}

// Add appends (now, price), unless price exactly equals the last stored
// value.
func (h *History) Add(price float64) {
	h.AddAt(h.now(), price)
}

// AddAt appends (at, price) with the same dedup and eviction rules as Add.
func (h *History) AddAt(at time.Time, price float64) {
	if n := len(h.points); n > 0 && h.points[n-1].Price == price {
		return
	}
	h.points = append(h.points, domain.PricePoint{At: at, Price: price})
	if len(h.points) > h.capacity {
		h.points = append(h.points[:0], h.points[1:]...)
	}
}

// Seed replaces the buffer with a bootstrap series, applying the dedup rule
// between consecutive points and keeping only the newest capacity entries.
func (h *History) Seed(points []domain.PricePoint) {
	h.points = h.points[:0]
	for _, p := range points {
		h.AddAt(p.At, p.Price)
	}
}

// Len returns the number of stored points.
func (h *History) Len() int {
	return len(h.points)
}

// Last returns the most recent point; ok is false when empty.
func (h *History) Last() (domain.PricePoint, bool) {
	if len(h.points) == 0 {
		return domain.PricePoint{}, false
	}
	return h.points[len(h.points)-1], true
}

// Points returns a copy of the series in chronological order.
func (h *History) Points() []domain.PricePoint {
	out := make([]domain.PricePoint, len(h.points))
	copy(out, h.points)
	return out
}

// PriceRange returns the observed price bounds padded 5% on each side for
// chart framing; ok is false when the history is empty.
func (h *History) PriceRange() (lo, hi float64, ok bool) {
	if len(h.points) == 0 {
		return 0, 0, false
	}
	lo, hi = h.points[0].Price, h.points[0].Price
	for _, p := range h.points[1:] {
		if p.Price < lo {
			lo = p.Price
		}
		if p.Price > hi {
			hi = p.Price
		}
	}
	return lo * (1 - historyPadding), hi * (1 + historyPadding), true
}

// TimeRange returns the timestamps of the oldest and newest points; ok is
// false when the history is empty.
func (h *History) TimeRange() (from, to time.Time, ok bool) {
	if len(h.points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return h.points[0].At, h.points[len(h.points)-1].At, true
}
