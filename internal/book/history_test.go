package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func TestHistory(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("consecutive_duplicates_are_dropped", func(t *testing.T) {
		h := NewHistory(10)

		h.AddAt(base, 0.50)
		h.AddAt(base.Add(time.Second), 0.50)
		h.AddAt(base.Add(2*time.Second), 0.50)
		assert.Equal(t, 1, h.Len())

		h.AddAt(base.Add(3*time.Second), 0.60)
		h.AddAt(base.Add(4*time.Second), 0.50)
		assert.Equal(t, 3, h.Len(), "only consecutive repeats dedup, returning prices re-append")
	})

	t.Run("overflow_evicts_oldest", func(t *testing.T) {
		h := NewHistory(3)
		for i := 0; i < 5; i++ {
			h.AddAt(base.Add(time.Duration(i)*time.Second), 0.50+float64(i)*0.01)
		}

		require.Equal(t, 3, h.Len())
		points := h.Points()
		assert.InDelta(t, 0.52, points[0].Price, 1e-12)
		assert.InDelta(t, 0.54, points[2].Price, 1e-12)
	})

	t.Run("price_range_pads_five_percent", func(t *testing.T) {
		h := NewHistory(10)
		h.AddAt(base, 0.40)
		h.AddAt(base.Add(time.Second), 0.60)

		lo, hi, ok := h.PriceRange()
		require.True(t, ok)
		assert.InDelta(t, 0.40*0.95, lo, 1e-12)
		assert.InDelta(t, 0.60*1.05, hi, 1e-12)
	})

	t.Run("empty_history_reports_nothing", func(t *testing.T) {
		h := NewHistory(10)

		_, ok := h.Last()
		assert.False(t, ok)
		_, _, ok = h.PriceRange()
		assert.False(t, ok)
		_, _, ok = h.TimeRange()
		assert.False(t, ok)
	})

	t.Run("seed_applies_dedup_and_capacity", func(t *testing.T) {
		h := NewHistory(3)
		h.AddAt(base, 0.99) // replaced by the seed

		h.Seed([]domain.PricePoint{
			{At: base, Price: 0.50},
			{At: base.Add(time.Second), Price: 0.50},
			{At: base.Add(2 * time.Second), Price: 0.51},
			{At: base.Add(3 * time.Second), Price: 0.52},
			{At: base.Add(4 * time.Second), Price: 0.53},
		})

		require.Equal(t, 3, h.Len())
		points := h.Points()
		assert.InDelta(t, 0.51, points[0].Price, 1e-12)
		last, ok := h.Last()
		require.True(t, ok)
		assert.InDelta(t, 0.53, last.Price, 1e-12)
	})

	t.Run("time_range_spans_oldest_to_newest", func(t *testing.T) {
		h := NewHistory(10)
		h.AddAt(base, 0.50)
		h.AddAt(base.Add(time.Minute), 0.51)

		from, to, ok := h.TimeRange()
		require.True(t, ok)
		assert.Equal(t, base, from)
		assert.Equal(t, base.Add(time.Minute), to)
	})

	t.Run("points_returns_a_copy", func(t *testing.T) {
		h := NewHistory(10)
		h.AddAt(base, 0.50)

		points := h.Points()
		points[0].Price = 9.99

		fresh := h.Points()
		assert.InDelta(t, 0.50, fresh[0].Price, 1e-12)
	})
}
