package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func sizedView(assetID string, bidSizes, askSizes []float64) *domain.BookView {
	view := &domain.BookView{AssetID: assetID, BestBid: 0.50, BestAsk: 0.52}
	price := 0.50
	for _, s := range bidSizes {
		view.Bids = append(view.Bids, domain.BookLevel{Price: price, Size: s})
		price -= 0.01
	}
	price = 0.52
	for _, s := range askSizes {
		view.Asks = append(view.Asks, domain.BookLevel{Price: price, Size: s})
		price += 0.01
	}
	return view
}

func TestVolumeSpike(t *testing.T) {
	ctx := context.Background()
	det := NewVolumeSpike(testLogger())

	evaluate := func(view *domain.BookView) []domain.Alert {
		alerts, err := det.Evaluate(ctx, view, Selection{})
		require.NoError(t, err)
		return alerts
	}

	t.Run("light_books_are_quiet", func(t *testing.T) {
		assert.Empty(t, evaluate(sizedView("tok-1", []float64{4000}, []float64{5000})))
		assert.Empty(t, evaluate(sizedView("tok-1", []float64{5000}, []float64{5000})), "the threshold is exclusive")
	})

	t.Run("heavy_books_flag_medium", func(t *testing.T) {
		alerts := evaluate(sizedView("tok-1", []float64{8000, 2000}, []float64{2000}))

		require.Len(t, alerts, 1)
		assert.Equal(t, domain.SeverityMedium, alerts[0].Severity)
		assert.Equal(t, "12000.00", alerts[0].Data["total_size"])
		assert.Equal(t, "10000.00", alerts[0].Data["bid_size"])
		assert.Equal(t, "2000.00", alerts[0].Data["ask_size"])
		assert.Equal(t, "3", alerts[0].Data["levels"])
	})

	t.Run("stacked_books_flag_high", func(t *testing.T) {
		alerts := evaluate(sizedView("tok-1", []float64{30000}, []float64{30000}))

		require.Len(t, alerts, 1)
		assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	})
}
