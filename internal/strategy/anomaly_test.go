package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func TestPriceAnomaly(t *testing.T) {
	ctx := context.Background()
	det := NewPriceAnomaly(testLogger())

	evaluate := func(view *domain.BookView) []domain.Alert {
		alerts, err := det.Evaluate(ctx, view, Selection{})
		require.NoError(t, err)
		return alerts
	}

	t.Run("severity_scales_with_spread", func(t *testing.T) {
		cases := []struct {
			name   string
			spread float64
			want   []domain.Severity
		}{
			{"tight_spread_is_quiet", 0.05, nil},
			{"warn_threshold_is_exclusive", 0.10, nil},
			{"wide_spread_is_medium", 0.15, []domain.Severity{domain.SeverityMedium}},
			{"severe_threshold_is_exclusive", 0.20, []domain.Severity{domain.SeverityMedium}},
			{"blown_out_spread_is_high", 0.25, []domain.Severity{domain.SeverityHigh}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				alerts := evaluate(wideSpreadView("tok-1", tc.spread))
				require.Len(t, alerts, len(tc.want))
				for i, sev := range tc.want {
					assert.Equal(t, sev, alerts[i].Severity)
				}
			})
		}
	})

	t.Run("one_sided_books_are_skipped", func(t *testing.T) {
		view := &domain.BookView{
			AssetID: "tok-1",
			Bids:    []domain.BookLevel{{Price: 0.30, Size: 10}},
		}
		assert.Empty(t, evaluate(view))
	})

	t.Run("message_prefers_the_display_label", func(t *testing.T) {
		view := wideSpreadView("tok-1", 0.25)
		view.Label = "Will it rain? - Yes"

		alerts := evaluate(view)
		require.Len(t, alerts, 1)
		assert.Contains(t, alerts[0].Message, "Will it rain? - Yes")
		assert.Equal(t, []string{"tok-1"}, alerts[0].AssetIDs)

		view.Label = ""
		alerts = evaluate(view)
		require.Len(t, alerts, 1)
		assert.Contains(t, alerts[0].Message, "tok-1", "falls back to the token id")
	})
}
