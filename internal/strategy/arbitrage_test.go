package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func topView(assetID string, bid, ask float64) *domain.BookView {
	return &domain.BookView{
		AssetID: assetID,
		BestBid: bid,
		BestAsk: ask,
	}
}

func raceSelection(legs ...string) Selection {
	assets := make(map[string]string, len(legs))
	for _, leg := range legs {
		assets[leg] = ""
	}
	return Selection{
		Assets: assets,
		Events: []domain.Event{{ID: "ev-1", Title: "Who wins the race?", Legs: legs}},
	}
}

func TestArbitrage(t *testing.T) {
	ctx := context.Background()

	t.Run("waits_until_every_leg_is_quoted", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := raceSelection("tok-a", "tok-b")

		alerts, err := arb.Evaluate(ctx, topView("tok-a", 0.48, 0.52), sel)
		require.NoError(t, err)
		assert.Empty(t, alerts, "one unquoted leg blocks the basket")
	})

	t.Run("flags_bid_sum_below_parity", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := raceSelection("tok-a", "tok-b")

		_, err := arb.Evaluate(ctx, topView("tok-a", 0.48, 0.52), sel)
		require.NoError(t, err)
		alerts, err := arb.Evaluate(ctx, topView("tok-b", 0.49, 0.52), sel)
		require.NoError(t, err)

		require.Len(t, alerts, 1, "asks sum above parity, only the bid side flags")
		alert := alerts[0]
		assert.Equal(t, domain.SeverityMedium, alert.Severity)
		assert.Equal(t, "ev-1", alert.EventID)
		assert.Equal(t, []string{"tok-a", "tok-b"}, alert.AssetIDs)
		assert.Equal(t, "bid", alert.Data["side"])
		assert.Equal(t, "0.030000", alert.Data["opportunity"])
	})

	t.Run("large_edge_is_high_severity", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := raceSelection("tok-a", "tok-b")

		_, err := arb.Evaluate(ctx, topView("tok-a", 0.40, 0.55), sel)
		require.NoError(t, err)
		alerts, err := arb.Evaluate(ctx, topView("tok-b", 0.45, 0.50), sel)
		require.NoError(t, err)

		require.Len(t, alerts, 1)
		assert.Equal(t, domain.SeverityHigh, alerts[0].Severity, "0.15 of edge clears the severe threshold")
	})

	t.Run("bid_and_ask_sides_flag_independently", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := raceSelection("tok-a", "tok-b")

		_, err := arb.Evaluate(ctx, topView("tok-a", 0.45, 0.46), sel)
		require.NoError(t, err)
		alerts, err := arb.Evaluate(ctx, topView("tok-b", 0.49, 0.50), sel)
		require.NoError(t, err)

		require.Len(t, alerts, 2)
		assert.Equal(t, "bid", alerts[0].Data["side"])
		assert.Equal(t, "ask", alerts[1].Data["side"])
	})

	t.Run("one_sided_leg_blocks_that_side_only", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := raceSelection("tok-a", "tok-b")

		_, err := arb.Evaluate(ctx, topView("tok-a", 0, 0.50), sel)
		require.NoError(t, err)
		alerts, err := arb.Evaluate(ctx, topView("tok-b", 0.44, 0.45), sel)
		require.NoError(t, err)

		require.Len(t, alerts, 1)
		assert.Equal(t, "ask", alerts[0].Data["side"], "the missing bid never prices the bid basket")
	})

	t.Run("single_leg_events_are_ignored", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := Selection{
			Assets: map[string]string{"tok-a": ""},
			Events: []domain.Event{{ID: "ev-1", Legs: []string{"tok-a"}}},
		}

		alerts, err := arb.Evaluate(ctx, topView("tok-a", 0.30, 0.40), sel)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	})

	t.Run("fairly_priced_event_is_quiet", func(t *testing.T) {
		arb := NewArbitrage(testLogger())
		sel := raceSelection("tok-a", "tok-b")

		_, err := arb.Evaluate(ctx, topView("tok-a", 0.50, 0.52), sel)
		require.NoError(t, err)
		alerts, err := arb.Evaluate(ctx, topView("tok-b", 0.50, 0.52), sel)
		require.NoError(t, err)
		assert.Empty(t, alerts, "sums at or above 1.0 carry no edge")
	})

	t.Run("through_the_engine", func(t *testing.T) {
		e := NewEngine(nil, testLogger())
		ev := domain.Event{ID: "ev-1", Title: "Who wins the race?", Legs: []string{"tok-a", "tok-b"}}
		require.NoError(t, e.SelectEvent(domain.StrategyArbitrage, ev, nil))
		require.NoError(t, e.Start(domain.StrategyArbitrage))

		assert.Empty(t, e.OnBookUpdate(ctx, topView("tok-a", 0.48, 0.60)))
		alerts := e.OnBookUpdate(ctx, topView("tok-b", 0.49, 0.60))

		require.Len(t, alerts, 1)
		assert.Equal(t, domain.StrategyArbitrage, alerts[0].Kind)
		assert.Equal(t, "ev-1", alerts[0].EventID)
		assert.Equal(t, "0.030000", alerts[0].Data["opportunity"])

		status, err := e.Status(domain.StrategyArbitrage)
		require.NoError(t, err)
		assert.Equal(t, int64(2), status.RunCount, "both leg updates dispatched")
	})
}
