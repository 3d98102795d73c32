package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wideSpreadView builds a single-market view whose spread trips the price
// anomaly detector.
func wideSpreadView(assetID string, spread float64) *domain.BookView {
	bid := 0.30
	return &domain.BookView{
		AssetID: assetID,
		Bids:    []domain.BookLevel{{Price: bid, Size: 10}},
		Asks:    []domain.BookLevel{{Price: bid + spread, Size: 10}},
		BestBid: bid,
		BestAsk: bid + spread,
		Spread:  spread,
	}
}

func quietView(assetID string) *domain.BookView {
	return &domain.BookView{
		AssetID: assetID,
		Bids:    []domain.BookLevel{{Price: 0.50, Size: 10}},
		Asks:    []domain.BookLevel{{Price: 0.52, Size: 10}},
		BestBid: 0.50,
		BestAsk: 0.52,
		Spread:  0.02,
	}
}

type failingDetector struct {
	kind domain.StrategyKind
}

func (f failingDetector) Name() string              { return "failing" }
func (f failingDetector) Kind() domain.StrategyKind { return f.kind }
func (f failingDetector) Evaluate(context.Context, *domain.BookView, Selection) ([]domain.Alert, error) {
	return nil, errors.New("boom")
}

func TestEngineLifecycle(t *testing.T) {
	e := NewEngine(nil, testLogger())

	t.Run("registers_all_kinds_stopped", func(t *testing.T) {
		assert.Equal(t, []domain.StrategyKind{
			domain.StrategyArbitrage,
			domain.StrategyPriceAnomaly,
			domain.StrategyVolumeSpike,
			domain.StrategyCorrelation,
		}, e.Kinds())

		for _, status := range e.Statuses() {
			assert.Equal(t, domain.PhaseStopped, status.Phase)
			assert.Zero(t, status.RunCount)
		}
	})

	t.Run("start_and_stop_move_the_phase", func(t *testing.T) {
		require.NoError(t, e.Start(domain.StrategyArbitrage))

		status, err := e.Status(domain.StrategyArbitrage)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseRunning, status.Phase)
		assert.False(t, status.LastRun.IsZero(), "starting stamps a last-run time")

		require.NoError(t, e.Stop(domain.StrategyArbitrage))
		status, err = e.Status(domain.StrategyArbitrage)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseStopped, status.Phase)
	})

	t.Run("unknown_kind_is_rejected", func(t *testing.T) {
		assert.ErrorIs(t, e.Start("momentum"), domain.ErrUnknownStrategy)
		assert.ErrorIs(t, e.Stop("momentum"), domain.ErrUnknownStrategy)
		_, err := e.Status("momentum")
		assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
	})
}

func TestEngineDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("runs_only_for_selected_assets", func(t *testing.T) {
		e := NewEngine(nil, testLogger())
		require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
		require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", "Rain? - Yes"))

		alerts := e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.25))
		require.Len(t, alerts, 1)
		assert.NotEmpty(t, alerts[0].ID)
		assert.Equal(t, "price_anomaly", alerts[0].Strategy)
		assert.Equal(t, domain.StrategyPriceAnomaly, alerts[0].Kind)
		assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
		assert.False(t, alerts[0].CreatedAt.IsZero())

		assert.Empty(t, e.OnBookUpdate(ctx, wideSpreadView("tok-9", 0.25)), "unselected asset never dispatches")

		status, err := e.Status(domain.StrategyPriceAnomaly)
		require.NoError(t, err)
		assert.Equal(t, int64(1), status.RunCount)
	})

	t.Run("run_accounting_advances_without_alerts", func(t *testing.T) {
		e := NewEngine(nil, testLogger())
		require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
		require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))

		before := time.Now()
		assert.Empty(t, e.OnBookUpdate(ctx, quietView("tok-1")))

		status, err := e.Status(domain.StrategyPriceAnomaly)
		require.NoError(t, err)
		assert.Equal(t, int64(1), status.RunCount)
		assert.False(t, status.LastRun.Before(before))
	})

	t.Run("stopped_strategies_never_run", func(t *testing.T) {
		e := NewEngine(nil, testLogger())
		require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))

		assert.Empty(t, e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.25)))

		status, err := e.Status(domain.StrategyPriceAnomaly)
		require.NoError(t, err)
		assert.Zero(t, status.RunCount)
	})

	t.Run("alerts_are_offered_to_the_channel", func(t *testing.T) {
		ch := make(chan domain.Alert, 1)
		e := NewEngine(ch, testLogger())
		require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
		require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))

		e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.25))

		select {
		case alert := <-ch:
			assert.Equal(t, "price_anomaly", alert.Strategy)
		default:
			t.Fatal("expected an alert on the channel")
		}

		// A full channel drops the delivery but keeps the log intact.
		e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.3))
		e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.35))
		assert.Len(t, e.RecentAlerts(domain.StrategyPriceAnomaly, 10), 3)
	})
}

func TestEngineErrorPhase(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, testLogger())

	// Swap in a detector that always fails.
	e.runtimes[domain.StrategyPriceAnomaly].det = failingDetector{kind: domain.StrategyPriceAnomaly}

	require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
	require.NoError(t, e.Start(domain.StrategyVolumeSpike))
	require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))
	require.NoError(t, e.SelectAsset(domain.StrategyVolumeSpike, "tok-1", ""))

	e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.25))

	status, err := e.Status(domain.StrategyPriceAnomaly)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseError, status.Phase)
	assert.Equal(t, "boom", status.Err)
	assert.Equal(t, int64(1), status.RunCount)

	other, err := e.Status(domain.StrategyVolumeSpike)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRunning, other.Phase, "one failing strategy never stalls the rest")
	assert.Equal(t, int64(1), other.RunCount)

	// The error phase sticks: no further runs until restarted.
	e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.25))
	status, _ = e.Status(domain.StrategyPriceAnomaly)
	assert.Equal(t, int64(1), status.RunCount)

	require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
	status, _ = e.Status(domain.StrategyPriceAnomaly)
	assert.Equal(t, domain.PhaseRunning, status.Phase)
	assert.Empty(t, status.Err, "restart clears the error")
}

func TestEngineAlertLogCap(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, testLogger())
	require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
	require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))

	spreadAt := func(i int) float64 { return 0.2 + float64(i)*0.001 }
	for i := 0; i < 150; i++ {
		alerts := e.OnBookUpdate(ctx, wideSpreadView("tok-1", spreadAt(i)))
		require.Len(t, alerts, 1)
	}

	all := e.RecentAlerts(domain.StrategyPriceAnomaly, 1000)
	require.Len(t, all, DefaultAlertLog, "log keeps exactly the most recent entries")

	assert.Equal(t, fmt.Sprintf("%.6f", spreadAt(149)), all[0].Data["spread"], "newest first")
	assert.Equal(t, fmt.Sprintf("%.6f", spreadAt(50)), all[99].Data["spread"], "the first 50 fell off")

	assert.Len(t, e.RecentAlerts(domain.StrategyPriceAnomaly, 0), defaultRecentLimit)
}

func TestAlertLogsArePerStrategy(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, testLogger())
	require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
	require.NoError(t, e.Start(domain.StrategyVolumeSpike))
	require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))
	require.NoError(t, e.SelectAsset(domain.StrategyVolumeSpike, "tok-1", ""))

	// Wide spread and a stacked book: both detectors fire on one view.
	view := wideSpreadView("tok-1", 0.25)
	view.Bids[0].Size = 30000
	view.Asks[0].Size = 30000
	emitted := e.OnBookUpdate(ctx, view)
	require.Len(t, emitted, 2)

	anomaly := e.RecentAlerts(domain.StrategyPriceAnomaly, 10)
	require.Len(t, anomaly, 1)
	assert.Equal(t, domain.StrategyPriceAnomaly, anomaly[0].Kind)

	volume := e.RecentAlerts(domain.StrategyVolumeSpike, 10)
	require.Len(t, volume, 1)
	assert.Equal(t, domain.StrategyVolumeSpike, volume[0].Kind)

	merged := e.RecentAlerts("", 10)
	require.Len(t, merged, 2)
	kinds := map[domain.StrategyKind]bool{merged[0].Kind: true, merged[1].Kind: true}
	assert.True(t, kinds[domain.StrategyPriceAnomaly] && kinds[domain.StrategyVolumeSpike])
}

func TestEngineSelection(t *testing.T) {
	e := NewEngine(nil, testLogger())

	t.Run("event_scoped_strategies_reject_bare_assets", func(t *testing.T) {
		err := e.SelectAsset(domain.StrategyArbitrage, "tok-1", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event-scoped")
	})

	t.Run("single_market_strategies_reject_events", func(t *testing.T) {
		err := e.SelectEvent(domain.StrategyPriceAnomaly, domain.Event{ID: "ev-1"}, nil)
		require.Error(t, err)
	})

	t.Run("event_selection_flattens_legs", func(t *testing.T) {
		ev := domain.Event{ID: "ev-1", Title: "Who wins?", Legs: []string{"tok-b", "tok-a"}}
		require.NoError(t, e.SelectEvent(domain.StrategyArbitrage, ev, map[string]string{"tok-a": "A wins"}))

		status, err := e.Status(domain.StrategyArbitrage)
		require.NoError(t, err)
		assert.Equal(t, []string{"ev-1"}, status.EventIDs)
		assert.Equal(t, []string{"tok-a", "tok-b"}, status.AssetIDs, "legs listed sorted")
	})

	t.Run("reselecting_an_event_replaces_it", func(t *testing.T) {
		ev := domain.Event{ID: "ev-1", Title: "Who wins?", Legs: []string{"tok-a", "tok-b", "tok-c"}}
		require.NoError(t, e.SelectEvent(domain.StrategyArbitrage, ev, nil))

		status, err := e.Status(domain.StrategyArbitrage)
		require.NoError(t, err)
		assert.Equal(t, []string{"ev-1"}, status.EventIDs)
		assert.Len(t, status.AssetIDs, 3)
	})

	t.Run("clear_selection_empties_the_watch_set", func(t *testing.T) {
		require.NoError(t, e.ClearSelection(domain.StrategyArbitrage))

		status, err := e.Status(domain.StrategyArbitrage)
		require.NoError(t, err)
		assert.Empty(t, status.AssetIDs)
		assert.Empty(t, status.EventIDs)
	})
}

func TestRecentAlertsAreCopies(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, testLogger())
	require.NoError(t, e.Start(domain.StrategyPriceAnomaly))
	require.NoError(t, e.SelectAsset(domain.StrategyPriceAnomaly, "tok-1", ""))

	e.OnBookUpdate(ctx, wideSpreadView("tok-1", 0.25))

	first := e.RecentAlerts("", 1)
	require.Len(t, first, 1)
	first[0].Data["spread"] = "tampered"
	first[0].AssetIDs[0] = "tampered"

	fresh := e.RecentAlerts("", 1)
	assert.NotEqual(t, "tampered", fresh[0].Data["spread"])
	assert.Equal(t, "tok-1", fresh[0].AssetIDs[0])
}
