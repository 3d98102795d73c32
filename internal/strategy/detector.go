// Package strategy evaluates orderbook views against alert conditions:
// intra-event arbitrage, spread anomalies, resting-size spikes, and a
// reserved cross-market correlation slot. Detectors are passive. They
// observe books and emit alerts; they never place orders.
package strategy

import (
	"context"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// Selection is the instrument set one strategy watches. Event legs are
// flattened into Assets when an event is selected, so relevance is always a
// single map lookup.
type Selection struct {
	// Assets maps watched token IDs to display labels.
	Assets map[string]string

	// Events holds the event-scoped selections with their legs resolved.
	Events []domain.Event
}

// Has reports whether the selection covers the given token.
func (s Selection) Has(assetID string) bool {
	_, ok := s.Assets[assetID]
	return ok
}

// Detector is one alert-producing strategy. The engine calls Evaluate from
// the consumer loop only, so implementations keep per-asset state without
// locking. Returned alerts carry severity, message, and payload; the engine
// stamps identity and timing.
type Detector interface {
	Name() string
	Kind() domain.StrategyKind
	Evaluate(ctx context.Context, view *domain.BookView, sel Selection) ([]domain.Alert, error)
}

// displayLabel picks the friendliest name available for an instrument.
func displayLabel(view *domain.BookView) string {
	if view.Label != "" {
		return view.Label
	}
	return view.AssetID
}
