package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// arbSevereEdge splits medium from high severity on the size of the parity
// gap.
const arbSevereEdge = 0.10

// legQuote is the cached top-of-book for one event leg. Quotes are copies,
// never live view pointers, so a stale leg keeps its last observed prices.
type legQuote struct {
	bestBid float64
	bestAsk float64
	at      time.Time
}

// Arbitrage watches every leg of the selected events and flags states where
// the outcome prices sum below parity. In a complete event exactly one leg
// resolves to 1, so a leg-price sum under 1.0 is free edge: on the bid side
// it means the market collectively undervalues the outcomes, on the ask side
// it means the full basket can be bought for less than its settlement value.
// Both sides are checked independently on every leg update.
type Arbitrage struct {
	quotes map[string]legQuote
	logger *slog.Logger
}

// NewArbitrage creates an Arbitrage detector with an empty quote cache.
func NewArbitrage(logger *slog.Logger) *Arbitrage {
	return &Arbitrage{
		quotes: make(map[string]legQuote),
		logger: logger.With(slog.String("strategy", "arbitrage")),
	}
}

// Name returns the strategy identifier.
func (a *Arbitrage) Name() string { return "arbitrage" }

// Kind returns the strategy kind.
func (a *Arbitrage) Kind() domain.StrategyKind { return domain.StrategyArbitrage }

// Evaluate refreshes the quote cache for the updated leg and re-checks every
// selected event containing it. Events with any leg still unquoted are
// skipped; a partial basket cannot be priced.
func (a *Arbitrage) Evaluate(_ context.Context, view *domain.BookView, sel Selection) ([]domain.Alert, error) {
	a.quotes[view.AssetID] = legQuote{
		bestBid: view.BestBid,
		bestAsk: view.BestAsk,
		at:      view.UpdatedAt,
	}

	var alerts []domain.Alert
	for _, ev := range sel.Events {
		if !containsLeg(ev.Legs, view.AssetID) {
			continue
		}
		if alert, ok := a.checkEvent(ev, domain.SideBid); ok {
			alerts = append(alerts, alert)
		}
		if alert, ok := a.checkEvent(ev, domain.SideAsk); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

// checkEvent sums one side's best prices across all legs and builds an alert
// when the sum lands below parity. ok is false when the event is unpriceable
// or fairly priced.
func (a *Arbitrage) checkEvent(ev domain.Event, side domain.BookSide) (domain.Alert, bool) {
	// A single-leg "event" sums below 1.0 almost by definition.
	if len(ev.Legs) < 2 {
		return domain.Alert{}, false
	}

	sum := 0.0
	for _, leg := range ev.Legs {
		quote, ok := a.quotes[leg]
		if !ok {
			return domain.Alert{}, false
		}
		price := quote.bestBid
		if side == domain.SideAsk {
			price = quote.bestAsk
		}
		if price <= 0 {
			// One-sided book on this leg; the basket cannot be priced.
			return domain.Alert{}, false
		}
		sum += price
	}
	if sum >= 1.0 {
		return domain.Alert{}, false
	}

	edge := 1.0 - sum
	severity := domain.SeverityMedium
	if edge > arbSevereEdge {
		severity = domain.SeverityHigh
	}

	a.logger.Debug("parity gap detected",
		slog.String("event", ev.ID),
		slog.String("side", side.String()),
		slog.Float64("sum", sum),
		slog.Float64("edge", edge),
	)

	return domain.Alert{
		Severity: severity,
		Message: fmt.Sprintf("%s: %s prices sum to %.4f across %d legs, %.4f below parity",
			ev.Title, side, sum, len(ev.Legs), edge),
		AssetIDs: append([]string(nil), ev.Legs...),
		EventID:  ev.ID,
		Data: map[string]string{
			"side":        side.String(),
			"price_sum":   fmt.Sprintf("%.6f", sum),
			"opportunity": fmt.Sprintf("%.6f", edge),
			"legs":        strconv.Itoa(len(ev.Legs)),
		},
	}, true
}

func containsLeg(legs []string, assetID string) bool {
	for _, leg := range legs {
		if leg == assetID {
			return true
		}
	}
	return false
}
