package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// spreadWarnThreshold is the bid/ask spread above which a market is
	// flagged as unusually wide.
	spreadWarnThreshold = 0.10

	// spreadSevereThreshold upgrades the flag to high severity.
	spreadSevereThreshold = 0.20
)

// PriceAnomaly flags markets whose bid/ask spread has blown out. Wide spreads
// on a liquid market usually mean makers have pulled quotes, which tends to
// precede a repricing.
type PriceAnomaly struct {
	logger *slog.Logger
}

// NewPriceAnomaly creates a PriceAnomaly detector.
func NewPriceAnomaly(logger *slog.Logger) *PriceAnomaly {
	return &PriceAnomaly{logger: logger.With(slog.String("strategy", "price_anomaly"))}
}

// Name returns the strategy identifier.
func (p *PriceAnomaly) Name() string { return "price_anomaly" }

// Kind returns the strategy kind.
func (p *PriceAnomaly) Kind() domain.StrategyKind { return domain.StrategyPriceAnomaly }

// Evaluate checks the view's spread against the anomaly thresholds. A book
// missing either side has no spread and is skipped.
func (p *PriceAnomaly) Evaluate(_ context.Context, view *domain.BookView, _ Selection) ([]domain.Alert, error) {
	if len(view.Bids) == 0 || len(view.Asks) == 0 {
		return nil, nil
	}

	spread := view.Spread
	var severity domain.Severity
	switch {
	case spread > spreadSevereThreshold:
		severity = domain.SeverityHigh
	case spread > spreadWarnThreshold:
		severity = domain.SeverityMedium
	default:
		return nil, nil
	}

	return []domain.Alert{{
		Severity: severity,
		Message: fmt.Sprintf("%s: spread %.4f (bid %.4f / ask %.4f)",
			displayLabel(view), spread, view.BestBid, view.BestAsk),
		AssetIDs: []string{view.AssetID},
		Data: map[string]string{
			"spread":   fmt.Sprintf("%.6f", spread),
			"best_bid": fmt.Sprintf("%.6f", view.BestBid),
			"best_ask": fmt.Sprintf("%.6f", view.BestAsk),
		},
	}}, nil
}
