package strategy

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// Correlation is the reserved slot for cross-market lead/lag detection. It
// accepts multi-market selections and participates in run accounting, but
// emits no alerts yet.
//
// TODO: correlate midpoint series across the selected markets once the
// history buffers are exposed to detectors.
type Correlation struct {
	logger *slog.Logger
}

// NewCorrelation creates a Correlation detector.
func NewCorrelation(logger *slog.Logger) *Correlation {
	return &Correlation{logger: logger.With(slog.String("strategy", "correlation"))}
}

// Name returns the strategy identifier.
func (c *Correlation) Name() string { return "correlation" }

// Kind returns the strategy kind.
func (c *Correlation) Kind() domain.StrategyKind { return domain.StrategyCorrelation }

// Evaluate is a no-op pending the correlation model.
func (c *Correlation) Evaluate(_ context.Context, _ *domain.BookView, _ Selection) ([]domain.Alert, error) {
	return nil, nil
}
