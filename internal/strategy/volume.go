package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// volumeWarnThreshold is the total resting size, summed over both
	// displayed sides, above which a market is flagged.
	volumeWarnThreshold = 10_000.0

	// volumeSevereThreshold upgrades the flag to high severity.
	volumeSevereThreshold = 50_000.0
)

// VolumeSpike flags books carrying unusually heavy resting size. Sudden
// stacking of the visible depth often marks positioning ahead of news.
type VolumeSpike struct {
	logger *slog.Logger
}

// NewVolumeSpike creates a VolumeSpike detector.
func NewVolumeSpike(logger *slog.Logger) *VolumeSpike {
	return &VolumeSpike{logger: logger.With(slog.String("strategy", "volume_spike"))}
}

// Name returns the strategy identifier.
func (v *VolumeSpike) Name() string { return "volume_spike" }

// Kind returns the strategy kind.
func (v *VolumeSpike) Kind() domain.StrategyKind { return domain.StrategyVolumeSpike }

// Evaluate sums the displayed size on both sides and checks it against the
// spike thresholds.
func (v *VolumeSpike) Evaluate(_ context.Context, view *domain.BookView, _ Selection) ([]domain.Alert, error) {
	var bidSize, askSize float64
	for _, l := range view.Bids {
		bidSize += l.Size
	}
	for _, l := range view.Asks {
		askSize += l.Size
	}
	total := bidSize + askSize

	var severity domain.Severity
	switch {
	case total > volumeSevereThreshold:
		severity = domain.SeverityHigh
	case total > volumeWarnThreshold:
		severity = domain.SeverityMedium
	default:
		return nil, nil
	}

	return []domain.Alert{{
		Severity: severity,
		Message: fmt.Sprintf("%s: %.0f resting across %d levels",
			displayLabel(view), total, len(view.Bids)+len(view.Asks)),
		AssetIDs: []string{view.AssetID},
		Data: map[string]string{
			"total_size": fmt.Sprintf("%.2f", total),
			"bid_size":   fmt.Sprintf("%.2f", bidSize),
			"ask_size":   fmt.Sprintf("%.2f", askSize),
			"levels":     strconv.Itoa(len(view.Bids) + len(view.Asks)),
		},
	}}, nil
}
