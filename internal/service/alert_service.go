// Package service contains the fan-out layer between the monitor loop and
// the outside world: alert delivery to storage, bus, and notification
// channels, and the Redis mirror of live book state for out-of-process
// readers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// AlertChannel is the pub/sub channel live alert payloads go out on.
	AlertChannel = "alerts"

	// AlertStream is the capped Redis stream that keeps a replayable alert
	// trail for consumers that were offline when the alert fired.
	AlertStream = "alerts:stream"
)

// Notifier pushes one alert to external channels. *notify.Notifier
// implements it.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// AlertService drains the engine's alert channel and fans each alert out to
// the configured sinks. The buffered channel is the only coupling to the
// monitor loop; slow sinks cost dropped deliveries there, never blocked
// ticks here.
type AlertService struct {
	alerts   <-chan domain.Alert
	store    domain.AlertStore // nil without Postgres
	bus      domain.SignalBus
	notifier Notifier // nil without notification channels
	logger   *slog.Logger
}

// NewAlertService wires the alert fan-out. store and notifier are optional;
// the bus is not.
func NewAlertService(
	alerts <-chan domain.Alert,
	store domain.AlertStore,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *AlertService {
	return &AlertService{
		alerts:   alerts,
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_service")),
	}
}

// Run consumes alerts until ctx is cancelled. Sink failures are logged and
// swallowed: one broken sink must not cost the others their delivery.
func (s *AlertService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert := <-s.alerts:
			s.handle(ctx, alert)
		}
	}
}

// Persistent reports whether alert history survives restarts.
func (s *AlertService) Persistent() bool {
	return s.store != nil
}

// History returns persisted alerts, newest first.
func (s *AlertService) History(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error) {
	if s.store == nil {
		return nil, fmt.Errorf("service: alert history: no store configured: %w", domain.ErrNotFound)
	}
	alerts, err := s.store.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: alert history: %w", err)
	}
	return alerts, nil
}

// HistoryBySeverity returns persisted alerts at or above min, newest first.
func (s *AlertService) HistoryBySeverity(ctx context.Context, min domain.Severity, opts domain.ListOpts) ([]domain.Alert, error) {
	if s.store == nil {
		return nil, fmt.Errorf("service: alert history: no store configured: %w", domain.ErrNotFound)
	}
	alerts, err := s.store.ListBySeverity(ctx, min, opts)
	if err != nil {
		return nil, fmt.Errorf("service: alert history by severity: %w", err)
	}
	return alerts, nil
}

// Replay returns journaled alert payloads appended after the given stream
// ID, oldest first, each with the ID a consumer resumes from. "" and "0"
// both mean the start of the stream.
func (s *AlertService) Replay(ctx context.Context, after string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("service: alert replay: no bus configured: %w", domain.ErrNotFound)
	}
	if after == "" {
		after = "0"
	}
	msgs, err := s.bus.StreamRead(ctx, AlertStream, after, count)
	if err != nil {
		return nil, fmt.Errorf("service: alert replay: %w", err)
	}
	return msgs, nil
}

// Prune deletes persisted alerts created before the cutoff and returns how
// many rows went away.
func (s *AlertService) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	n, err := s.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("service: prune alerts: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "pruned alert history",
			slog.Int64("deleted", n),
			slog.Time("before", before),
		)
	}
	return n, nil
}

func (s *AlertService) handle(ctx context.Context, alert domain.Alert) {
	if s.store != nil {
		if err := s.store.Insert(ctx, alert); err != nil {
			s.logger.WarnContext(ctx, "alert insert failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":      "alert",
			"id":         alert.ID,
			"strategy":   alert.Strategy,
			"kind":       string(alert.Kind),
			"severity":   alert.Severity.String(),
			"message":    alert.Message,
			"asset_ids":  alert.AssetIDs,
			"event_id":   alert.EventID,
			"data":       alert.Data,
			"created_at": alert.CreatedAt.Format(time.RFC3339Nano),
		})
		if err := s.bus.Publish(ctx, AlertChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "alert publish failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, AlertStream, payload); err != nil {
			s.logger.WarnContext(ctx, "alert stream append failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.logger.WarnContext(ctx, "alert notification failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
