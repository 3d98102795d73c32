package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// AlertHistory is the alert query surface of the service layer: persistent
// history when Postgres is wired, and the bus journal for stream replay.
type AlertHistory interface {
	Persistent() bool
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Alert, error)
	HistoryBySeverity(ctx context.Context, min domain.Severity, opts domain.ListOpts) ([]domain.Alert, error)
	Replay(ctx context.Context, after string, count int) ([]domain.StreamMessage, error)
}

// AlertMemory is the engine's in-memory recent-alert surface, used when no
// store is configured or when the caller asks for one strategy's ring.
type AlertMemory interface {
	Kinds() []domain.StrategyKind
	RecentAlerts(kind domain.StrategyKind, limit int) []domain.Alert
}

// AlertHandler serves alert history: store-backed when Postgres is wired,
// otherwise the engine's in-memory rings.
type AlertHandler struct {
	history AlertHistory
	memory  AlertMemory
	logger  *slog.Logger
}

// NewAlertHandler creates an AlertHandler with the given sources and logger.
func NewAlertHandler(history AlertHistory, memory AlertMemory, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		history: history,
		memory:  memory,
		logger:  logger,
	}
}

type alertDTO struct {
	ID        string            `json:"id"`
	Strategy  string            `json:"strategy"`
	Kind      string            `json:"kind"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	AssetIDs  []string          `json:"asset_ids,omitempty"`
	EventID   string            `json:"event_id,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type listAlertsResponse struct {
	Alerts []alertDTO `json:"alerts"`
	Count  int        `json:"count"`
	Source string     `json:"source"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// ListAlerts returns recent alerts, newest first. With ?kind= it reads one
// strategy's in-memory ring; otherwise it prefers the store and falls back
// to merging the rings. ?severity= filters to that severity or above.
// GET /api/alerts?kind=arbitrage&severity=high&limit=50&offset=0
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var minSeverity domain.Severity
	severitySet := false
	if v := q.Get("severity"); v != "" {
		sev, err := domain.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minSeverity = sev
		severitySet = true
	}

	if v := q.Get("kind"); v != "" {
		kind, err := domain.ParseStrategyKind(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		alerts := h.memory.RecentAlerts(kind, opts.Limit)
		if severitySet {
			alerts = filterBySeverity(alerts, minSeverity)
		}
		h.respond(w, alerts, "memory", opts)
		return
	}

	if h.history != nil && h.history.Persistent() {
		var alerts []domain.Alert
		var err error
		if severitySet {
			alerts, err = h.history.HistoryBySeverity(r.Context(), minSeverity, opts)
		} else {
			alerts, err = h.history.History(r.Context(), opts)
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: alert history failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list alerts")
			return
		}
		h.respond(w, alerts, "store", opts)
		return
	}

	// No store: merge every strategy's ring and sort newest first.
	var merged []domain.Alert
	for _, kind := range h.memory.Kinds() {
		merged = append(merged, h.memory.RecentAlerts(kind, opts.Limit)...)
	}
	if severitySet {
		merged = filterBySeverity(merged, minSeverity)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if opts.Limit > 0 && len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	h.respond(w, merged, "memory", opts)
}

type replayEntryDTO struct {
	StreamID string          `json:"stream_id"`
	Alert    json.RawMessage `json:"alert"`
}

type replayAlertsResponse struct {
	Entries []replayEntryDTO `json:"entries"`
	Count   int              `json:"count"`
	NextID  string           `json:"next_id,omitempty"`
}

// ReplayAlerts returns journaled alert payloads from the bus stream, oldest
// first. ?after= is the last stream ID the caller has seen; the response's
// next_id feeds the next call. The journal is capped, so consumers that fall
// too far behind should switch to the history endpoint.
// GET /api/alerts/replay?after=1718000000000-0&limit=100
func (h *AlertHandler) ReplayAlerts(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "alert replay requires the redis bus")
		return
	}
	opts := parseListOpts(r)

	msgs, err := h.history.Replay(r.Context(), r.URL.Query().Get("after"), opts.Limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotImplemented, "alert replay requires the redis bus")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: alert replay failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to replay alerts")
		return
	}

	entries := make([]replayEntryDTO, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, replayEntryDTO{StreamID: m.ID, Alert: json.RawMessage(m.Payload)})
	}
	resp := replayAlertsResponse{Entries: entries, Count: len(entries)}
	if len(msgs) > 0 {
		resp.NextID = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AlertHandler) respond(w http.ResponseWriter, alerts []domain.Alert, source string, opts domain.ListOpts) {
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertDTO{
			ID:        a.ID,
			Strategy:  a.Strategy,
			Kind:      string(a.Kind),
			Severity:  a.Severity.String(),
			Message:   a.Message,
			AssetIDs:  a.AssetIDs,
			EventID:   a.EventID,
			Data:      a.Data,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listAlertsResponse{
		Alerts: out,
		Count:  len(out),
		Source: source,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func filterBySeverity(alerts []domain.Alert, min domain.Severity) []domain.Alert {
	out := alerts[:0:0]
	for _, a := range alerts {
		if a.Severity >= min {
			out = append(out, a)
		}
	}
	return out
}
