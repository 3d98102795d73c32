package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// StrategyEngine is the runtime control surface of the strategy engine:
// lifecycle, selection, and status.
type StrategyEngine interface {
	Start(kind domain.StrategyKind) error
	Stop(kind domain.StrategyKind) error
	SelectAsset(kind domain.StrategyKind, assetID, label string) error
	SelectEvent(kind domain.StrategyKind, ev domain.Event, labels map[string]string) error
	ClearSelection(kind domain.StrategyKind) error
	Status(kind domain.StrategyKind) (domain.StrategyStatus, error)
	Statuses() []domain.StrategyStatus
}

// EventCatalog resolves event selections and display labels from the
// market catalog.
type EventCatalog interface {
	Event(id string) (domain.Event, bool)
	LegLabels(eventID string) map[string]string
	LabelForToken(tokenID string) (string, bool)
}

// StrategyHandler serves strategy lifecycle and selection endpoints.
// Mutations are recorded in the audit log when a store is configured.
type StrategyHandler struct {
	engine  StrategyEngine
	catalog EventCatalog
	audit   domain.AuditStore // optional
	logger  *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. audit may be nil.
func NewStrategyHandler(engine StrategyEngine, catalog EventCatalog, audit domain.AuditStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		engine:  engine,
		catalog: catalog,
		audit:   audit,
		logger:  logger,
	}
}

type strategyStatusDTO struct {
	Name     string     `json:"name"`
	Kind     string     `json:"kind"`
	Scope    string     `json:"scope"`
	Phase    string     `json:"phase"`
	Error    string     `json:"error,omitempty"`
	AssetIDs []string   `json:"asset_ids,omitempty"`
	EventIDs []string   `json:"event_ids,omitempty"`
	RunCount int64      `json:"run_count"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

func strategyDTO(st domain.StrategyStatus) strategyStatusDTO {
	dto := strategyStatusDTO{
		Name:     st.Name,
		Kind:     string(st.Kind),
		Scope:    string(st.Scope),
		Phase:    string(st.Phase),
		Error:    st.Err,
		AssetIDs: st.AssetIDs,
		EventIDs: st.EventIDs,
		RunCount: st.RunCount,
	}
	if !st.LastRun.IsZero() {
		lastRun := st.LastRun
		dto.LastRun = &lastRun
	}
	return dto
}

// List returns the status of every registered strategy.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses := h.engine.Statuses()
	out := make([]strategyStatusDTO, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, strategyDTO(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": out,
		"count":      len(out),
	})
}

// Start moves a strategy to the running phase.
// POST /api/strategies/{kind}/start
func (h *StrategyHandler) Start(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	if err := h.engine.Start(kind); err != nil {
		h.writeEngineError(w, r, "start strategy", kind, err)
		return
	}
	h.auditLog(r.Context(), "strategy.start", map[string]any{"kind": string(kind)})
	h.respondStatus(w, kind)
}

// Stop moves a strategy to the stopped phase. Its selection survives.
// POST /api/strategies/{kind}/stop
func (h *StrategyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	if err := h.engine.Stop(kind); err != nil {
		h.writeEngineError(w, r, "stop strategy", kind, err)
		return
	}
	h.auditLog(r.Context(), "strategy.stop", map[string]any{"kind": string(kind)})
	h.respondStatus(w, kind)
}

// SelectMarketRequest is the JSON body for POST /api/strategies/{kind}/markets.
type SelectMarketRequest struct {
	AssetID string `json:"asset_id"`
	Label   string `json:"label"`
}

// SelectMarket adds one instrument to a per-market strategy's watch set.
// When no label is given the catalog's outcome label is used if known.
// POST /api/strategies/{kind}/markets
func (h *StrategyHandler) SelectMarket(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	var req SelectMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	assetID := strings.TrimSpace(req.AssetID)
	if assetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id is required")
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		if known, ok := h.catalog.LabelForToken(assetID); ok {
			label = known
		}
	}
	if err := h.engine.SelectAsset(kind, assetID, label); err != nil {
		h.writeEngineError(w, r, "select market", kind, err)
		return
	}
	h.auditLog(r.Context(), "strategy.select_market", map[string]any{
		"kind":     string(kind),
		"asset_id": assetID,
	})
	h.respondStatus(w, kind)
}

// SelectEventRequest is the JSON body for POST /api/strategies/{kind}/events.
type SelectEventRequest struct {
	EventID string `json:"event_id"`
}

// SelectEvent subscribes an event-scoped strategy to every leg of a catalog
// event. POST /api/strategies/{kind}/events
func (h *StrategyHandler) SelectEvent(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	var req SelectEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	ev, found := h.catalog.Event(eventID)
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err := h.engine.SelectEvent(kind, ev, h.catalog.LegLabels(eventID)); err != nil {
		h.writeEngineError(w, r, "select event", kind, err)
		return
	}
	h.auditLog(r.Context(), "strategy.select_event", map[string]any{
		"kind":     string(kind),
		"event_id": eventID,
		"legs":     len(ev.Legs),
	})
	h.respondStatus(w, kind)
}

// ClearSelection empties a strategy's watch set.
// DELETE /api/strategies/{kind}/selection
func (h *StrategyHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	if err := h.engine.ClearSelection(kind); err != nil {
		h.writeEngineError(w, r, "clear selection", kind, err)
		return
	}
	h.auditLog(r.Context(), "strategy.clear_selection", map[string]any{"kind": string(kind)})
	h.respondStatus(w, kind)
}

// kindParam parses the {kind} path segment. Unknown kinds are a 404: the
// path names a resource that does not exist.
func (h *StrategyHandler) kindParam(w http.ResponseWriter, r *http.Request) (domain.StrategyKind, bool) {
	raw := pathParam(r, "kind")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing strategy kind")
		return "", false
	}
	kind, err := domain.ParseStrategyKind(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func (h *StrategyHandler) respondStatus(w http.ResponseWriter, kind domain.StrategyKind) {
	st, err := h.engine.Status(kind)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, strategyDTO(st))
}

func (h *StrategyHandler) writeEngineError(w http.ResponseWriter, r *http.Request, action string, kind domain.StrategyKind, err error) {
	h.logger.WarnContext(r.Context(), "strategy request rejected",
		slog.String("action", action),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	status := http.StatusBadRequest
	if errors.Is(err, domain.ErrUnknownStrategy) {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}

// auditLog records a mutation in the audit store. Failures are logged and
// swallowed: auditing never blocks the control plane.
func (h *StrategyHandler) auditLog(ctx context.Context, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, detail); err != nil {
		h.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
