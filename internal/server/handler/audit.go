package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// AuditHandler serves the operational audit trail (feed re-arms, strategy
// lifecycle changes, archive runs). Returns 501 when Postgres is disabled.
type AuditHandler struct {
	store  domain.AuditStore // nil without Postgres
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. store may be nil.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

type auditEntryDTO struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns audit entries newest first. ?event= filters by dotted prefix,
// so event=feed. selects the feed subsystem's trail.
// GET /api/audit?event=feed.&limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}

	opts := parseListOpts(r)
	prefix := r.URL.Query().Get("event")

	entries, err := h.store.List(r.Context(), prefix, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := make([]auditEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryDTO{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
		"event":   prefix,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
