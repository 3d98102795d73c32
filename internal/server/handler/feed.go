package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// FeedController re-arms a dead feed by name or by one of its asset IDs.
type FeedController interface {
	RearmFeed(key string) error
}

// FeedHandler serves the feed recovery endpoint.
type FeedHandler struct {
	monitor FeedController
	audit   domain.AuditStore // optional
	logger  *slog.Logger
}

// NewFeedHandler creates a FeedHandler. audit may be nil.
func NewFeedHandler(monitor FeedController, audit domain.AuditStore, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{monitor: monitor, audit: audit, logger: logger}
}

// Rearm resets a dead feed's reconnect budget so the supervisor dials again.
// Re-arming a live feed is a no-op that still returns OK.
// POST /api/feeds/{name}/rearm
func (h *FeedHandler) Rearm(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing feed name")
		return
	}
	if err := h.monitor.RearmFeed(name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: rearm feed failed",
			slog.String("feed", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to rearm feed")
		return
	}
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "feed.rearm", map[string]any{"feed": name}); err != nil {
			h.logger.WarnContext(r.Context(), "audit log failed",
				slog.String("event", "feed.rearm"),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"feed": name, "status": "rearmed"})
}
