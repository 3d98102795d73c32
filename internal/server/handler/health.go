package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// probeTimeout bounds each dependency probe so a hung backend cannot stall
// the health endpoint.
const probeTimeout = 2 * time.Second

// HealthHandler serves the health-check endpoint, probing each wired
// infrastructure dependency on demand.
type HealthHandler struct {
	logger *slog.Logger
	probes map[string]func(ctx context.Context) error
}

// NewHealthHandler creates a HealthHandler. probes maps dependency names
// ("redis", "postgres", "s3") to their connectivity checks; it may be nil.
func NewHealthHandler(logger *slog.Logger, probes map[string]func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{logger: logger, probes: probes}
}

// HealthCheck reports service liveness plus per-dependency status. A failing
// dependency flips status to "degraded" but keeps the 200 code; the process
// itself is alive, and evicting it would not fix the backend.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(h.probes))

	for name, probe := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			checks[name] = err.Error()
			h.logger.WarnContext(r.Context(), "handler: health probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
