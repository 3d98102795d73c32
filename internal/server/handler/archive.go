package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// ArchiveHandler lists archived JSONL objects so operators can verify
// uploads without an S3 console. Returns 501 when archival is disabled.
type ArchiveHandler struct {
	reader domain.BlobReader // nil when archival is disabled
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. reader may be nil.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logger}
}

type archiveObjectDTO struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns archived objects under a prefix, e.g. ?prefix=alerts/2025/06.
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "archival not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	objects, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	out := make([]archiveObjectDTO, 0, len(objects))
	for _, obj := range objects {
		out = append(out, archiveObjectDTO{
			Path:         obj.Path,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": out,
		"count":   len(out),
		"prefix":  prefix,
	})
}
