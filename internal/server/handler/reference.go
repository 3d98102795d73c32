package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// ReferenceQuotes is the reference-price surface of the service layer: live
// samples held in memory plus the Redis mirror written by sibling instances.
type ReferenceQuotes interface {
	Symbols() []string
	History(symbol string) []domain.PricePoint
	CachedMid(ctx context.Context, symbol string) (float64, time.Time, error)
	CachedMids(ctx context.Context, symbols []string) (map[string]float64, error)
}

// ReferenceHandler serves the crypto reference quotes backing the
// classifier-tagged markets.
type ReferenceHandler struct {
	quotes ReferenceQuotes
	tags   []string // classifier tags across the watched markets
	logger *slog.Logger
}

// NewReferenceHandler creates a ReferenceHandler. tags lists the symbols the
// watch selection implies, so mirrored quotes surface even when this
// instance runs without the reference feed.
func NewReferenceHandler(quotes ReferenceQuotes, tags []string, logger *slog.Logger) *ReferenceHandler {
	return &ReferenceHandler{quotes: quotes, tags: tags, logger: logger}
}

type referenceEntryDTO struct {
	Symbol string     `json:"symbol"`
	Mid    float64    `json:"mid"`
	At     *time.Time `json:"at,omitempty"`
	Points int        `json:"points,omitempty"`
	Source string     `json:"source"`
}

type listReferenceResponse struct {
	Symbols []referenceEntryDTO `json:"symbols"`
	Count   int                 `json:"count"`
}

// List returns the latest reference mid per tracked symbol. Watched tags
// with no live samples on this instance resolve through the cache mirror.
// GET /api/reference
func (h *ReferenceHandler) List(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]struct{})
	entries := make([]referenceEntryDTO, 0)
	for _, sym := range h.quotes.Symbols() {
		seen[sym] = struct{}{}
		pts := h.quotes.History(sym)
		if len(pts) == 0 {
			continue
		}
		last := pts[len(pts)-1]
		at := last.At
		entries = append(entries, referenceEntryDTO{
			Symbol: sym,
			Mid:    last.Price,
			At:     &at,
			Points: len(pts),
			Source: "feed",
		})
	}

	var missing []string
	for _, tag := range h.tags {
		tag = strings.ToLower(tag)
		if _, ok := seen[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		cached, err := h.quotes.CachedMids(r.Context(), missing)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: cached reference mids failed",
				slog.String("error", err.Error()),
			)
		}
		for _, sym := range missing {
			if mid, ok := cached[sym]; ok {
				entries = append(entries, referenceEntryDTO{Symbol: sym, Mid: mid, Source: "mirror"})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })
	writeJSON(w, http.StatusOK, listReferenceResponse{Symbols: entries, Count: len(entries)})
}

type referenceHistoryResponse struct {
	Symbol string          `json:"symbol"`
	Mid    float64         `json:"mid"`
	At     time.Time       `json:"at"`
	Source string          `json:"source"`
	Points []pricePointDTO `json:"points,omitempty"`
}

// GetSymbol returns the sample history for one reference symbol, or just the
// mirrored mid when this instance has no live feed for it.
// GET /api/reference/{symbol}
func (h *ReferenceHandler) GetSymbol(w http.ResponseWriter, r *http.Request) {
	sym := strings.ToLower(pathParam(r, "symbol"))

	if pts := h.quotes.History(sym); len(pts) > 0 {
		out := make([]pricePointDTO, 0, len(pts))
		for _, p := range pts {
			out = append(out, pricePointDTO{At: p.At, Price: p.Price})
		}
		last := pts[len(pts)-1]
		writeJSON(w, http.StatusOK, referenceHistoryResponse{
			Symbol: sym,
			Mid:    last.Price,
			At:     last.At,
			Source: "feed",
			Points: out,
		})
		return
	}

	mid, at, err := h.quotes.CachedMid(r.Context(), sym)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, referenceHistoryResponse{
			Symbol: sym,
			Mid:    mid,
			At:     at,
			Source: "mirror",
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown reference symbol")
	default:
		h.logger.ErrorContext(r.Context(), "handler: reference lookup failed",
			slog.String("symbol", sym),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "reference lookup failed")
	}
}
