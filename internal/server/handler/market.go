package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// MarketCatalog defines the methods the market handler requires from the
// catalog. It is declared locally so the handler package does not depend on
// the concrete catalog implementation.
type MarketCatalog interface {
	Markets() []domain.Market
	Market(id string) (domain.Market, bool)
	MarketForToken(tokenID string) (domain.Market, bool)
	Counts() (events, markets int)
	LoadedAt() time.Time
}

// MarketResolver fetches a single market from the upstream API, the last
// resort when neither the catalog nor the mirror knows an instrument.
type MarketResolver interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error)
}

// MarketHandler serves the market metadata known to the catalog. Single
// lookups fall back to the Redis mirror, which a sibling instance may have
// refreshed more recently than the local crawl, and finally to a direct
// Gamma fetch.
type MarketHandler struct {
	catalog  MarketCatalog
	mirror   domain.MarketCache // nil without Redis
	resolver MarketResolver     // nil disables the upstream fallback
}

// NewMarketHandler creates a MarketHandler with the given catalog, optional
// cache mirror, and optional upstream resolver.
func NewMarketHandler(catalog MarketCatalog, mirror domain.MarketCache, resolver MarketResolver) *MarketHandler {
	return &MarketHandler{catalog: catalog, mirror: mirror, resolver: resolver}
}

type marketDTO struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Slug     string    `json:"slug,omitempty"`
	EventID  string    `json:"event_id,omitempty"`
	Outcomes [2]string `json:"outcomes"`
	TokenIDs [2]string `json:"token_ids"`
	NegRisk  bool      `json:"neg_risk,omitempty"`
	Volume   float64   `json:"volume"`
	Tags     []string  `json:"tags,omitempty"`
	Status   string    `json:"status"`
}

func toMarketDTO(m domain.Market) marketDTO {
	return marketDTO{
		ID:       m.ID,
		Question: m.Question,
		Slug:     m.Slug,
		EventID:  m.EventID,
		Outcomes: m.Outcomes,
		TokenIDs: m.TokenIDs,
		NegRisk:  m.NegRisk,
		Volume:   m.Volume,
		Tags:     m.Tags,
		Status:   string(m.Status),
	}
}

type listMarketsResponse struct {
	Markets  []marketDTO `json:"markets"`
	Total    int         `json:"total"`
	Events   int         `json:"events"`
	LoadedAt time.Time   `json:"loaded_at"`
	Limit    int         `json:"limit"`
	Offset   int         `json:"offset"`
}

// ListMarkets returns the catalog's markets with pagination. The catalog is
// an in-memory snapshot, so paging is applied to the sorted slice directly.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets := h.catalog.Markets()
	total := len(markets)

	lo := opts.Offset
	if lo > total {
		lo = total
	}
	hi := lo + opts.Limit
	if hi > total {
		hi = total
	}
	page := markets[lo:hi]

	out := make([]marketDTO, 0, len(page))
	for _, m := range page {
		out = append(out, toMarketDTO(m))
	}

	events, _ := h.catalog.Counts()
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets:  out,
		Total:    total,
		Events:   events,
		LoadedAt: h.catalog.LoadedAt(),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

type getMarketResponse struct {
	Market marketDTO `json:"market"`
	Source string    `json:"source"`
}

// GetMarket resolves one market by its ID or by either of its outcome token
// IDs. When the local catalog does not know the instrument, the Redis mirror
// is consulted, then the upstream API, before giving up.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market or token id")
		return
	}

	if m, ok := h.catalog.Market(id); ok {
		writeJSON(w, http.StatusOK, getMarketResponse{Market: toMarketDTO(m), Source: "catalog"})
		return
	}
	if m, ok := h.catalog.MarketForToken(id); ok {
		writeJSON(w, http.StatusOK, getMarketResponse{Market: toMarketDTO(m), Source: "catalog"})
		return
	}

	if h.mirror != nil {
		m, err := h.mirror.Get(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			m, err = h.mirror.GetByToken(r.Context(), id)
		}
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, getMarketResponse{Market: toMarketDTO(m), Source: "mirror"})
			return
		case !errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusInternalServerError, "market lookup failed")
			return
		}
	}

	if h.resolver != nil {
		m, err := h.resolver.GetMarket(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			m, err = h.resolver.GetMarketByToken(r.Context(), id)
		}
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, getMarketResponse{Market: toMarketDTO(m), Source: "gamma"})
			return
		case !errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusBadGateway, "upstream market lookup failed")
			return
		}
	}

	writeError(w, http.StatusNotFound, "unknown market or token")
}
