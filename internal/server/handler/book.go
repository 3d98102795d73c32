package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// BookSource supplies the monitor's published read-models.
type BookSource interface {
	Views() []*domain.BookView
	View(assetID string) (*domain.BookView, bool)
	Chart(assetID string) (*domain.ChartView, bool)
}

// BookHandler serves the live order-book views. Assets this instance does not
// track itself resolve through the Redis book mirror, where a sibling
// instance may have written them.
type BookHandler struct {
	books  BookSource
	mirror domain.OrderbookCache // nil without Redis
}

// NewBookHandler creates a BookHandler backed by the given source and mirror.
func NewBookHandler(books BookSource, mirror domain.OrderbookCache) *BookHandler {
	return &BookHandler{books: books, mirror: mirror}
}

type bookLevelDTO struct {
	Price     float64    `json:"price"`
	Size      float64    `json:"size"`
	Change    string     `json:"change,omitempty"`
	ChangedAt *time.Time `json:"changed_at,omitempty"`
}

type depthPointDTO struct {
	Price float64 `json:"price"`
	Depth float64 `json:"depth"`
	Side  string  `json:"side"`
}

type pricePointDTO struct {
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}

type bookSummaryDTO struct {
	AssetID     string    `json:"asset_id"`
	Label       string    `json:"label,omitempty"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	Spread      float64   `json:"spread"`
	WeightedMid float64   `json:"weighted_mid"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     uint64    `json:"version"`
}

type bookResponse struct {
	bookSummaryDTO
	TickSize  float64         `json:"tick_size"`
	LastTrade float64         `json:"last_trade,omitempty"`
	LastSize  float64         `json:"last_size,omitempty"`
	Bids      []bookLevelDTO  `json:"bids"`
	Asks      []bookLevelDTO  `json:"asks"`
	Depth     []depthPointDTO `json:"depth,omitempty"`
	History   []pricePointDTO `json:"history,omitempty"`
	PriceLo   float64         `json:"price_lo,omitempty"`
	PriceHi   float64         `json:"price_hi,omitempty"`
}

// ListBooks returns a compact summary of every tracked book.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	views := h.books.Views()

	out := make([]bookSummaryDTO, 0, len(views))
	for _, v := range views {
		out = append(out, summarize(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"books": out,
		"count": len(out),
	})
}

// GetBook returns the full view of one book: levels with highlight state,
// the cumulative depth curve, and the midpoint history.
// GET /api/books/{asset}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	asset := pathParam(r, "asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "missing asset id")
		return
	}

	view, ok := h.books.View(asset)
	if !ok {
		h.mirroredBook(w, r, asset)
		return
	}

	resp := bookResponse{
		bookSummaryDTO: summarize(view),
		TickSize:       view.TickSize,
		LastTrade:      view.LastTrade,
		LastSize:       view.LastSize,
		Bids:           levelDTOs(view.Bids),
		Asks:           levelDTOs(view.Asks),
	}

	if chart, ok := h.books.Chart(asset); ok {
		resp.Depth = make([]depthPointDTO, 0, len(chart.Depth))
		for _, d := range chart.Depth {
			resp.Depth = append(resp.Depth, depthPointDTO{
				Price: d.Price,
				Depth: d.Depth,
				Side:  d.Side.String(),
			})
		}
		resp.History = make([]pricePointDTO, 0, len(chart.History))
		for _, p := range chart.History {
			resp.History = append(resp.History, pricePointDTO{At: p.At, Price: p.Price})
		}
		resp.PriceLo = chart.PriceLo
		resp.PriceHi = chart.PriceHi
	}

	writeJSON(w, http.StatusOK, resp)
}

// mirroredBook answers from the Redis book mirror. Mirrored levels carry no
// highlight state and no chart data; the instance that owns the book serves
// those.
func (h *BookHandler) mirroredBook(w http.ResponseWriter, r *http.Request, asset string) {
	if h.mirror == nil {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}

	snap, err := h.mirror.GetSnapshot(r.Context(), asset)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "book lookup failed")
		return
	}

	resp := bookResponse{
		bookSummaryDTO: bookSummaryDTO{
			AssetID:     snap.AssetID,
			BestBid:     snap.BestBid,
			BestAsk:     snap.BestAsk,
			Spread:      spreadOf(snap.BestBid, snap.BestAsk),
			WeightedMid: snap.MidPrice,
			Source:      "mirror",
			UpdatedAt:   snap.Timestamp,
		},
		Bids: plainLevelDTOs(snap.Bids),
		Asks: plainLevelDTOs(snap.Asks),
	}
	writeJSON(w, http.StatusOK, resp)
}

type quoteResponse struct {
	AssetID string     `json:"asset_id"`
	BestBid float64    `json:"best_bid"`
	BestAsk float64    `json:"best_ask"`
	Spread  float64    `json:"spread"`
	Source  string     `json:"source"`
	At      *time.Time `json:"at,omitempty"`
}

// GetQuote returns just the best bid and ask of one book, for pollers that do
// not need the level data. Untracked assets resolve through the mirror.
// GET /api/books/{asset}/bbo
func (h *BookHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	asset := pathParam(r, "asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "missing asset id")
		return
	}

	if view, ok := h.books.View(asset); ok {
		at := view.UpdatedAt
		writeJSON(w, http.StatusOK, quoteResponse{
			AssetID: view.AssetID,
			BestBid: view.BestBid,
			BestAsk: view.BestAsk,
			Spread:  view.Spread,
			Source:  view.Source,
			At:      &at,
		})
		return
	}

	if h.mirror == nil {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	bid, ask, err := h.mirror.GetBBO(r.Context(), asset)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "book lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		AssetID: asset,
		BestBid: bid,
		BestAsk: ask,
		Spread:  spreadOf(bid, ask),
		Source:  "mirror",
	})
}

func spreadOf(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask - bid
}

func summarize(v *domain.BookView) bookSummaryDTO {
	return bookSummaryDTO{
		AssetID:     v.AssetID,
		Label:       v.Label,
		BestBid:     v.BestBid,
		BestAsk:     v.BestAsk,
		Spread:      v.Spread,
		WeightedMid: v.WeightedMid,
		Source:      v.Source,
		UpdatedAt:   v.UpdatedAt,
		Version:     v.Version,
	}
}

func levelDTOs(levels []domain.BookLevel) []bookLevelDTO {
	out := make([]bookLevelDTO, 0, len(levels))
	for _, l := range levels {
		dto := bookLevelDTO{Price: l.Price, Size: l.Size}
		if l.Change != domain.ChangeNone {
			dto.Change = l.Change.String()
			if !l.ChangedAt.IsZero() {
				at := l.ChangedAt
				dto.ChangedAt = &at
			}
		}
		out = append(out, dto)
	}
	return out
}

func plainLevelDTOs(levels []domain.PriceLevel) []bookLevelDTO {
	out := make([]bookLevelDTO, 0, len(levels))
	for _, l := range levels {
		out = append(out, bookLevelDTO{Price: l.Price, Size: l.Size})
	}
	return out
}
