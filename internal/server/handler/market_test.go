package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

type stubCatalog struct {
	markets  []domain.Market
	events   int
	loadedAt time.Time
}

func (s *stubCatalog) Markets() []domain.Market      { return s.markets }
func (s *stubCatalog) Counts() (events, markets int) { return s.events, len(s.markets) }
func (s *stubCatalog) LoadedAt() time.Time           { return s.loadedAt }

func (s *stubCatalog) Market(id string) (domain.Market, bool) {
	for _, m := range s.markets {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Market{}, false
}

func (s *stubCatalog) MarketForToken(tokenID string) (domain.Market, bool) {
	for _, m := range s.markets {
		if m.TokenIDs[0] == tokenID || m.TokenIDs[1] == tokenID {
			return m, true
		}
	}
	return domain.Market{}, false
}

func testMarkets(n int) []domain.Market {
	out := make([]domain.Market, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Market{
			ID:       fmt.Sprintf("m-%d", i),
			Question: fmt.Sprintf("Question %d?", i),
			EventID:  "ev-1",
			Outcomes: [2]string{"Yes", "No"},
			TokenIDs: [2]string{fmt.Sprintf("tok-%d-yes", i), fmt.Sprintf("tok-%d-no", i)},
			Volume:   float64(1000 * (i + 1)),
			Status:   domain.MarketStatusActive,
		})
	}
	return out
}

func TestListMarkets(t *testing.T) {
	loaded := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cat := &stubCatalog{markets: testMarkets(5), events: 2, loadedAt: loaded}
	h := NewMarketHandler(cat, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 2, resp.Events)
	assert.Equal(t, loaded, resp.LoadedAt.UTC())
	require.Len(t, resp.Markets, 5)
	assert.Equal(t, "m-0", resp.Markets[0].ID)
	assert.Equal(t, [2]string{"Yes", "No"}, resp.Markets[0].Outcomes)
	assert.Equal(t, "active", resp.Markets[0].Status)
}

func TestListMarketsPaging(t *testing.T) {
	cat := &stubCatalog{markets: testMarkets(5)}
	h := NewMarketHandler(cat, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=2&offset=2", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Total)
	require.Len(t, resp.Markets, 2)
	assert.Equal(t, "m-2", resp.Markets[0].ID)
	assert.Equal(t, "m-3", resp.Markets[1].ID)
}

func TestListMarketsOffsetPastEnd(t *testing.T) {
	cat := &stubCatalog{markets: testMarkets(3)}
	h := NewMarketHandler(cat, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/markets?offset=10", nil)
	rec := httptest.NewRecorder()
	h.ListMarkets(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Empty(t, resp.Markets)
}

type stubMirror struct {
	byID    map[string]domain.Market
	byToken map[string]domain.Market
	err     error
}

func (s *stubMirror) SetAll(_ context.Context, _ []domain.Market) error { return nil }

func (s *stubMirror) Get(_ context.Context, id string) (domain.Market, error) {
	if s.err != nil {
		return domain.Market{}, s.err
	}
	if m, ok := s.byID[id]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *stubMirror) GetByToken(_ context.Context, tok string) (domain.Market, error) {
	if s.err != nil {
		return domain.Market{}, s.err
	}
	if m, ok := s.byToken[tok]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *stubMirror) Invalidate(_ context.Context, _ string) error { return nil }

type stubResolver struct {
	byID    map[string]domain.Market
	byToken map[string]domain.Market
	err     error
}

func (s *stubResolver) GetMarket(_ context.Context, id string) (domain.Market, error) {
	if s.err != nil {
		return domain.Market{}, s.err
	}
	if m, ok := s.byID[id]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *stubResolver) GetMarketByToken(_ context.Context, tok string) (domain.Market, error) {
	if s.err != nil {
		return domain.Market{}, s.err
	}
	if m, ok := s.byToken[tok]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func getMarket(t *testing.T, h *MarketHandler, id string) (*httptest.ResponseRecorder, getMarketResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/markets/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.GetMarket(rec, req)

	var resp getMarketResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestGetMarket(t *testing.T) {
	cat := &stubCatalog{markets: testMarkets(2)}

	t.Run("resolves by market id", func(t *testing.T) {
		h := NewMarketHandler(cat, nil, nil)
		rec, resp := getMarket(t, h, "m-1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "m-1", resp.Market.ID)
		assert.Equal(t, "catalog", resp.Source)
	})

	t.Run("resolves by token id", func(t *testing.T) {
		h := NewMarketHandler(cat, nil, nil)
		rec, resp := getMarket(t, h, "tok-0-no")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "m-0", resp.Market.ID)
		assert.Equal(t, "catalog", resp.Source)
	})

	t.Run("falls back to the mirror", func(t *testing.T) {
		mirror := &stubMirror{byToken: map[string]domain.Market{
			"tok-new": {ID: "m-new", Question: "Fresh market?", Status: domain.MarketStatusActive},
		}}
		h := NewMarketHandler(cat, mirror, nil)
		rec, resp := getMarket(t, h, "tok-new")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "m-new", resp.Market.ID)
		assert.Equal(t, "mirror", resp.Source)
	})

	t.Run("falls back to a direct gamma fetch", func(t *testing.T) {
		resolver := &stubResolver{byToken: map[string]domain.Market{
			"tok-unseen": {ID: "m-unseen", Question: "Unindexed market?", Status: domain.MarketStatusActive},
		}}
		h := NewMarketHandler(cat, &stubMirror{}, resolver)
		rec, resp := getMarket(t, h, "tok-unseen")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "m-unseen", resp.Market.ID)
		assert.Equal(t, "gamma", resp.Source)
	})

	t.Run("unknown id is a 404", func(t *testing.T) {
		h := NewMarketHandler(cat, &stubMirror{}, &stubResolver{})
		rec, _ := getMarket(t, h, "nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("mirror failure is a 500", func(t *testing.T) {
		h := NewMarketHandler(cat, &stubMirror{err: errors.New("redis down")}, nil)
		rec, _ := getMarket(t, h, "nope")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("gamma failure is a 502", func(t *testing.T) {
		h := NewMarketHandler(cat, nil, &stubResolver{err: errors.New("gamma down")})
		rec, _ := getMarket(t, h, "nope")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	req = httptest.NewRequest(http.MethodGet, "/api/markets?limit=9999&offset=-3", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 500, opts.Limit, "limit is capped")
	assert.Equal(t, 0, opts.Offset, "negative offset is ignored")

	req = httptest.NewRequest(http.MethodGet,
		"/api/markets?since=2025-06-01T00:00:00Z&until=not-a-time", nil)
	opts = parseListOpts(req)
	require.NotNil(t, opts.Since)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), opts.Since.UTC())
	assert.Nil(t, opts.Until, "unparsable until is ignored")
}
