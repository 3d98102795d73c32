package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

type stubQuotes struct {
	histories map[string][]domain.PricePoint
	cached    map[string]float64
	cachedAt  time.Time
	cacheErr  error
}

func (s *stubQuotes) Symbols() []string {
	out := make([]string, 0, len(s.histories))
	for sym := range s.histories {
		out = append(out, sym)
	}
	return out
}

func (s *stubQuotes) History(symbol string) []domain.PricePoint {
	return s.histories[symbol]
}

func (s *stubQuotes) CachedMid(_ context.Context, symbol string) (float64, time.Time, error) {
	if s.cacheErr != nil {
		return 0, time.Time{}, s.cacheErr
	}
	if mid, ok := s.cached[symbol]; ok {
		return mid, s.cachedAt, nil
	}
	return 0, time.Time{}, domain.ErrNotFound
}

func (s *stubQuotes) CachedMids(_ context.Context, symbols []string) (map[string]float64, error) {
	if s.cacheErr != nil {
		return nil, s.cacheErr
	}
	out := make(map[string]float64)
	for _, sym := range symbols {
		if mid, ok := s.cached[sym]; ok {
			out[sym] = mid
		}
	}
	return out, nil
}

func TestListReference(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	quotes := &stubQuotes{
		histories: map[string][]domain.PricePoint{
			"btc": {
				{At: base.Add(-time.Minute), Price: 64_000},
				{At: base, Price: 64_010},
			},
		},
		cached: map[string]float64{"eth": 3_200.5},
	}
	h := NewReferenceHandler(quotes, []string{"btc", "eth", "sol"}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/reference", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listReferenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// btc has live samples, eth only a mirrored mid, sol nothing.
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "btc", resp.Symbols[0].Symbol)
	assert.InDelta(t, 64_010, resp.Symbols[0].Mid, 1e-9)
	assert.Equal(t, 2, resp.Symbols[0].Points)
	assert.Equal(t, "feed", resp.Symbols[0].Source)
	assert.Equal(t, "eth", resp.Symbols[1].Symbol)
	assert.Equal(t, "mirror", resp.Symbols[1].Source)
	assert.Zero(t, resp.Symbols[1].Points)
}

func TestListReferenceCacheFailureKeepsLiveSymbols(t *testing.T) {
	quotes := &stubQuotes{
		histories: map[string][]domain.PricePoint{
			"btc": {{At: time.Now(), Price: 64_000}},
		},
		cacheErr: errors.New("redis down"),
	}
	h := NewReferenceHandler(quotes, []string{"btc", "eth"}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/reference", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listReferenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "btc", resp.Symbols[0].Symbol)
}

func getReference(t *testing.T, h *ReferenceHandler, symbol string) (*httptest.ResponseRecorder, referenceHistoryResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/reference/"+symbol, nil)
	req.SetPathValue("symbol", symbol)
	rec := httptest.NewRecorder()
	h.GetSymbol(rec, req)

	var resp referenceHistoryResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestGetReferenceSymbol(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	quotes := &stubQuotes{
		histories: map[string][]domain.PricePoint{
			"btc": {
				{At: base.Add(-time.Minute), Price: 64_000},
				{At: base, Price: 64_010},
			},
		},
		cached:   map[string]float64{"eth": 3_200.5},
		cachedAt: base,
	}
	h := NewReferenceHandler(quotes, nil, discardLogger())

	t.Run("live history", func(t *testing.T) {
		rec, resp := getReference(t, h, "BTC")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "btc", resp.Symbol, "symbol lookup is case-insensitive")
		assert.Equal(t, "feed", resp.Source)
		assert.InDelta(t, 64_010, resp.Mid, 1e-9)
		require.Len(t, resp.Points, 2)
		assert.InDelta(t, 64_000, resp.Points[0].Price, 1e-9)
	})

	t.Run("mirrored mid only", func(t *testing.T) {
		rec, resp := getReference(t, h, "eth")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "mirror", resp.Source)
		assert.InDelta(t, 3_200.5, resp.Mid, 1e-9)
		assert.Empty(t, resp.Points)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		rec, _ := getReference(t, h, "doge")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cache failure", func(t *testing.T) {
		broken := NewReferenceHandler(&stubQuotes{cacheErr: errors.New("redis down")}, nil, discardLogger())
		rec, _ := getReference(t, broken, "btc")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
