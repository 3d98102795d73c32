package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// gammaTimeout bounds any single Gamma call. Discovery crawls page the whole
// event index, so one stuck request must not stall the refresh loop.
const gammaTimeout = 30 * time.Second

// GammaClient is the REST client for the Polymarket Gamma API, which serves
// market discovery and metadata. All calls are unauthenticated.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma client for the given API root, e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: gammaTimeout},
	}
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	var m APIMarket
	if err := g.getJSON(ctx, "/markets/"+url.PathEscape(id), &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	return m.ToDomainMarket(), nil
}

// GetMarketByToken looks a market up by one of its CLOB token IDs.
func (g *GammaClient) GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	var page []APIMarket
	if err := g.getJSON(ctx, "/markets?"+params.Encode(), &page); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by token %s: %w", tokenID, err)
	}
	if len(page) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: token=%s", domain.ErrNotFound, tokenID)
	}
	return page[0].ToDomainMarket(), nil
}

// GetEvents returns one page of events with their member markets.
func (g *GammaClient) GetEvents(ctx context.Context, limit, offset int) ([]domain.Event, []domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var page []APIEvent
	if err := g.getJSON(ctx, "/events?"+params.Encode(), &page); err != nil {
		return nil, nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	events := make([]domain.Event, 0, len(page))
	var markets []domain.Market
	for i := range page {
		ev, ms := explodeEvent(&page[i])
		events = append(events, ev)
		markets = append(markets, ms...)
	}
	return events, markets, nil
}

// GetEvent returns a single event by ID along with its member markets, each
// stamped with the owning event ID.
func (g *GammaClient) GetEvent(ctx context.Context, id string) (domain.Event, []domain.Market, error) {
	var apiEvent APIEvent
	if err := g.getJSON(ctx, "/events/"+url.PathEscape(id), &apiEvent); err != nil {
		return domain.Event{}, nil, fmt.Errorf("polymarket/gamma: get event %s: %w", id, err)
	}
	ev, markets := explodeEvent(&apiEvent)
	return ev, markets, nil
}

// explodeEvent converts an APIEvent into its domain event plus member
// markets, wiring the event ID onto each market.
func explodeEvent(e *APIEvent) (domain.Event, []domain.Market) {
	ev := e.ToDomainEvent()
	markets := make([]domain.Market, 0, len(e.Markets))
	for i := range e.Markets {
		m := e.Markets[i].ToDomainMarket()
		m.EventID = e.ID
		markets = append(markets, m)
	}
	return ev, markets
}

// getJSON fetches a Gamma path and decodes the response body into out.
func (g *GammaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
