package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string; the CLOB API
// sends tick sizes both ways depending on the endpoint.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
// Price and size stay wire strings; parsing happens where the level is applied.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookMessage is a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSLevelChange is one entry of a price_change batch.
type WSLevelChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"` // "0" means level removed
}

// PriceChangeMessage is an incremental batch of orderbook level updates.
type PriceChangeMessage struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Changes   []WSLevelChange `json:"changes"`
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
}

// TickSizeChangeMessage announces a new minimum price increment.
type TickSizeChangeMessage struct {
	EventType   string `json:"event_type"`
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
	Timestamp   string `json:"timestamp"`
}

// LastTradePriceMessage is the most recent trade execution for an asset.
type LastTradePriceMessage struct {
	EventType  string `json:"event_type"`
	AssetID    string `json:"asset_id"`
	Market     string `json:"market"`
	Price      string `json:"price"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	FeeRateBps string `json:"fee_rate_bps"`
	Timestamp  string `json:"timestamp"`
}

// WSAuth carries CLOB API credentials inside a user-channel subscription.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Subscription is the JSON payload sent once per WebSocket connection.
// Market channels subscribe by asset ID; user channels subscribe by market
// (condition ID) and must carry auth.
type Subscription struct {
	Type     string   `json:"type"` // "market" or "user"
	AssetIDs []string `json:"assets_ids,omitempty"`
	Markets  []string `json:"markets,omitempty"`
	Auth     *WSAuth  `json:"auth,omitempty"`
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// OrderBookResponse is the CLOB GET /book response.
type OrderBookResponse struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Hash      string         `json:"hash"`
	Timestamp string         `json:"timestamp"`
}

// ToBookEvent converts the REST book into the same event shape the live feed
// produces, so bootstrap and polling share one apply path.
func (r *OrderBookResponse) ToBookEvent() domain.BookEvent {
	ev := domain.BookEvent{
		AssetID:   r.AssetID,
		Market:    r.Market,
		Hash:      r.Hash,
		Timestamp: r.Timestamp,
		Bids:      make([]domain.RawLevel, 0, len(r.Bids)),
		Asks:      make([]domain.RawLevel, 0, len(r.Asks)),
	}
	for _, lvl := range r.Bids {
		ev.Bids = append(ev.Bids, domain.RawLevel{Price: lvl.Price, Size: lvl.Size})
	}
	for _, lvl := range r.Asks {
		ev.Asks = append(ev.Asks, domain.RawLevel{Price: lvl.Price, Size: lvl.Size})
	}
	return ev
}

// TickSizeResponse is the CLOB GET /tick-size response.
type TickSizeResponse struct {
	MinimumTickSize flexFloat `json:"minimum_tick_size"`
}

// PriceHistoryResponse is the CLOB GET /prices-history response.
type PriceHistoryResponse struct {
	History []TimeseriesPoint `json:"history"`
}

// TimeseriesPoint is one sample of a CLOB price history series.
type TimeseriesPoint struct {
	T int64     `json:"t"` // unix seconds
	P flexFloat `json:"p"`
}

// APICreds is the CLOB auth response carrying a derived HMAC credential triple.
type APICreds struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	Active    flexBool    `json:"active"`
	Closed    bool        `json:"closed"`
	Markets   []APIMarket `json:"markets"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

// ToDomainEvent converts an APIEvent to a domain.Event. Member market IDs and
// legs are filled in market order; a market contributes its first token as
// the event leg (the "Yes"-equivalent outcome in a binary market).
func (e *APIEvent) ToDomainEvent() domain.Event {
	ev := domain.Event{
		ID:     e.ID,
		Title:  e.Title,
		Slug:   e.Slug,
		Active: bool(e.Active) && !e.Closed,
	}
	for i := range e.Markets {
		m := e.Markets[i].ToDomainMarket()
		ev.MarketIDs = append(ev.MarketIDs, m.ID)
		if m.TokenIDs[0] != "" {
			ev.Legs = append(ev.Legs, m.TokenIDs[0])
		}
	}
	if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		ev.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
		ev.UpdatedAt = t
	}
	return ev
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	Slug          string   `json:"slug"`
	EventID       string   `json:"event_id"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`       // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
	Volume        string   `json:"volume"`
	NegRisk       bool     `json:"neg_risk"`
	EndDateISO    string   `json:"end_date_iso"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// tokenPairs extracts up to two (tokenID, outcome) pairs, preferring the
// structured Tokens array and falling back to the JSON-encoded string fields.
func (m *APIMarket) tokenPairs() (ids [2]string, outcomes [2]string) {
	outcomes = [2]string{"Yes", "No"}

	if len(m.Tokens) > 0 {
		for i, tok := range m.Tokens {
			if i >= 2 {
				break
			}
			ids[i] = tok.TokenID
			if tok.Outcome != "" {
				outcomes[i] = tok.Outcome
			}
		}
		return ids, outcomes
	}

	var tokenList []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenList); err == nil {
		for i, id := range tokenList {
			if i >= 2 {
				break
			}
			ids[i] = id
		}
	}
	var outcomeList []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomeList); err == nil {
		for i, o := range outcomeList {
			if i >= 2 {
				break
			}
			if o != "" {
				outcomes[i] = o
			}
		}
	}
	return ids, outcomes
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Question
// defaults to "Unknown" and outcomes to "Yes"/"No" when missing so display
// labels always render.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		EventID:     m.EventID,
		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
	}
	if dm.Question == "" {
		dm.Question = "Unknown"
	}

	dm.TokenIDs, dm.Outcomes = m.tokenPairs()

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.ActiveFromAPI) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}

	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ClosedAt = &t
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// WebSocket message -> domain event conversions
// --------------------------------------------------------------------------

func (b *BookMessage) toEvent() domain.BookEvent {
	ev := domain.BookEvent{
		AssetID:   b.AssetID,
		Market:    b.Market,
		Hash:      b.Hash,
		Timestamp: b.Timestamp,
		Bids:      make([]domain.RawLevel, 0, len(b.Bids)),
		Asks:      make([]domain.RawLevel, 0, len(b.Asks)),
	}
	for _, lvl := range b.Bids {
		ev.Bids = append(ev.Bids, domain.RawLevel{Price: lvl.Price, Size: lvl.Size})
	}
	for _, lvl := range b.Asks {
		ev.Asks = append(ev.Asks, domain.RawLevel{Price: lvl.Price, Size: lvl.Size})
	}
	return ev
}

func (p *PriceChangeMessage) toEvent() domain.PriceChangeEvent {
	ev := domain.PriceChangeEvent{
		AssetID:   p.AssetID,
		Market:    p.Market,
		Timestamp: p.Timestamp,
		Changes:   make([]domain.LevelChange, 0, len(p.Changes)),
	}
	for _, c := range p.Changes {
		ev.Changes = append(ev.Changes, domain.LevelChange{Price: c.Price, Side: c.Side, Size: c.Size})
	}
	return ev
}

func (t *TickSizeChangeMessage) toEvent() domain.TickSizeChangeEvent {
	return domain.TickSizeChangeEvent{
		AssetID:     t.AssetID,
		Market:      t.Market,
		OldTickSize: t.OldTickSize,
		NewTickSize: t.NewTickSize,
		Timestamp:   t.Timestamp,
	}
}

func (l *LastTradePriceMessage) toEvent() domain.TradeEvent {
	return domain.TradeEvent{
		AssetID:    l.AssetID,
		Market:     l.Market,
		Price:      l.Price,
		Side:       l.Side,
		Size:       l.Size,
		FeeRateBps: l.FeeRateBps,
		Timestamp:  l.Timestamp,
	}
}
