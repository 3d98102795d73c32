package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a Polymarket prediction market.
type Market struct {
	ID          string
	Question    string
	Slug        string
	EventID     string       // owning Gamma event; empty if the market is standalone
	Outcomes    [2]string    // e.g. ["Yes","No"] or ["Up","Down"]
	TokenIDs    [2]string    // ERC-1155 token IDs (76-digit strings)
	ConditionID string
	NegRisk     bool
	Volume      float64
	Tags        []string // reference-symbol tags from the question classifier, e.g. ["btc"]
	Status      MarketStatus
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutcomeForToken returns the outcome string for one of the market's token IDs.
func (m Market) OutcomeForToken(tokenID string) (string, bool) {
	for i, id := range m.TokenIDs {
		if id != "" && id == tokenID {
			return m.Outcomes[i], true
		}
	}
	return "", false
}

// Label renders the display label for one of the market's tokens,
// "Question - Outcome", falling back to the bare question.
func (m Market) Label(tokenID string) string {
	if outcome, ok := m.OutcomeForToken(tokenID); ok && outcome != "" {
		return m.Question + " - " + outcome
	}
	return m.Question
}

// Event groups related markets whose outcome prices should sum to 1.0
// absent arbitrage (e.g. all candidates in one race).
type Event struct {
	ID        string
	Title     string
	Slug      string
	Active    bool
	MarketIDs []string
	Legs      []string // one primary token ID per member market, in market order
	CreatedAt time.Time
	UpdatedAt time.Time
}
