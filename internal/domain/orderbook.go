package domain

import (
	"strings"
	"time"
)

// PriceMatchTolerance is the absolute tolerance used when matching a delta
// price against an existing book level. Wire prices are decimal strings with
// at most four fractional digits, so anything closer than this is the same level.
const PriceMatchTolerance = 1e-4

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSide identifies one side of an orderbook.
type BookSide int

const (
	SideBid BookSide = iota
	SideAsk
)

func (s BookSide) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// ParseBookSide resolves the side strings seen across the CLOB wire formats.
// "bid"/"bids"/"buy" map to the bid side, "ask"/"asks"/"sell" to the ask
// side, case-insensitively. ok is false for anything else.
func ParseBookSide(s string) (side BookSide, ok bool) {
	switch strings.ToLower(s) {
	case "bid", "bids", "buy":
		return SideBid, true
	case "ask", "asks", "sell":
		return SideAsk, true
	default:
		return 0, false
	}
}

// ChangeDirection marks how a level's size moved on its most recent update,
// used to flash the level in the UI until the highlight expires.
type ChangeDirection int

const (
	ChangeNone ChangeDirection = iota
	ChangeIncrease
	ChangeDecrease
)

func (c ChangeDirection) String() string {
	switch c {
	case ChangeIncrease:
		return "increase"
	case ChangeDecrease:
		return "decrease"
	default:
		return "none"
	}
}

// BookLevel is a display-facing orderbook level with change-highlight state.
type BookLevel struct {
	Price     float64
	Size      float64
	PrevSize  float64
	Change    ChangeDirection
	ChangedAt time.Time
}

// ShouldHighlight reports whether the level's last change is still within the
// highlight window at the given instant.
func (l BookLevel) ShouldHighlight(now time.Time, window time.Duration) bool {
	if l.Change == ChangeNone || l.ChangedAt.IsZero() {
		return false
	}
	return now.Sub(l.ChangedAt) < window
}

// OrderbookSnapshot is a flat snapshot of bids and asks for an asset, the
// shape cached in Redis and returned by REST bootstrap calls.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// BookView is an immutable read-model of one asset's book, published by the
// monitor loop after every update cycle. Readers never see partial state.
type BookView struct {
	AssetID     string
	Label       string // "Question - Outcome" when the catalog knows the asset
	Bids        []BookLevel
	Asks        []BookLevel
	BestBid     float64
	BestAsk     float64
	Spread      float64
	WeightedMid float64
	TickSize    float64
	LastTrade   float64
	LastSize    float64
	Source      string // "websocket" or "rest"
	UpdatedAt   time.Time
	Version     uint64
}

// Snapshot flattens the view into the cacheable snapshot shape.
func (v BookView) Snapshot() OrderbookSnapshot {
	snap := OrderbookSnapshot{
		AssetID:   v.AssetID,
		BestBid:   v.BestBid,
		BestAsk:   v.BestAsk,
		MidPrice:  v.WeightedMid,
		Timestamp: v.UpdatedAt,
		Bids:      make([]PriceLevel, 0, len(v.Bids)),
		Asks:      make([]PriceLevel, 0, len(v.Asks)),
	}
	for _, l := range v.Bids {
		snap.Bids = append(snap.Bids, PriceLevel{Price: l.Price, Size: l.Size})
	}
	for _, l := range v.Asks {
		snap.Asks = append(snap.Asks, PriceLevel{Price: l.Price, Size: l.Size})
	}
	return snap
}

// DepthPoint is one bucket of the cumulative depth projection around the spread.
type DepthPoint struct {
	Price float64
	Depth float64
	Side  BookSide
}

// PricePoint is one sample in a price history series.
type PricePoint struct {
	At    time.Time
	Price float64
}

// ChartView is the slow-path read-model for one asset: the cumulative depth
// curve and the midpoint history with chart framing. The monitor republishes
// it on the forced-refresh cadence, not per event.
type ChartView struct {
	AssetID string
	Depth   []DepthPoint
	History []PricePoint
	PriceLo float64
	PriceHi float64
	From    time.Time
	To      time.Time
	Version uint64
}
