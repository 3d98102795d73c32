package domain

// FeedEvent is one typed message decoded from a CLOB websocket frame. A frame
// may carry a single event or an array of them; each element decodes to
// exactly one FeedEvent. Numeric fields stay as wire strings; parsing and
// per-item error handling belong to the book that applies the event.
type FeedEvent interface {
	// Asset returns the instrument the event concerns, "" when unknown.
	Asset() string
}

// RawLevel is an unparsed price level as received on the wire.
type RawLevel struct {
	Price string
	Size  string
}

// BookEvent is a full orderbook snapshot for one asset.
type BookEvent struct {
	AssetID   string
	Market    string // condition ID of the owning market
	Bids      []RawLevel
	Asks      []RawLevel
	Hash      string
	Timestamp string
}

func (e BookEvent) Asset() string { return e.AssetID }

// LevelChange is one side/price/size triple inside a price_change batch.
type LevelChange struct {
	Price string
	Side  string
	Size  string // "0" removes the level
}

// PriceChangeEvent is an incremental batch of level changes for one asset.
type PriceChangeEvent struct {
	AssetID   string
	Market    string
	Changes   []LevelChange
	Timestamp string
}

func (e PriceChangeEvent) Asset() string { return e.AssetID }

// TickSizeChangeEvent announces a new minimum price increment for an asset.
type TickSizeChangeEvent struct {
	AssetID     string
	Market      string
	OldTickSize string
	NewTickSize string
	Timestamp   string
}

func (e TickSizeChangeEvent) Asset() string { return e.AssetID }

// TradeEvent is the most recent trade execution for an asset. It never
// mutates book levels; it only refreshes the derived price display.
type TradeEvent struct {
	AssetID    string
	Market     string
	Price      string
	Side       string
	Size       string
	FeeRateBps string
	Timestamp  string
}

func (e TradeEvent) Asset() string { return e.AssetID }

// UnknownEvent preserves a frame element that failed schema validation or
// carried an unrecognized event_type. It is logged and dropped, never fatal.
type UnknownEvent struct {
	Raw string
}

func (e UnknownEvent) Asset() string { return "" }
