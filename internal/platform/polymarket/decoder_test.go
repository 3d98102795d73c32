package polymarket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func TestDecodeFrame(t *testing.T) {
	t.Run("single_book_event", func(t *testing.T) {
		raw := []byte(`{"event_type":"book","asset_id":"1234","market":"0xcond","bids":[{"price":"0.48","size":"30"},{"price":"0.49","size":"20"}],"asks":[{"price":"0.52","size":"25"}],"timestamp":"1700000000000","hash":"0xabc"}`)

		events := DecodeFrame(raw)
		require.Len(t, events, 1)

		book, ok := events[0].(domain.BookEvent)
		require.True(t, ok, "expected BookEvent, got %T", events[0])
		assert.Equal(t, "1234", book.AssetID)
		assert.Equal(t, "0xcond", book.Market)
		require.Len(t, book.Bids, 2)
		assert.Equal(t, domain.RawLevel{Price: "0.48", Size: "30"}, book.Bids[0])
		assert.Equal(t, domain.RawLevel{Price: "0.49", Size: "20"}, book.Bids[1])
		require.Len(t, book.Asks, 1)
		assert.Equal(t, domain.RawLevel{Price: "0.52", Size: "25"}, book.Asks[0])
		assert.Equal(t, "1234", book.Asset())
	})

	t.Run("array_of_events", func(t *testing.T) {
		raw := []byte(`[{"event_type":"book","asset_id":"a1","market":"m1","bids":[],"asks":[]},{"event_type":"last_trade_price","asset_id":"a2","market":"m2","price":"0.55","side":"BUY","size":"12.5","fee_rate_bps":"0"}]`)

		events := DecodeFrame(raw)
		require.Len(t, events, 2)

		_, ok := events[0].(domain.BookEvent)
		assert.True(t, ok, "first element should be BookEvent, got %T", events[0])

		trade, ok := events[1].(domain.TradeEvent)
		require.True(t, ok, "second element should be TradeEvent, got %T", events[1])
		assert.Equal(t, "a2", trade.AssetID)
		assert.Equal(t, "0.55", trade.Price)
		assert.Equal(t, "BUY", trade.Side)
		assert.Equal(t, "12.5", trade.Size)
	})

	t.Run("price_change_batch", func(t *testing.T) {
		raw := []byte(`{"event_type":"price_change","asset_id":"tok","market":"0xcond","changes":[{"price":"0.50","side":"BUY","size":"100"},{"price":"0.51","side":"SELL","size":"0"}],"timestamp":"1700000000001"}`)

		events := DecodeFrame(raw)
		require.Len(t, events, 1)

		pc, ok := events[0].(domain.PriceChangeEvent)
		require.True(t, ok, "expected PriceChangeEvent, got %T", events[0])
		assert.Equal(t, "tok", pc.AssetID)
		require.Len(t, pc.Changes, 2)
		assert.Equal(t, domain.LevelChange{Price: "0.50", Side: "BUY", Size: "100"}, pc.Changes[0])
		assert.Equal(t, domain.LevelChange{Price: "0.51", Side: "SELL", Size: "0"}, pc.Changes[1])
	})

	t.Run("tick_size_change", func(t *testing.T) {
		raw := []byte(`{"event_type":"tick_size_change","asset_id":"tok","market":"0xcond","old_tick_size":"0.01","new_tick_size":"0.001","timestamp":"1700000000002"}`)

		events := DecodeFrame(raw)
		require.Len(t, events, 1)

		ts, ok := events[0].(domain.TickSizeChangeEvent)
		require.True(t, ok, "expected TickSizeChangeEvent, got %T", events[0])
		assert.Equal(t, "0.01", ts.OldTickSize)
		assert.Equal(t, "0.001", ts.NewTickSize)
	})

	t.Run("unknown_event_type_preserved", func(t *testing.T) {
		raw := []byte(`{"event_type":"best_bid_ask","asset_id":"tok","best_bid":"0.5"}`)

		events := DecodeFrame(raw)
		require.Len(t, events, 1)

		unk, ok := events[0].(domain.UnknownEvent)
		require.True(t, ok, "expected UnknownEvent, got %T", events[0])
		assert.JSONEq(t, string(raw), unk.Raw)
		assert.Empty(t, unk.Asset())
	})

	t.Run("malformed_element_does_not_discard_batch", func(t *testing.T) {
		raw := []byte(`[{"event_type":"book","asset_id":"a1","market":"m1","bids":[],"asks":[]},{"event_type":"mystery"},{"event_type":"last_trade_price","asset_id":"a3","market":"m3","price":"0.4","side":"SELL","size":"1","fee_rate_bps":"0"}]`)

		events := DecodeFrame(raw)
		require.Len(t, events, 3)

		_, ok := events[0].(domain.BookEvent)
		assert.True(t, ok)
		_, ok = events[1].(domain.UnknownEvent)
		assert.True(t, ok, "middle element should decode as UnknownEvent, got %T", events[1])
		_, ok = events[2].(domain.TradeEvent)
		assert.True(t, ok)
	})

	t.Run("malformed_json_becomes_unknown", func(t *testing.T) {
		raw := []byte(`{"event_type":"book","asset_id":`)

		events := DecodeFrame(raw)
		require.Len(t, events, 1)

		unk, ok := events[0].(domain.UnknownEvent)
		require.True(t, ok, "expected UnknownEvent, got %T", events[0])
		assert.Equal(t, string(raw), unk.Raw)
	})

	t.Run("malformed_array_becomes_unknown", func(t *testing.T) {
		raw := []byte(`[{"event_type":"book"},`)

		events := DecodeFrame(raw)
		require.Len(t, events, 1)
		assert.IsType(t, domain.UnknownEvent{}, events[0])
	})

	t.Run("non_json_text_becomes_unknown", func(t *testing.T) {
		events := DecodeFrame([]byte("PONG"))
		require.Len(t, events, 1)

		unk, ok := events[0].(domain.UnknownEvent)
		require.True(t, ok)
		assert.Equal(t, "PONG", unk.Raw)
	})

	t.Run("array_element_of_wrong_kind_becomes_unknown", func(t *testing.T) {
		events := DecodeFrame([]byte(`["hello",42]`))
		require.Len(t, events, 2)
		assert.IsType(t, domain.UnknownEvent{}, events[0])
		assert.IsType(t, domain.UnknownEvent{}, events[1])
	})

	t.Run("empty_frame_yields_nothing", func(t *testing.T) {
		assert.Empty(t, DecodeFrame(nil))
		assert.Empty(t, DecodeFrame([]byte("   ")))
	})
}
