package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamName(t *testing.T) {
	t.Run("bare_symbol_quoted_against_usdt", func(t *testing.T) {
		assert.Equal(t, "btcusdt@bookTicker", streamName("btc"))
		assert.Equal(t, "ethusdt@bookTicker", streamName("ETH"))
	})

	t.Run("full_pair_kept", func(t *testing.T) {
		assert.Equal(t, "btcusdt@bookTicker", streamName("BTCUSDT"))
		assert.Equal(t, "solusdc@bookTicker", streamName("solusdc"))
	})

	t.Run("whitespace_trimmed", func(t *testing.T) {
		assert.Equal(t, "btcusdt@bookTicker", streamName("  btc "))
	})
}

func TestParseBookTicker(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("decodes_update_and_computes_mid", func(t *testing.T) {
		raw := []byte(`{"u":400900217,"s":"BTCUSDT","b":"64000.10","B":"1.5","a":"64000.30","A":"2.25"}`)

		quote, ok := parseBookTicker(raw, now)
		require.True(t, ok)

		assert.Equal(t, "BTCUSDT", quote.Symbol)
		assert.InDelta(t, 64000.10, quote.Bid, 1e-9)
		assert.InDelta(t, 64000.30, quote.Ask, 1e-9)
		assert.InDelta(t, 1.5, quote.BidQty, 1e-9)
		assert.InDelta(t, 2.25, quote.AskQty, 1e-9)
		assert.InDelta(t, 64000.20, quote.Mid, 1e-9)
		assert.Equal(t, now, quote.At)
	})

	t.Run("drops_subscribe_ack", func(t *testing.T) {
		_, ok := parseBookTicker([]byte(`{"result":null,"id":1}`), now)
		assert.False(t, ok)
	})

	t.Run("drops_malformed_payload", func(t *testing.T) {
		_, ok := parseBookTicker([]byte(`{"s":`), now)
		assert.False(t, ok)
	})

	t.Run("drops_sample_with_no_prices", func(t *testing.T) {
		_, ok := parseBookTicker([]byte(`{"s":"BTCUSDT","b":"0","a":"0"}`), now)
		assert.False(t, ok)
	})
}
