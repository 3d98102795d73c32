package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func TestPublisher(t *testing.T) {
	t.Run("empty_until_first_publish", func(t *testing.T) {
		p := NewPublisher()
		p.Register("tok-a")

		_, ok := p.View("tok-a")
		assert.False(t, ok)
		_, ok = p.Chart("tok-a")
		assert.False(t, ok)
	})

	t.Run("unregistered_assets_are_unknown", func(t *testing.T) {
		p := NewPublisher()
		p.Publish(&domain.BookView{AssetID: "tok-a", Version: 1})

		_, ok := p.View("tok-a")
		assert.False(t, ok, "publish without register is dropped")
	})

	t.Run("latest_publish_wins", func(t *testing.T) {
		p := NewPublisher()
		p.Register("tok-a")

		p.Publish(&domain.BookView{AssetID: "tok-a", Version: 1})
		p.Publish(&domain.BookView{AssetID: "tok-a", Version: 2})

		view, ok := p.View("tok-a")
		require.True(t, ok)
		assert.Equal(t, uint64(2), view.Version)
	})

	t.Run("charts_are_tracked_per_asset", func(t *testing.T) {
		p := NewPublisher()
		p.Register("tok-a")
		p.Register("tok-b")

		p.PublishChart(&domain.ChartView{AssetID: "tok-a", Version: 7})

		chart, ok := p.Chart("tok-a")
		require.True(t, ok)
		assert.Equal(t, uint64(7), chart.Version)

		_, ok = p.Chart("tok-b")
		assert.False(t, ok)
	})

	t.Run("register_is_idempotent", func(t *testing.T) {
		p := NewPublisher()
		p.Register("tok-a")
		p.Publish(&domain.BookView{AssetID: "tok-a", Version: 3})
		p.Register("tok-a")

		view, ok := p.View("tok-a")
		require.True(t, ok)
		assert.Equal(t, uint64(3), view.Version, "re-register keeps the slot")
	})
}
