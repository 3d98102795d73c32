package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

func TestCorrelationIsReservedButTracked(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(nil, testLogger())

	require.NoError(t, e.SelectAsset(domain.StrategyCorrelation, "tok-a", ""))
	require.NoError(t, e.SelectAsset(domain.StrategyCorrelation, "tok-b", ""))
	require.NoError(t, e.Start(domain.StrategyCorrelation))

	assert.Empty(t, e.OnBookUpdate(ctx, quietView("tok-a")))
	assert.Empty(t, e.OnBookUpdate(ctx, quietView("tok-b")))

	status, err := e.Status(domain.StrategyCorrelation)
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeMultiMarket, status.Scope)
	assert.Equal(t, int64(2), status.RunCount, "runs are accounted even without alerts")
	assert.Equal(t, []string{"tok-a", "tok-b"}, status.AssetIDs)
}
