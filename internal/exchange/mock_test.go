package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/model"
)

func TestMockAdapter_PlaceLimitOrder_IdempotentByClientTag(t *testing.T) {
	m := NewMockAdapter(decimal.NewFromInt(1000))
	ctx := context.Background()

	id1, err := m.PlaceLimitOrder(ctx, "BTC-USD", model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), "tag-1", true)
	require.NoError(t, err)

	id2, err := m.PlaceLimitOrder(ctx, "BTC-USD", model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), "tag-1", true)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	open, err := m.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMockAdapter_SetPrice_FillsCrossedBuyOrder(t *testing.T) {
	m := NewMockAdapter(decimal.NewFromInt(1000))
	ctx := context.Background()

	orderID, err := m.PlaceLimitOrder(ctx, "BTC-USD", model.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(1), "tag-buy", true)
	require.NoError(t, err)

	m.SetPrice("BTC-USD", decimal.NewFromInt(150)) // above buy price, no cross yet
	open, err := m.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, open, 1, "buy order should still be resting above its price")

	m.SetPrice("BTC-USD", decimal.NewFromInt(99)) // crosses the buy price
	open, err = m.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Empty(t, open)

	fills, err := m.GetFills(ctx, 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, orderID, fills[0].OrderID)
}

func TestMockAdapter_CancelOrder_RejectsAlreadyFilled(t *testing.T) {
	m := NewMockAdapter(decimal.NewFromInt(1000))
	ctx := context.Background()

	orderID, err := m.PlaceLimitOrder(ctx, "BTC-USD", model.SideSell, decimal.NewFromInt(100), decimal.NewFromInt(1), "tag-sell", true)
	require.NoError(t, err)

	m.SetPrice("BTC-USD", decimal.NewFromInt(200)) // crosses the sell price

	err = m.CancelOrder(ctx, orderID)
	assert.Error(t, err)
	var perm *model.PermanentExchangeError
	assert.ErrorAs(t, err, &perm)
}

func TestMockAdapter_GetTicker_ErrorsWithoutSeededPrice(t *testing.T) {
	m := NewMockAdapter(decimal.NewFromInt(1000))
	_, err := m.GetTicker(context.Background(), "ETH-USD")
	assert.Error(t, err)
	var transient *model.TransientExchangeError
	assert.ErrorAs(t, err, &transient)
}
