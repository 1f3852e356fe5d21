package lot

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/model"
	"github.com/chidi150c/gridbot/internal/store"
)

func testSetup(t *testing.T) (*store.Store, *exchange.MockAdapter, *Manager) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.UpsertMarket(t.Context(), model.Market{
		ID: "BTC-USD", BaseIncrement: decimal.NewFromFloat(0.0001), QuoteIncrement: decimal.NewFromFloat(0.01),
	}))

	adapter := exchange.NewMockAdapter(decimal.NewFromInt(10000))
	planner := grid.NewPlanner(model.Config{GridStepPct: decimal.NewFromFloat(0.01), ProfitMode: model.ProfitStep})
	return st, adapter, NewManager(st, adapter, planner)
}

func TestOnBuyFill_OpensLotAndSubmitsSell(t *testing.T) {
	st, adapter, mgr := testSetup(t)
	ctx := t.Context()

	require.NoError(t, st.InsertOrder(ctx, model.Order{
		ID: "buy-1", ClientTag: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Status: model.OrderOpen,
	}))

	f := model.Fill{ID: "fill-1", OrderID: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: time.Now().UTC()}

	l, err := mgr.OnBuyFill(ctx, f, decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.Equal(t, model.LotSellPlaced, l.Status)
	assert.NotEmpty(t, l.SellOrderID)

	open, err := adapter.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.SideSell, open[0].Side)
	assert.True(t, open[0].Price.GreaterThan(decimal.NewFromInt(100)), "sell price must exceed buy price")
}

// TestOnBuyFill_FeeBufferExceedingStepLeavesLotOpenUnsubmitted pins
// down §8's boundary case: when fee_buffer_pct > grid_step_pct, no
// sell price can satisfy I3, so the paired SELL is never submitted and
// the Lot stays OPEN rather than resting an order that would undercut
// the buy price.
func TestOnBuyFill_FeeBufferExceedingStepLeavesLotOpenUnsubmitted(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := t.Context()
	require.NoError(t, st.UpsertMarket(ctx, model.Market{
		ID: "BTC-USD", BaseIncrement: decimal.NewFromFloat(0.0001), QuoteIncrement: decimal.NewFromFloat(0.01),
	}))

	adapter := exchange.NewMockAdapter(decimal.NewFromInt(10000))
	planner := grid.NewPlanner(model.Config{
		GridStepPct:  decimal.NewFromFloat(0.001),
		FeeBufferPct: decimal.NewFromFloat(0.002),
		ProfitMode:   model.ProfitStep,
	})
	mgr := NewManager(st, adapter, planner)

	require.NoError(t, st.InsertOrder(ctx, model.Order{
		ID: "buy-1", ClientTag: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Status: model.OrderOpen,
	}))
	f := model.Fill{ID: "fill-1", OrderID: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: time.Now().UTC()}

	l, err := mgr.OnBuyFill(ctx, f, decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.Equal(t, model.LotOpen, l.Status, "the Lot must stay OPEN, not SELL_PLACED, when no valid sell price exists")
	assert.Empty(t, l.SellOrderID)

	open, err := adapter.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Empty(t, open, "no order should ever be submitted below the fee-adjusted floor")
}

func TestOnSellFill_FullFillClosesLotWithRealizedPnL(t *testing.T) {
	st, _, mgr := testSetup(t)
	ctx := t.Context()

	require.NoError(t, st.InsertOrder(ctx, model.Order{
		ID: "buy-1", ClientTag: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Status: model.OrderOpen,
	}))
	l, err := mgr.OnBuyFill(ctx, model.Fill{
		ID: "fill-buy", OrderID: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: time.Now().UTC(),
	}, decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	require.NotEmpty(t, l.SellOrderID)

	sellFill := model.Fill{
		ID: "fill-sell", OrderID: l.SellOrderID, MarketID: "BTC-USD", Side: model.SideSell,
		Price: l.SellPrice, Size: l.BuySize, Timestamp: time.Now().UTC(),
	}
	closed, err := mgr.OnSellFill(ctx, l, sellFill)
	require.NoError(t, err)
	assert.Equal(t, model.LotClosed, closed.Status)
	assert.True(t, closed.RealizedPnL.IsPositive(), "sell price exceeds buy price so PnL must be positive")
}

func TestOnSellFill_PartialFillShrinksParentAndClosesSubLot(t *testing.T) {
	st, _, mgr := testSetup(t)
	ctx := t.Context()

	require.NoError(t, st.InsertOrder(ctx, model.Order{
		ID: "buy-1", ClientTag: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(2), Status: model.OrderOpen,
	}))
	l, err := mgr.OnBuyFill(ctx, model.Fill{
		ID: "fill-buy", OrderID: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(2), Timestamp: time.Now().UTC(),
	}, decimal.NewFromFloat(0.01))
	require.NoError(t, err)

	partialFill := model.Fill{
		ID: "fill-sell-partial", OrderID: l.SellOrderID, MarketID: "BTC-USD", Side: model.SideSell,
		Price: l.SellPrice, Size: decimal.NewFromInt(1), Timestamp: time.Now().UTC(),
	}
	remainder, err := mgr.OnSellFill(ctx, l, partialFill)
	require.NoError(t, err)
	assert.Equal(t, model.LotSellPlaced, remainder.Status, "unfilled remainder stays open with its sell order attached")
	assert.True(t, remainder.BuySize.Equal(decimal.NewFromInt(1)), "remainder buy_size should shrink by the filled amount")

	lots, err := st.ListLots(ctx, "BTC-USD", 0)
	require.NoError(t, err)
	var closedCount int
	for _, sl := range lots {
		if sl.Status == model.LotClosed {
			closedCount++
			assert.Equal(t, l.SellOrderID, sl.SellOrderID, "the closed sub-lot must keep the resting sell order it closed against")
		}
	}
	assert.Equal(t, 1, closedCount, "the filled fraction should exist as its own closed sub-lot")
}

func TestRetryPendingSells_SkipsBeforeBackoffElapses(t *testing.T) {
	st, adapter, mgr := testSetup(t)
	ctx := t.Context()

	require.NoError(t, st.InsertOrder(ctx, model.Order{
		ID: "buy-1", ClientTag: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Status: model.OrderOpen,
	}))
	l, err := mgr.OnBuyFill(ctx, model.Fill{
		ID: "fill-buy", OrderID: "buy-1", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: time.Now().UTC(),
	}, decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.Equal(t, model.LotSellPlaced, l.Status, "sell should have succeeded on the first attempt")

	// Nothing pending, so a retry pass should be a no-op without error.
	require.NoError(t, mgr.RetryPendingSells(ctx, "BTC-USD", decimal.NewFromFloat(0.01), time.Now().UTC()))

	// A second lot whose first SELL attempt fails gets a backoff delay: a
	// pass dated before the delay leaves it OPEN, one dated past the 60s
	// cap places the SELL.
	require.NoError(t, st.InsertOrder(ctx, model.Order{
		ID: "buy-2", ClientTag: "buy-2", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Status: model.OrderOpen,
	}))
	adapter.FailNext("PlaceLimitOrder", errors.New("rate limited"))
	l2, err := mgr.OnBuyFill(ctx, model.Fill{
		ID: "fill-buy-2", OrderID: "buy-2", MarketID: "BTC-USD", Side: model.SideBuy,
		Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: time.Now().UTC(),
	}, decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	require.Equal(t, model.LotOpen, l2.Status)

	require.NoError(t, mgr.RetryPendingSells(ctx, "BTC-USD", decimal.NewFromFloat(0.01), time.Now().UTC().Add(-time.Minute)))
	skipped, err := st.GetLot(ctx, l2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LotOpen, skipped.Status, "a pass before the backoff delay must not resubmit")

	require.NoError(t, mgr.RetryPendingSells(ctx, "BTC-USD", decimal.NewFromFloat(0.01), time.Now().UTC().Add(2*time.Minute)))
	retried, err := st.GetLot(ctx, l2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LotSellPlaced, retried.Status, "a pass after the backoff delay resubmits the SELL")
}
