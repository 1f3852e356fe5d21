package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/eventbus"
	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/model"
	"github.com/chidi150c/gridbot/internal/store"
)

func testConfig() model.Config {
	return model.Config{
		GridStepPct:            decimal.NewFromFloat(0.01),
		BudgetUSD:              decimal.NewFromInt(1000),
		MaxOpenOrders:          25,
		StagingBandDepthPct:    decimal.NewFromFloat(0.05),
		MinBandOrders:          2,
		MaxBandOrders:          5,
		ProfitMode:             model.ProfitStep,
		SizingMode:             model.SizingBudgetSplit,
		LiveTradingEnabled:     false,
		PaperMode:              true,
		MaxGridCapitalPct:      decimal.NewFromFloat(0.9),
		TickInterval:           2 * time.Second,
		ReconcileMaxOpsPerTick: 10,
		EventQueueDepth:        16,
	}
}

func testEngine(t *testing.T) (*store.Store, *exchange.MockAdapter, *Engine) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := t.Context()
	require.NoError(t, st.ReplaceConfig(ctx, "system", testConfig()))
	require.NoError(t, st.UpsertMarket(ctx, model.Market{
		ID: "BTC-USD", BaseIncrement: decimal.NewFromFloat(0.0001), QuoteIncrement: decimal.NewFromFloat(0.01),
	}))

	adapter := exchange.NewMockAdapter(decimal.NewFromInt(10000))
	adapter.SetPrice("BTC-USD", decimal.NewFromInt(100))

	bus := eventbus.New(16)
	eng := New(st, adapter, bus)
	require.NoError(t, eng.StartMarket(ctx, "BTC-USD"))
	return st, adapter, eng
}

func TestTick_PlacesGridOrdersOnFirstRun(t *testing.T) {
	st, adapter, eng := testEngine(t)
	ctx := t.Context()

	eng.OnPrice(decimal.NewFromInt(100), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")

	open, err := st.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.NotEmpty(t, open, "the first tick should place the initial grid")

	exchangeOpen, err := adapter.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, len(open), len(exchangeOpen))
}

func TestTick_AnchorHighRatchetsUpOnly(t *testing.T) {
	_, _, eng := testEngine(t)
	ctx := t.Context()

	eng.OnPrice(decimal.NewFromInt(100), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")
	state1, err := eng.st.GetBotState(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, state1.AnchorHigh.Equal(decimal.NewFromInt(100)))

	eng.OnPrice(decimal.NewFromInt(90), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")
	state2, err := eng.st.GetBotState(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, state2.AnchorHigh.Equal(decimal.NewFromInt(100)), "anchor must never decrease")

	eng.OnPrice(decimal.NewFromInt(110), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")
	state3, err := eng.st.GetBotState(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.True(t, state3.AnchorHigh.Equal(decimal.NewFromInt(110)))
}

func TestTick_NoOpWhilePausedOrStopped(t *testing.T) {
	st, _, eng := testEngine(t)
	ctx := t.Context()
	require.NoError(t, st.SetMode(ctx, "BTC-USD", model.ModePaused))

	eng.OnPrice(decimal.NewFromInt(100), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")

	open, err := st.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Empty(t, open, "a paused market must not place orders")
}

func TestKillSwitch_CancelsOpenOrdersAndStopsMarket(t *testing.T) {
	st, adapter, eng := testEngine(t)
	ctx := t.Context()

	eng.OnPrice(decimal.NewFromInt(100), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")
	open, err := st.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	require.NotEmpty(t, open)

	require.NoError(t, eng.KillSwitch(ctx, "BTC-USD"))

	open, err = st.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Empty(t, open)

	mkt, err := st.GetMarket(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.False(t, mkt.Enabled)

	exchangeOpen, err := adapter.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Empty(t, exchangeOpen)
}

// TestTick_ReconcilerAndLotsSurviveAcrossTicks guards against a
// regression where Engine.Tick rebuilds Reconciler/lot.Manager from
// scratch every call: doing so silently discards the per-tick
// op-budget cooldown and per-lot SELL backoff schedules (§4.4/§4.6)
// the moment the tick that set them ends.
func TestTick_ReconcilerAndLotsSurviveAcrossTicks(t *testing.T) {
	_, _, eng := testEngine(t)
	ctx := t.Context()

	eng.OnPrice(decimal.NewFromInt(100), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")
	require.NotNil(t, eng.reconciler)
	require.NotNil(t, eng.lots)
	firstReconciler, firstLots := eng.reconciler, eng.lots

	eng.OnPrice(decimal.NewFromInt(101), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")

	assert.Same(t, firstReconciler, eng.reconciler, "the reconciler must be reused, not rebuilt, across ticks")
	assert.Same(t, firstLots, eng.lots, "the lot manager must be reused, not rebuilt, across ticks")
}

// TestStartMarket_ResetsBackoffStateForNewMarket ensures a market
// switch doesn't leak the halted market's reconcile/lot backoff state
// into the newly active one.
func TestStartMarket_ResetsBackoffStateForNewMarket(t *testing.T) {
	st, adapter, eng := testEngine(t)
	ctx := t.Context()

	eng.OnPrice(decimal.NewFromInt(100), time.Now().UTC())
	eng.Tick(ctx, "BTC-USD")
	require.NotNil(t, eng.reconciler)
	staleReconciler := eng.reconciler

	require.NoError(t, st.UpsertMarket(ctx, model.Market{
		ID: "ETH-USD", BaseIncrement: decimal.NewFromFloat(0.0001), QuoteIncrement: decimal.NewFromFloat(0.01),
	}))
	adapter.SetPrice("ETH-USD", decimal.NewFromInt(10))
	require.NoError(t, eng.StartMarket(ctx, "ETH-USD"))

	assert.Nil(t, eng.reconciler, "switching markets must drop the old market's reconciler")
	assert.Nil(t, eng.lots, "switching markets must drop the old market's lot manager")

	eng.OnPrice(decimal.NewFromInt(10), time.Now().UTC())
	eng.Tick(ctx, "ETH-USD")
	assert.NotSame(t, staleReconciler, eng.reconciler, "the new market must get a fresh reconciler")
}

func TestTick_NonReentrant(t *testing.T) {
	_, _, eng := testEngine(t)
	require.True(t, eng.tickBusy.CompareAndSwap(false, true))
	assert.False(t, eng.tickBusy.CompareAndSwap(false, true), "a second CAS must fail while a tick is in flight")
	eng.tickBusy.Store(false)
}
