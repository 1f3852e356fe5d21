package grid

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/model"
)

func baseConfig() model.Config {
	return model.Config{
		GridStepPct:         decimal.NewFromFloat(0.01),
		StagingBandDepthPct: decimal.NewFromFloat(0.05),
		MinBandOrders:       3,
		MaxBandOrders:       10,
		BudgetUSD:           decimal.NewFromInt(1000),
		SizingMode:          model.SizingBudgetSplit,
		ProfitMode:          model.ProfitStep,
	}
}

func TestDesiredLevels_DecreasingAndWithinBand(t *testing.T) {
	p := NewPlanner(baseConfig())
	levels := p.DesiredLevels(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(1000), decimal.NewFromFloat(0.0001))
	require.NotEmpty(t, levels)
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i].Price.LessThan(levels[i-1].Price), "levels must strictly decrease")
	}
	for _, l := range levels {
		assert.True(t, l.Size.IsPositive())
	}
}

func TestDesiredLevels_RespectsMaxBandOrders(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxBandOrders = 4
	cfg.MinBandOrders = 1
	cfg.StagingBandDepthPct = decimal.NewFromFloat(0.5) // wide band so the cap binds, not the depth
	p := NewPlanner(cfg)
	levels := p.DesiredLevels(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(1000), decimal.NewFromFloat(0.0001))
	assert.LessOrEqual(t, len(levels), 4)
}

func TestGridTop_BufferDisabledReturnsAnchor(t *testing.T) {
	cfg := baseConfig()
	cfg.BufferEnabled = false
	p := NewPlanner(cfg)
	assert.True(t, p.GridTop(decimal.NewFromInt(100)).Equal(decimal.NewFromInt(100)))
}

func TestGridTop_BufferAppliesDiscount(t *testing.T) {
	cfg := baseConfig()
	cfg.BufferEnabled = true
	cfg.BufferPct = decimal.NewFromFloat(0.1)
	p := NewPlanner(cfg)
	got := p.GridTop(decimal.NewFromInt(100))
	assert.True(t, got.Equal(decimal.NewFromInt(90)), "got %s", got)
}

func TestSellPrice_StepModeIsAboveBuyAndRoundedUp(t *testing.T) {
	p := NewPlanner(baseConfig())
	sell, err := p.SellPrice(decimal.NewFromInt(100), decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.True(t, sell.GreaterThan(decimal.NewFromInt(100)), "sell price must exceed buy price (no-loss invariant)")
}

func TestSellPrice_CustomModeUsesCustomPct(t *testing.T) {
	cfg := baseConfig()
	cfg.ProfitMode = model.ProfitCustom
	cfg.CustomProfitPct = decimal.NewFromFloat(0.05)
	p := NewPlanner(cfg)
	sell, err := p.SellPrice(decimal.NewFromInt(100), decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.True(t, sell.GreaterThanOrEqual(decimal.NewFromInt(105)))
}

// TestSellPrice_FeeBufferLowersFloorButStaysAboveBuy pins down I3's
// full formula (buy_price * (1 + grid_step_pct - fee_buffer_pct)): the
// fee buffer eats into the margin but the sell price must still clear
// the buy price as long as fee_buffer_pct < grid_step_pct.
func TestSellPrice_FeeBufferLowersFloorButStaysAboveBuy(t *testing.T) {
	cfg := baseConfig()
	cfg.GridStepPct = decimal.NewFromFloat(0.02)
	cfg.FeeBufferPct = decimal.NewFromFloat(0.005)
	p := NewPlanner(cfg)

	sell, err := p.SellPrice(decimal.NewFromInt(100), decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	// floor = 100 * (1 + 0.02 - 0.005) = 101.5
	assert.True(t, sell.GreaterThanOrEqual(decimal.NewFromFloat(101.5)), "got %s", sell)
	assert.True(t, sell.GreaterThan(decimal.NewFromInt(100)), "sell price must still exceed buy price")

	noBufferCfg := baseConfig()
	noBufferCfg.GridStepPct = decimal.NewFromFloat(0.02)
	noBufferSell, err := NewPlanner(noBufferCfg).SellPrice(decimal.NewFromInt(100), decimal.NewFromFloat(0.01))
	require.NoError(t, err)
	assert.True(t, sell.LessThan(noBufferSell), "the fee buffer must lower the sell price relative to the no-buffer case")
}

// TestSellPrice_FeeBufferExceedingStepIsRejected pins down §8's boundary
// case: fee_buffer_pct > grid_step_pct means no price can satisfy I3
// without undercutting the buy price, so SellPrice rejects instead of
// returning a price the lot manager would submit anyway.
func TestSellPrice_FeeBufferExceedingStepIsRejected(t *testing.T) {
	cfg := baseConfig()
	cfg.GridStepPct = decimal.NewFromFloat(0.001)
	cfg.FeeBufferPct = decimal.NewFromFloat(0.002)
	p := NewPlanner(cfg)

	_, err := p.SellPrice(decimal.NewFromInt(100), decimal.NewFromFloat(0.01))
	require.Error(t, err)
	var permErr *model.PermanentExchangeError
	require.ErrorAs(t, err, &permErr)
}

func TestLevelSizeUSD_SizingModes(t *testing.T) {
	cfg := baseConfig()

	cfg.SizingMode = model.SizingFixedUSD
	cfg.FixedUSDPerTrade = decimal.NewFromInt(50)
	p := NewPlanner(cfg)
	assert.True(t, p.levelSizeUSD(5, decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(50)))

	cfg.SizingMode = model.SizingCapitalPct
	cfg.CapitalPctPerTrade = decimal.NewFromInt(10)
	p = NewPlanner(cfg)
	assert.True(t, p.levelSizeUSD(5, decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(100)))

	cfg.SizingMode = model.SizingBudgetSplit
	cfg.BudgetUSD = decimal.NewFromInt(1000)
	p = NewPlanner(cfg)
	assert.True(t, p.levelSizeUSD(4, decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(250)))
	assert.True(t, p.levelSizeUSD(0, decimal.NewFromInt(1000)).IsZero())
}

func TestSmartReinvestSizeMultiplier(t *testing.T) {
	cfg := baseConfig()
	cfg.ProfitMode = model.ProfitSmartReinvest
	cfg.MonthlyProfitTargetUSD = decimal.NewFromInt(1000)
	cfg.SmartReinvestConservativeMult = decimal.NewFromFloat(0.5)
	p := NewPlanner(cfg)

	assert.True(t, p.SmartReinvestSizeMultiplier(decimal.NewFromInt(500)).Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, p.SmartReinvestSizeMultiplier(decimal.NewFromInt(1500)).Equal(decimal.NewFromInt(1)))

	cfg.ProfitMode = model.ProfitStep
	p = NewPlanner(cfg)
	assert.True(t, p.SmartReinvestSizeMultiplier(decimal.NewFromInt(0)).Equal(decimal.NewFromInt(1)))
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2026, 3, 15, 12, 30, 0, 0, time.UTC))
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, got.Equal(want))
}

func TestRoundToIncrement(t *testing.T) {
	got := roundToIncrement(decimal.NewFromFloat(1.2345), decimal.NewFromFloat(0.01))
	assert.True(t, got.Equal(decimal.NewFromFloat(1.23)), "got %s", got)

	got = roundToIncrement(decimal.NewFromFloat(1.2345), decimal.Zero)
	assert.True(t, got.Equal(decimal.NewFromFloat(1.2345)))
}

func TestRoundUpToIncrement(t *testing.T) {
	got := roundUpToIncrement(decimal.NewFromFloat(1.231), decimal.NewFromFloat(0.01))
	assert.True(t, got.Equal(decimal.NewFromFloat(1.24)), "got %s", got)
}
