package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/gridbot/internal/model"
)

func baseValidConfig() model.Config {
	return model.Config{
		GridStepPct:       decimal.NewFromFloat(0.01),
		MaxOpenOrders:     10,
		MinBandOrders:     2,
		MaxBandOrders:     5,
		ProfitMode:        model.ProfitStep,
		SizingMode:        model.SizingBudgetSplit,
		MaxGridCapitalPct: decimal.NewFromFloat(0.7),
	}
}

func TestValidate_AcceptsBaseConfig(t *testing.T) {
	assert.NoError(t, Validate(baseValidConfig()))
}

func TestValidate_RejectsZeroOrNegativeGridStepPct(t *testing.T) {
	c := baseValidConfig()
	c.GridStepPct = decimal.Zero
	err := Validate(c)
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "grid_step_pct", cfgErr.Field)
}

func TestValidate_RejectsMaxOpenOrdersOverCap(t *testing.T) {
	c := baseValidConfig()
	c.MaxOpenOrders = 491
	err := Validate(c)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "max_open_orders", cfgErr.Field)
}

func TestValidate_RejectsMinBandOrdersAboveMax(t *testing.T) {
	c := baseValidConfig()
	c.MinBandOrders = 10
	c.MaxBandOrders = 5
	assert.Error(t, Validate(c))
}

func TestValidate_RejectsUnrecognizedProfitMode(t *testing.T) {
	c := baseValidConfig()
	c.ProfitMode = model.ProfitMode("bogus")
	assert.Error(t, Validate(c))
}

func TestValidate_RejectsMaxGridCapitalPctOutOfRange(t *testing.T) {
	c := baseValidConfig()
	c.MaxGridCapitalPct = decimal.NewFromInt(2)
	assert.Error(t, Validate(c))

	c.MaxGridCapitalPct = decimal.Zero
	assert.Error(t, Validate(c))
}

func TestClampMaxOpenOrders(t *testing.T) {
	assert.Equal(t, 490, clampMaxOpenOrders(1000))
	assert.Equal(t, 1, clampMaxOpenOrders(0))
	assert.Equal(t, 1, clampMaxOpenOrders(-5))
	assert.Equal(t, 25, clampMaxOpenOrders(25))
}

func TestLoad_ReadsEnvOverrides(t *testing.T) {
	t.Setenv("GRID_STEP_PCT", "0.02")
	t.Setenv("MAX_OPEN_ORDERS", "50")
	t.Setenv("EXCHANGE_TYPE", "coinbase")

	rcfg, err := Load()
	require.NoError(t, err)
	assert.True(t, rcfg.GridStepPct.Equal(decimal.NewFromFloat(0.02)))
	assert.Equal(t, 50, rcfg.MaxOpenOrders)
	assert.Equal(t, "coinbase", rcfg.ExchangeType)
}

func TestLoad_RejectsInvalidGridStepPctFromEnv(t *testing.T) {
	t.Setenv("GRID_STEP_PCT", "0")
	_, err := Load()
	assert.Error(t, err)
}
