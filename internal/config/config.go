package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// RuntimeConfig is the process-level configuration: model.Config plus
// operational knobs (ports, product selection, exchange wiring) that
// live outside the persisted §3 Config singleton.
type RuntimeConfig struct {
	model.Config

	Env               string // ENV
	LogLevel          string // LOG_LEVEL
	ExchangeType      string // EXCHANGE_TYPE: coinbase|mock
	CoinbaseAPIKey    string // COINBASE_API_KEY (JWT key name)
	CoinbaseAPISecret string // COINBASE_API_SECRET (PEM private key)
	Port              int
	StatePath         string // sqlite DB path
	LogFile           string

	// MarketOverrides comes from the optional config.yaml override
	// layer's markets: block (CONFIG_FILE, default "config.yaml"); empty
	// when no file is present. cmd/coinbot seeds these via UpsertMarket
	// at boot so an operator doesn't have to re-POST /markets/:id after
	// every restart.
	MarketOverrides []MarketOverride
}

// Load builds a RuntimeConfig from the process environment, reading
// with defaults. It does not read .env itself: cmd/coinbot calls
// LoadDotEnv before Load, the teacher's convention. Validates the invariants that must hold before the engine
// can start (§8 boundary behaviors: grid_step_pct == 0 is rejected).
func Load() (*RuntimeConfig, error) {
	fo, err := LoadYAMLOverrides(getEnv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		return nil, err
	}
	applyYAMLDefaults(fo.Defaults)

	cfg := &RuntimeConfig{
		MarketOverrides:   fo.Markets,
		Env:               getEnv("ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ExchangeType:      getEnv("EXCHANGE_TYPE", "mock"),
		CoinbaseAPIKey:    getEnv("COINBASE_API_KEY", ""),
		CoinbaseAPISecret: getEnv("COINBASE_API_SECRET", ""),
		Port:              getEnvInt("PORT", 8080),
		StatePath:         getEnv("STATE_FILE", "./data/gridbot.db"),
		LogFile:           getEnv("LOG_FILE", ""),
	}

	cfg.Config = model.Config{
		GridStepPct:                   mustDecimal(getEnvDecimalStr("GRID_STEP_PCT", "0.01")),
		BudgetUSD:                     mustDecimal(getEnvDecimalStr("BUDGET_USD", "1000")),
		MaxOpenOrders:                 clampMaxOpenOrders(getEnvInt("MAX_OPEN_ORDERS", 25)),
		BufferEnabled:                 getEnvBool("BUFFER_ENABLED", false),
		BufferPct:                     mustDecimal(getEnvDecimalStr("BUFFER_PCT", "0")),
		StagingBandDepthPct:           mustDecimal(getEnvDecimalStr("STAGING_BAND_DEPTH_PCT", "0.05")),
		MinBandOrders:                 getEnvInt("MIN_BAND_ORDERS", 10),
		MaxBandOrders:                 getEnvInt("MAX_BAND_ORDERS", 25),
		ProfitMode:                    model.ProfitMode(getEnv("PROFIT_MODE", string(model.ProfitStep))),
		CustomProfitPct:               mustDecimal(getEnvDecimalStr("CUSTOM_PROFIT_PCT", "0.01")),
		MonthlyProfitTargetUSD:        mustDecimal(getEnvDecimalStr("MONTHLY_PROFIT_TARGET_USD", "1000")),
		SizingMode:                    model.SizingMode(getEnv("SIZING_MODE", string(model.SizingBudgetSplit))),
		FixedUSDPerTrade:              mustDecimal(getEnvDecimalStr("FIXED_USD_PER_TRADE", "50")),
		CapitalPctPerTrade:            mustDecimal(getEnvDecimalStr("CAPITAL_PCT_PER_TRADE", "5")),
		LiveTradingEnabled:            getEnvBool("LIVE_TRADING_ENABLED", false),
		PaperMode:                     getEnvBool("PAPER_MODE", true),
		FeeBufferPct:                  mustDecimal(getEnvDecimalStr("FEE_BUFFER_PCT", "0.002")),
		MaxGridCapitalPct:             mustDecimal(getEnvDecimalStr("MAX_GRID_CAPITAL_PCT", "0.70")),
		SmartReinvestConservativeMult: mustDecimal(getEnvDecimalStr("SMART_REINVEST_CONSERVATIVE_MULT", "0.5")),
		TickInterval:                  time.Duration(getEnvInt("TICK_INTERVAL_SEC", 2)) * time.Second,
		ReconcileMaxOpsPerTick:        getEnvInt("RECONCILE_MAX_OPS_PER_TICK", 10),
		EventQueueDepth:               getEnvInt("EVENT_QUEUE_DEPTH", 64),
	}

	if err := Validate(cfg.Config); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the config-time invariants of §8: grid_step_pct=0
// is rejected (it would produce infinite identical levels), and
// max_open_orders is hard-capped at 490.
func Validate(c model.Config) error {
	if c.GridStepPct.IsZero() || c.GridStepPct.IsNegative() {
		return &model.ConfigError{Field: "grid_step_pct", Detail: "must be > 0"}
	}
	if c.MaxOpenOrders <= 0 {
		return &model.ConfigError{Field: "max_open_orders", Detail: "must be > 0"}
	}
	if c.MaxOpenOrders > 490 {
		return &model.ConfigError{Field: "max_open_orders", Detail: "must be <= 490"}
	}
	if c.MinBandOrders <= 0 || c.MaxBandOrders < c.MinBandOrders {
		return &model.ConfigError{Field: "min_band_orders/max_band_orders", Detail: "min must be positive and <= max"}
	}
	switch c.ProfitMode {
	case model.ProfitStep, model.ProfitStepReinvest, model.ProfitCustom, model.ProfitSmartReinvest:
	default:
		return &model.ConfigError{Field: "profit_mode", Detail: "unrecognized profit mode"}
	}
	switch c.SizingMode {
	case model.SizingBudgetSplit, model.SizingFixedUSD, model.SizingCapitalPct:
	default:
		return &model.ConfigError{Field: "sizing_mode", Detail: "unrecognized sizing mode"}
	}
	if c.MaxGridCapitalPct.LessThanOrEqual(decimal.Zero) || c.MaxGridCapitalPct.GreaterThan(decimal.NewFromInt(1)) {
		return &model.ConfigError{Field: "max_grid_capital_pct", Detail: "must be in (0, 1]"}
	}
	return nil
}

func clampMaxOpenOrders(v int) int {
	if v > 490 {
		return 490
	}
	if v <= 0 {
		return 1
	}
	return v
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("config: invalid decimal literal %q: %v", s, err))
	}
	return d
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// applyYAMLDefaults sets a process env var from the config.yaml
// defaults: block only when it isn't already set, so real env vars
// always win over the file (§ ambient config layering: env > file >
// hardcoded default).
func applyYAMLDefaults(defaults map[string]string) {
	for k, v := range defaults {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
}
