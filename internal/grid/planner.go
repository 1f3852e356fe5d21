// Package grid computes the desired ladder of BUY price levels and the
// paired SELL price for a filled lot (§4.3). Grounded on the teacher's
// tick-loop sizing branches (trader.go's SizingMode-style knobs) and on
// wilsonricardopereirasilveira-grid-trading-btc-binance's grid-level
// placement/take-profit shape (placeNewGridOrders/checkTakeProfit),
// rewritten as a pure planner rather than a stateful strategy object
// since §4.3 requires "identical inputs -> identical output".
package grid

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// Level is one desired BUY price/size pair.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Planner computes desired grid levels and sell prices from Config.
// It carries no mutable state — every method is a pure function of its
// arguments.
type Planner struct {
	cfg model.Config
}

// NewPlanner builds a Planner from the persisted Config singleton.
func NewPlanner(cfg model.Config) *Planner {
	return &Planner{cfg: cfg}
}

// GridTop returns anchor_high adjusted by the optional buffer.
func (p *Planner) GridTop(anchorHigh decimal.Decimal) decimal.Decimal {
	if !p.cfg.BufferEnabled {
		return anchorHigh
	}
	return anchorHigh.Mul(decimal.NewFromInt(1).Sub(p.cfg.BufferPct))
}

// DesiredLevels generates the ordered (decreasing) set of BUY levels
// for the staging band, per §4.3's L_k = band_hi * (1-step)^k
// generation rule, floored at min_band_orders and capped at
// max_band_orders. baseIncrement rounds each level's base size to the
// market's exchange increment.
func (p *Planner) DesiredLevels(price, anchorHigh decimal.Decimal, availableCapital decimal.Decimal, baseIncrement decimal.Decimal) []Level {
	gridTop := p.GridTop(anchorHigh)
	bandHi := decimal.Min(price, gridTop)
	bandLo := price.Mul(decimal.NewFromInt(1).Sub(p.cfg.StagingBandDepthPct))

	one := decimal.NewFromInt(1)
	factor := one.Sub(p.cfg.GridStepPct)

	var prices []decimal.Decimal
	cur := bandHi
	for k := 1; k <= p.cfg.MaxBandOrders; k++ {
		cur = cur.Mul(factor)
		if cur.LessThanOrEqual(decimal.Zero) {
			break
		}
		if cur.LessThan(bandLo) && len(prices) >= p.cfg.MinBandOrders {
			break
		}
		prices = append(prices, cur)
	}

	sizeUSD := p.levelSizeUSD(len(prices), availableCapital)

	levels := make([]Level, 0, len(prices))
	for _, lp := range prices {
		if lp.IsZero() {
			continue
		}
		sizeBase := sizeUSD.Div(lp)
		sizeBase = roundToIncrement(sizeBase, baseIncrement)
		if sizeBase.IsPositive() {
			levels = append(levels, Level{Price: lp, Size: sizeBase})
		}
	}
	return levels
}

// levelSizeUSD implements the three sizing_mode formulas of §4.3.
func (p *Planner) levelSizeUSD(levelCount int, availableCapital decimal.Decimal) decimal.Decimal {
	switch p.cfg.SizingMode {
	case model.SizingFixedUSD:
		return p.cfg.FixedUSDPerTrade
	case model.SizingCapitalPct:
		return availableCapital.Mul(p.cfg.CapitalPctPerTrade).Div(decimal.NewFromInt(100))
	default: // BUDGET_SPLIT
		if levelCount <= 0 {
			return decimal.Zero
		}
		return p.cfg.BudgetUSD.Div(decimal.NewFromInt(int64(levelCount)))
	}
}

// SellPrice implements the four profit-mode policies of §4.3, net of
// the configured fee buffer: I3 requires
// `sell_price >= buy_price * (1 + grid_step_pct - fee_buffer_pct)`, so
// fee_buffer_pct is subtracted from every mode's multiplier rather than
// only applied to STEP. quoteIncrement rounds the result up so the
// no-loss invariant holds strictly even after exchange rounding.
//
// If fee_buffer_pct exceeds grid_step_pct, no sell price can satisfy
// I3 without undercutting the buy price (the boundary case of §8):
// SellPrice returns a *model.PermanentExchangeError instead of a price,
// and the caller must leave the Lot OPEN rather than submit.
func (p *Planner) SellPrice(buyPrice decimal.Decimal, quoteIncrement decimal.Decimal) (decimal.Decimal, error) {
	if p.cfg.FeeBufferPct.GreaterThan(p.cfg.GridStepPct) {
		return decimal.Decimal{}, &model.PermanentExchangeError{
			Op: "grid.SellPrice",
			Err: fmt.Errorf("fee_buffer_pct %s exceeds grid_step_pct %s: no sell price satisfies I3 without undercutting the buy price",
				p.cfg.FeeBufferPct.String(), p.cfg.GridStepPct.String()),
		}
	}

	var mult decimal.Decimal
	switch p.cfg.ProfitMode {
	case model.ProfitCustom:
		mult = decimal.NewFromInt(1).Add(p.cfg.CustomProfitPct).Sub(p.cfg.FeeBufferPct)
	default: // STEP, STEP_REINVEST and SMART_REINVEST share the same sell
		// formula; SMART_REINVEST's multiplier is a sizing factor
		// (SmartReinvestSizeMultiplier), not part of the sell price.
		mult = decimal.NewFromInt(1).Add(p.cfg.GridStepPct).Sub(p.cfg.FeeBufferPct)
	}
	raw := buyPrice.Mul(mult)
	return roundUpToIncrement(raw, quoteIncrement), nil
}

// SmartReinvestSizeMultiplier returns the SMART_REINVEST size multiplier
// for BUDGET_SPLIT/CAPITAL_PCT sizing: the conservative multiplier while
// the running month is below its profit target, 1x after. Month boundary
// is UTC first-of-month (§4.3). No caller in this module applies it:
// DesiredLevels sizes levels without this multiplier.
func (p *Planner) SmartReinvestSizeMultiplier(currentMonthRealizedPnLUSD decimal.Decimal) decimal.Decimal {
	if p.cfg.ProfitMode != model.ProfitSmartReinvest {
		return decimal.NewFromInt(1)
	}
	if currentMonthRealizedPnLUSD.LessThan(p.cfg.MonthlyProfitTargetUSD) {
		return p.cfg.SmartReinvestConservativeMult
	}
	return decimal.NewFromInt(1)
}

// MonthStart returns the UTC first-of-month boundary containing t, the
// start of the month whose realized PnL SmartReinvestSizeMultiplier
// takes. No caller in this module uses it.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func roundToIncrement(v, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return v
	}
	steps := v.Div(increment).Truncate(0)
	return steps.Mul(increment)
}

func roundUpToIncrement(v, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return v
	}
	steps := v.Div(increment)
	rounded := steps.Ceil()
	return rounded.Mul(increment)
}
