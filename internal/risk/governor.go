// Package risk implements the pure admission-control decision function
// applied before any order placement or anchor-driven action (§4.2),
// grounded on yanun0323-go-hft's internal/risk/engine.go: a Config
// struct of static limits plus an Evaluate(intent, state) Decision
// pure function returning an allow/deny action and a typed reason.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// Action is the governor's verdict on an order intent.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionDeny  Action = "DENY"
	ActionHold  Action = "HOLD"
)

// Reason names why an intent was denied or held.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonMaxOpenOrders   Reason = "MAX_OPEN_ORDERS"
	ReasonCapitalCap      Reason = "CAPITAL_CAP"
	ReasonPerMarketCap    Reason = "PER_MARKET_CAP"
	ReasonTradingDisabled Reason = "TRADING_DISABLED"
	ReasonEngineState     Reason = "ENGINE_STATE"
	ReasonHold            Reason = "HOLD"
)

// Intent describes a proposed order the engine wants to place.
type Intent struct {
	MarketID string
	Side     model.OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
}

// Notional returns price*size for the intent.
func (i Intent) Notional() decimal.Decimal { return i.Price.Mul(i.Size) }

// StateView is the snapshot of world state Evaluate needs. Deployed
// capital and open-order counts are computed by the caller (the
// engine, from Store) once per tick and passed in rather than
// recomputed inside the governor, keeping Evaluate a pure function of
// its arguments.
type StateView struct {
	EngineMode        model.EngineMode
	OpenOrderCount    int
	ActiveMarketCount int // Highlander makes this 1 whenever a market is active
	DeployedCapital   decimal.Decimal
	AvailableQuote    decimal.Decimal
}

// Decision is the governor's verdict plus the context that produced
// it, useful for audit logging and for tests exercising the two Open
// Question interpretations of the capital-cap denominator (see
// DESIGN.md).
type Decision struct {
	Action          Action
	Reason          Reason
	DeployedCapital decimal.Decimal
	TotalCapital    decimal.Decimal
	CapitalCapUSD   decimal.Decimal
}

// Governor holds the static limits read from Config. It carries no
// mutable state: repeated Evaluate calls with the same arguments
// always return the same Decision.
type Governor struct {
	cfg model.Config
}

// NewGovernor builds a Governor from the persisted Config singleton.
func NewGovernor(cfg model.Config) *Governor {
	return &Governor{cfg: cfg}
}

// Evaluate applies the admission rules of §4.2 and reports the first
// one violated, checked in this order: engine state, trading enabled,
// max open orders, per-market cap, then (BUY only) capital cap and
// HOLD.
func (g *Governor) Evaluate(intent Intent, state StateView) Decision {
	// Open Question 1 (denominator interpretation, see DESIGN.md):
	// totalCapital is deployed capital plus quote sitting available to
	// deploy, and the cap is a fraction of that *total working capital*,
	// not of budget_usd alone: cap_usd = total_capital * max_grid_capital_pct.
	totalCapital := state.DeployedCapital.Add(state.AvailableQuote)
	capUSD := totalCapital.Mul(g.cfg.MaxGridCapitalPct)

	decision := Decision{
		Action:          ActionAllow,
		Reason:          ReasonNone,
		DeployedCapital: state.DeployedCapital,
		TotalCapital:    totalCapital,
		CapitalCapUSD:   capUSD,
	}

	if state.EngineMode == model.ModePaused || state.EngineMode == model.ModeStopped {
		decision.Action = ActionDeny
		decision.Reason = ReasonEngineState
		return decision
	}

	if !g.cfg.LiveTradingEnabled && !g.cfg.PaperMode {
		decision.Action = ActionDeny
		decision.Reason = ReasonTradingDisabled
		return decision
	}

	if state.OpenOrderCount >= g.cfg.MaxOpenOrders {
		decision.Action = ActionDeny
		decision.Reason = ReasonMaxOpenOrders
		return decision
	}

	if perMarketCap := perMarketSoftCap(g.cfg.MaxOpenOrders, state.ActiveMarketCount); state.OpenOrderCount >= perMarketCap {
		decision.Action = ActionDeny
		decision.Reason = ReasonPerMarketCap
		return decision
	}

	overCap := state.DeployedCapital.Add(intent.Notional()).GreaterThan(capUSD)
	atOrOverCap := state.DeployedCapital.GreaterThanOrEqual(capUSD)

	if intent.Side == model.SideBuy {
		if overCap {
			decision.Action = ActionDeny
			decision.Reason = ReasonCapitalCap
			return decision
		}
		if atOrOverCap {
			decision.Action = ActionHold
			decision.Reason = ReasonHold
			return decision
		}
	}
	// SELL placements are always admitted once past the engine-state
	// and trading-enabled gates, including while HOLD is in effect
	// (§4.2: "In HOLD, SELL placements are still admitted").

	return decision
}

// perMarketSoftCap divides max_open_orders across active markets;
// with the Highlander invariant enforcing at most one active market,
// this equals max_open_orders itself.
func perMarketSoftCap(maxOpenOrders, activeMarketCount int) int {
	if activeMarketCount <= 0 {
		return maxOpenOrders
	}
	return maxOpenOrders / activeMarketCount
}

// IsHold reports whether deployed capital alone (independent of any
// specific intent) has crossed into HOLD territory, for the engine's
// RUNNING<->HOLD state transition (§4.1). Uses the same total-working-
// capital ratio Evaluate applies to the capital cap.
func (g *Governor) IsHold(deployedCapital, availableQuote decimal.Decimal) bool {
	totalCapital := deployedCapital.Add(availableQuote)
	capUSD := totalCapital.Mul(g.cfg.MaxGridCapitalPct)
	return deployedCapital.GreaterThanOrEqual(capUSD)
}
