// Package model holds the domain types shared across the trading engine:
// markets, orders, fills, lots, bot state, and the singleton config. All
// money-bearing fields use decimal.Decimal so grid arithmetic and the
// no-loss invariant (I3) never fall prey to float rounding.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order or fill.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus tracks an Order through its exchange lifecycle.
type OrderStatus string

const (
	OrderPendingPlace OrderStatus = "PENDING_PLACE"
	OrderOpen         OrderStatus = "OPEN"
	OrderFilled       OrderStatus = "FILLED"
	OrderCanceled     OrderStatus = "CANCELED"
	OrderRejected     OrderStatus = "REJECTED"
	OrderUnknown      OrderStatus = "UNKNOWN"
)

// LotStatus tracks a Lot from its buy fill to close.
type LotStatus string

const (
	LotOpen        LotStatus = "OPEN"
	LotSellPlaced  LotStatus = "SELL_PLACED"
	LotClosed      LotStatus = "CLOSED"
)

// EngineMode is the Engine's top-level state (§4.1).
type EngineMode string

const (
	ModeStopped EngineMode = "STOPPED"
	ModeRunning EngineMode = "RUNNING"
	ModeHold    EngineMode = "HOLD"
	ModePaused  EngineMode = "PAUSED"
)

// ProfitMode selects the sell-price policy (§4.3).
type ProfitMode string

const (
	ProfitStep          ProfitMode = "STEP"
	ProfitStepReinvest  ProfitMode = "STEP_REINVEST"
	ProfitCustom        ProfitMode = "CUSTOM"
	ProfitSmartReinvest ProfitMode = "SMART_REINVEST"
)

// SizingMode selects the per-level sizing formula (§4.3).
type SizingMode string

const (
	SizingBudgetSplit SizingMode = "BUDGET_SPLIT"
	SizingFixedUSD    SizingMode = "FIXED_USD"
	SizingCapitalPct  SizingMode = "CAPITAL_PCT"
)

// Market is a tradable exchange product and its bot-facing flags.
type Market struct {
	ID              string // exchange product id, e.g. "BTC-USD"
	Enabled         bool   // Highlander invariant I1: at most one true
	IsFavorite      bool
	Ranking         int
	SettingsJSON    string // opaque per-market override blob (raw JSON)
	BaseIncrement   decimal.Decimal
	QuoteIncrement  decimal.Decimal
	MinSize         decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Config is the process-wide singleton knob set (§3).
type Config struct {
	GridStepPct                     decimal.Decimal
	BudgetUSD                       decimal.Decimal
	MaxOpenOrders                   int
	BufferEnabled                   bool
	BufferPct                       decimal.Decimal
	StagingBandDepthPct             decimal.Decimal
	MinBandOrders                   int
	MaxBandOrders                   int
	ProfitMode                      ProfitMode
	CustomProfitPct                 decimal.Decimal
	MonthlyProfitTargetUSD          decimal.Decimal
	SizingMode                      SizingMode
	FixedUSDPerTrade                decimal.Decimal
	CapitalPctPerTrade              decimal.Decimal
	LiveTradingEnabled               bool
	PaperMode                       bool
	FeeBufferPct                    decimal.Decimal
	MaxGridCapitalPct               decimal.Decimal
	SmartReinvestConservativeMult   decimal.Decimal
	TickInterval                    time.Duration
	ReconcileMaxOpsPerTick          int
	EventQueueDepth                 int
}

// Order is our normalized view of an exchange order.
type Order struct {
	ID         string // exchange-assigned; empty until ACKed
	ClientTag  string // our idempotency token, unique
	MarketID   string
	Side       OrderSide
	Price      decimal.Decimal
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LotID      int64 // 0 == none; set for paired SELLs
}

// Notional returns price*size for a rough dollar-value estimate.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Size)
}

// Fill is a single exchange execution report.
type Fill struct {
	ID        string
	OrderID   string
	MarketID  string
	Side      OrderSide
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Lot is one unit of inventory: a BUY fill plus its paired SELL.
type Lot struct {
	ID           int64
	MarketID     string
	BuyOrderID   string
	BuyPrice     decimal.Decimal
	BuySize      decimal.Decimal
	BuyTime      time.Time
	SellOrderID  string // empty until a SELL is placed
	SellPrice    decimal.Decimal
	SellTime     time.Time
	FeeBuyUSD    decimal.Decimal
	FeeSellUSD   decimal.Decimal
	RealizedPnL  decimal.Decimal
	Status       LotStatus
}

// BotState is the per-market persisted control-plane snapshot.
type BotState struct {
	MarketID    string
	AnchorHigh  decimal.Decimal
	Mode        EngineMode
	LastTickAt  time.Time
}

// GridTop returns the upper bound of buy placements for this state.
func (s BotState) GridTop(bufferEnabled bool, bufferPct decimal.Decimal) decimal.Decimal {
	if !bufferEnabled {
		return s.AnchorHigh
	}
	one := decimal.NewFromInt(1)
	return s.AnchorHigh.Mul(one.Sub(bufferPct))
}

// AuditLogEntry is an append-only record of system/user actions.
type AuditLogEntry struct {
	ID        int64
	Timestamp time.Time
	Actor     string // "system" | "user"
	Action    string
	Before    string // JSON snapshot, may be empty
	After     string // JSON snapshot, may be empty
}
