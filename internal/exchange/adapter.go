// Package exchange defines the ExchangeAdapter capability (§6.1) and
// its two implementations, grounded on the teacher's Broker interface
// (broker.go) and its Coinbase/paper implementations.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// Product describes a tradable market's increments, as returned by
// GetProducts.
type Product struct {
	ID             string
	BaseIncrement  decimal.Decimal
	QuoteIncrement decimal.Decimal
	MinSize        decimal.Decimal
}

// TickerCallback receives streamed price updates.
type TickerCallback func(marketID string, price decimal.Decimal, ts time.Time)

// FillCallback receives streamed fill reports.
type FillCallback func(f model.Fill)

// Adapter is the capability every exchange integration exposes to the
// engine. All operations may fail with model.TransientExchangeError or
// model.PermanentExchangeError; callers distinguish the two to decide
// whether to retry.
type Adapter interface {
	Name() string

	GetProducts(ctx context.Context) ([]Product, error)
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	GetTicker(ctx context.Context, marketID string) (decimal.Decimal, error)

	// PlaceLimitOrder is idempotent by clientTag: repeat calls with the
	// same tag must return the same order id without creating a
	// duplicate order on the exchange.
	PlaceLimitOrder(ctx context.Context, marketID string, side model.OrderSide, price, size decimal.Decimal, clientTag string, postOnly bool) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context, marketID string) ([]model.Order, error)
	GetFills(ctx context.Context, sinceUnix int64) ([]model.Fill, error)

	StreamTicker(ctx context.Context, marketID string, cb TickerCallback) error
	StreamFills(ctx context.Context, cb FillCallback) error
}
