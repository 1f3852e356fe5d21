// Package lot implements the Lot lifecycle of §4.4: a BUY fill opens a
// Lot, a paired SELL is submitted with exponential backoff and never
// abandoned, and a SELL fill closes the Lot with realized PnL.
// Grounded on wilsonricardopereirasilveira-grid-trading-btc-binance's
// checkTakeProfit/processFills pairing logic and on the teacher's
// Position/BotState persistence shape (trader.go), generalized from
// that repo's single aggregate-inventory take-profit into Coinbase's
// per-lot pairing scheme.
package lot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/metrics"
	"github.com/chidi150c/gridbot/internal/model"
	"github.com/chidi150c/gridbot/internal/store"
)

// Manager owns the buy-fill -> sell-placement -> sell-fill pipeline for
// one market.
type Manager struct {
	st      *store.Store
	adapter exchange.Adapter
	planner *grid.Planner

	backoff     map[int64]*exchange.Backoff // per-lot SELL retry schedule
	nextRetryAt map[int64]time.Time
}

// NewManager builds a Manager wired to the store, exchange adapter and
// grid planner for the active market.
func NewManager(st *store.Store, adapter exchange.Adapter, planner *grid.Planner) *Manager {
	return &Manager{
		st: st, adapter: adapter, planner: planner,
		backoff:     map[int64]*exchange.Backoff{},
		nextRetryAt: map[int64]time.Time{},
	}
}

// SetPlanner swaps in a Planner built from a freshly reloaded Config
// without touching per-lot backoff state. The engine calls this every
// tick instead of constructing a new Manager, so a Manager built once
// per active market keeps its backoff/nextRetryAt schedules alive
// across ticks (§4.4/§7's retry backoff is per-lot, not per-tick).
func (m *Manager) SetPlanner(planner *grid.Planner) { m.planner = planner }

// OnBuyFill implements §4.4's BUY-fill sequence: open a Lot, compute the
// paired sell price, and submit the SELL with an idempotent client_tag.
// A SELL submission failure never abandons the Lot — it stays OPEN and
// is retried by RetryPendingSells on subsequent ticks.
func (m *Manager) OnBuyFill(ctx context.Context, f model.Fill, quoteIncrement decimal.Decimal) (model.Lot, error) {
	lotID, err := m.st.CreateLot(ctx, model.Lot{
		MarketID:   f.MarketID,
		BuyOrderID: f.OrderID,
		BuyPrice:   f.Price,
		BuySize:    f.Size,
		BuyTime:    f.Timestamp,
		FeeBuyUSD:  f.Fee,
	})
	if err != nil {
		return model.Lot{}, fmt.Errorf("lot: create on buy fill: %w", err)
	}
	if err := m.st.SetOrderLot(ctx, f.OrderID, lotID); err != nil {
		return model.Lot{}, fmt.Errorf("lot: attach buy order: %w", err)
	}

	l, err := m.st.GetLot(ctx, lotID)
	if err != nil {
		return model.Lot{}, err
	}

	m.trySubmitSell(ctx, l, quoteIncrement)
	return m.st.GetLot(ctx, lotID)
}

// trySubmitSell places the paired SELL for an OPEN lot, or schedules a
// backoff-delayed retry on failure without ever marking the Lot closed
// or abandoned.
func (m *Manager) trySubmitSell(ctx context.Context, l model.Lot, quoteIncrement decimal.Decimal) {
	if l.Status != model.LotOpen {
		return
	}
	sellPrice, err := m.planner.SellPrice(l.BuyPrice, quoteIncrement)
	if err != nil {
		// fee_buffer_pct > grid_step_pct: no sell price can satisfy I3.
		// The Lot stays OPEN and RetryPendingSells keeps re-checking it
		// every tick, so fixing the config unsticks it without replaying
		// the buy fill (§8's fee-buffer boundary case).
		return
	}
	clientTag := fmt.Sprintf("sell-%d", l.ID)

	orderID, err := m.adapter.PlaceLimitOrder(ctx, l.MarketID, model.SideSell, sellPrice, l.BuySize, clientTag, true)
	if err != nil {
		// leave the Lot OPEN; RetryPendingSells will attempt again once
		// its per-lot backoff elapses.
		b, ok := m.backoff[l.ID]
		if !ok {
			b = exchange.NewBackoff()
			m.backoff[l.ID] = b
		}
		m.nextRetryAt[l.ID] = time.Now().UTC().Add(b.Next())
		return
	}
	delete(m.backoff, l.ID)
	delete(m.nextRetryAt, l.ID)
	metrics.IncOrderPlaced("SELL")

	// Record the SELL locally (paired to the lot) so the fill drain can
	// route its fill back here; a duplicate tag means an earlier attempt
	// already stored it.
	if err := m.st.InsertOrder(ctx, model.Order{
		ID: orderID, ClientTag: clientTag, MarketID: l.MarketID, Side: model.SideSell,
		Price: sellPrice, Size: l.BuySize, Status: model.OrderOpen, LotID: l.ID,
	}); err != nil && err != store.ErrDuplicateClientTag {
		return
	}
	_ = m.st.AttachSellOrder(ctx, l.ID, orderID, sellPrice)
}

// RetryPendingSells re-attempts SELL submission for every Lot still
// OPEN (meaning its prior SELL attempt did not succeed), honoring each
// lot's own exponential backoff schedule (base 500ms, factor 2, cap
// 60s per §4.4/§7).
func (m *Manager) RetryPendingSells(ctx context.Context, marketID string, quoteIncrement decimal.Decimal, now time.Time) error {
	lots, err := m.st.ListOpenLots(ctx, marketID)
	if err != nil {
		return err
	}
	for _, l := range lots {
		if l.Status != model.LotOpen {
			continue
		}
		if until, scheduled := m.nextRetryAt[l.ID]; scheduled && now.Before(until) {
			continue
		}
		m.trySubmitSell(ctx, l, quoteIncrement)
	}
	return nil
}

// OnSellFill implements §4.4's SELL-fill sequence: locate the Lot by
// sell_order_id, compute realized PnL net of both legs' fees, and
// close it. A partial fill closes a proportional slice of the Lot
// (Open Question 3, see DESIGN.md): the filled fraction is realized
// and closed out as its own accounting event, while the remainder
// stays OPEN with a reduced buy_size still pointing at the same
// resting sell order.
func (m *Manager) OnSellFill(ctx context.Context, l model.Lot, f model.Fill) (model.Lot, error) {
	fraction := f.Size.Div(l.BuySize)
	if fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}

	realized := f.Price.Sub(l.BuyPrice).Mul(f.Size).
		Sub(l.FeeBuyUSD.Mul(fraction)).
		Sub(f.Fee)

	if fraction.GreaterThanOrEqual(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(1e-9))) {
		l.SellTime = f.Timestamp
		l.FeeSellUSD = l.FeeSellUSD.Add(f.Fee)
		l.RealizedPnL = l.RealizedPnL.Add(realized)
		if err := m.st.CloseLot(ctx, l); err != nil {
			return model.Lot{}, fmt.Errorf("lot: close on sell fill: %w", err)
		}
		delete(m.backoff, l.ID)
		delete(m.nextRetryAt, l.ID)
		metrics.IncLotsClosed()
		if pnl, ok := l.RealizedPnL.Float64(); ok {
			metrics.SetRealizedPnLUSD(pnl)
		}
		return m.st.GetLot(ctx, l.ID)
	}

	remainder := l.BuySize.Sub(f.Size)
	closedSlice := model.Lot{
		MarketID:    l.MarketID,
		BuyOrderID:  l.BuyOrderID,
		BuyPrice:    l.BuyPrice,
		BuySize:     f.Size,
		BuyTime:     l.BuyTime,
		SellOrderID: l.SellOrderID,
		SellPrice:   f.Price,
		SellTime:    f.Timestamp,
		FeeBuyUSD:   l.FeeBuyUSD.Mul(fraction),
		FeeSellUSD:  f.Fee,
		RealizedPnL: realized,
		Status:      model.LotClosed,
	}
	sliceID, err := m.st.CreateLot(ctx, model.Lot{
		MarketID:   l.MarketID,
		BuyOrderID: syntheticBuyOrderID(l.BuyOrderID),
		BuyPrice:   closedSlice.BuyPrice,
		BuySize:    closedSlice.BuySize,
		BuyTime:    closedSlice.BuyTime,
		FeeBuyUSD:  closedSlice.FeeBuyUSD,
	})
	if err != nil {
		return model.Lot{}, fmt.Errorf("lot: create sub-lot for partial sell fill: %w", err)
	}
	closedSlice.ID = sliceID
	if err := m.st.CloseLot(ctx, closedSlice); err != nil {
		return model.Lot{}, fmt.Errorf("lot: close sub-lot for partial sell fill: %w", err)
	}
	metrics.IncLotsClosed()
	if pnl, ok := closedSlice.RealizedPnL.Float64(); ok {
		metrics.SetRealizedPnLUSD(pnl)
	}

	l.BuySize = remainder
	l.FeeBuyUSD = l.FeeBuyUSD.Sub(closedSlice.FeeBuyUSD)
	if err := m.st.UpdateLotRemainder(ctx, l.ID, l.BuySize, l.FeeBuyUSD); err != nil {
		return model.Lot{}, fmt.Errorf("lot: shrink parent lot after partial sell fill: %w", err)
	}
	return m.st.GetLot(ctx, l.ID)
}

// syntheticBuyOrderID derives a unique buy_order_id for a partial-fill
// sub-lot, since lots.buy_order_id carries a uniqueness constraint and
// the parent lot already owns the real exchange order id.
func syntheticBuyOrderID(parentBuyOrderID string) string {
	return parentBuyOrderID + "-partial-" + uuid.NewString()
}
