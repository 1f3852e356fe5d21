// Package engine drives the tick loop and state machine of §4.1,
// grounded on the teacher's runLive/Trader.step shape (live.go's
// fixed-cadence loop, trader.go's mutex-guarded per-tick step),
// generalized from the teacher's single-strategy poll loop into the
// seven ordered phases §4.1 specifies: refresh, ingest price, update
// anchor, compute grid, ingest fills, reconcile, publish.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/eventbus"
	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/logging"
	"github.com/chidi150c/gridbot/internal/lot"
	"github.com/chidi150c/gridbot/internal/metrics"
	"github.com/chidi150c/gridbot/internal/model"
	"github.com/chidi150c/gridbot/internal/reconcile"
	"github.com/chidi150c/gridbot/internal/risk"
	"github.com/chidi150c/gridbot/internal/store"
)

// engineModes lists every EngineMode so metrics.SetEngineMode can flip
// the whole labeled set on each tick.
var engineModes = []string{
	string(model.ModeStopped), string(model.ModeRunning),
	string(model.ModeHold), string(model.ModePaused),
}

// Engine owns the per-market tick loop, its state machine, and the
// fill/ticker ingestion cells §5 describes as single-producer,
// many-consumer or single-producer-single-consumer.
type Engine struct {
	st       *store.Store
	adapter  exchange.Adapter
	bus      *eventbus.Bus
	killed   atomic.Bool
	tickBusy atomic.Bool

	priceMu   sync.RWMutex
	lastPrice decimal.Decimal
	priceAt   time.Time

	fillQueue *fillHeap
	fillMu    sync.Mutex

	// lots/reconciler are built once per active market and reused
	// across ticks: both carry backoff state (per-lot SELL retry
	// schedules, the per-tick op-budget halving and cooldown counter of
	// §4.6) that must survive past the tick that set it, unlike the
	// planner/governor, which are stateless and safe to rebuild from
	// Config every tick.
	lots       *lot.Manager
	reconciler *reconcile.Reconciler
}

// New builds an Engine wired to its dependencies. lots/reconciler are
// built lazily on first Tick for the active market and torn down on
// StartMarket, since only one market is ever active (Highlander).
func New(st *store.Store, adapter exchange.Adapter, bus *eventbus.Bus) *Engine {
	return &Engine{st: st, adapter: adapter, bus: bus, fillQueue: newFillHeap()}
}

// KillSwitch cancels every OPEN order for the active market, disables
// it, and sets a flag checked between every tick phase (§4.1's
// any -> STOPPED transition, §5's cancellation policy: in-flight calls
// complete, their fills still flow through LotManager).
func (e *Engine) KillSwitch(ctx context.Context, marketID string) error {
	e.killed.Store(true)
	open, err := e.st.ListOpenOrders(ctx, marketID)
	if err != nil {
		return err
	}
	for _, o := range open {
		if err := e.adapter.CancelOrder(ctx, o.ID); err != nil {
			logging.WithField("order_id", o.ID).Warnf("engine: kill switch cancel failed: %v", err)
			continue
		}
		_ = e.st.UpdateOrderStatus(ctx, o.ID, model.OrderCanceled, o.FilledSize)
	}
	return e.st.StopMarket(ctx, marketID)
}

// Resume clears the kill flag so a subsequent Run call ticks again.
func (e *Engine) Resume() { e.killed.Store(false) }

// OnPrice is the TickerStream consumer's write side: a single producer
// updates the last-value cell that Tick reads at the top of each
// iteration (§5's "LastPrice cell: single producer, many consumers").
func (e *Engine) OnPrice(price decimal.Decimal, ts time.Time) {
	e.priceMu.Lock()
	e.lastPrice = price
	e.priceAt = ts
	e.priceMu.Unlock()
}

// OnFill is the FillStream consumer's write side: fills are pushed
// onto a monotonic-timestamp heap so Tick drains them in
// exchange-timestamp order regardless of arrival order (§5).
func (e *Engine) OnFill(f model.Fill) {
	e.fillMu.Lock()
	e.fillQueue.push(f)
	e.fillMu.Unlock()
}

// Run drives ticks at the configured cadence until ctx is canceled.
// Ticks never overlap: a tick that runs long simply delays the next
// (§4.1 — no reentrancy).
func (e *Engine) Run(ctx context.Context, marketID string, tickInterval time.Duration) {
	if tickInterval <= 0 {
		tickInterval = 2 * time.Second
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.tickBusy.CompareAndSwap(false, true) {
				continue // previous tick still running; skip this cadence
			}
			e.Tick(ctx, marketID)
			e.tickBusy.Store(false)
		}
	}
}

// Tick runs the seven ordered phases of §4.1. Any phase may fail
// without killing the loop: it logs the error and ends the tick early
// so the next tick retries. No audit entry is written for a failed
// phase. A tick for a PAUSED or STOPPED market returns right after
// loading its state.
func (e *Engine) Tick(ctx context.Context, marketID string) {
	if e.killed.Load() {
		return
	}

	cfg, err := e.st.GetConfig(ctx)
	if err != nil {
		logging.Errorf("engine: tick: refresh config: %v", err)
		return
	}
	mkt, err := e.st.GetMarket(ctx, marketID)
	if err != nil {
		logging.Errorf("engine: tick: refresh market: %v", err)
		return
	}
	state, err := e.st.GetBotState(ctx, marketID)
	if err != nil {
		logging.Errorf("engine: tick: refresh bot state: %v", err)
		return
	}
	if state.Mode == model.ModePaused || state.Mode == model.ModeStopped {
		return // tick is a no-op while paused or stopped, per §4.1
	}
	if e.killed.Load() {
		return
	}

	e.priceMu.RLock()
	price, priceAt := e.lastPrice, e.priceAt
	e.priceMu.RUnlock()
	if price.IsZero() || time.Since(priceAt) > 5*cfg.TickInterval {
		p, err := e.adapter.GetTicker(ctx, marketID)
		if err != nil {
			logging.Errorf("engine: tick: forced get_ticker: %v", err)
			return
		}
		price = p
		e.OnPrice(price, time.Now().UTC())
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.PriceUpdate, Data: map[string]any{"market_id": marketID, "price": price.String()}})
	if e.killed.Load() {
		return
	}

	if price.GreaterThan(state.AnchorHigh) {
		state.AnchorHigh = price
		if err := e.st.SetAnchorHigh(ctx, marketID, state.AnchorHigh); err != nil {
			logging.Errorf("engine: tick: persist anchor: %v", err)
			return
		}
	}
	if e.killed.Load() {
		return
	}

	planner := grid.NewPlanner(cfg)
	governor := risk.NewGovernor(cfg)
	if e.lots == nil {
		e.lots = lot.NewManager(e.st, e.adapter, planner)
	} else {
		e.lots.SetPlanner(planner)
	}
	if e.reconciler == nil {
		e.reconciler = reconcile.NewReconciler(e.st, e.adapter, e.lots, cfg.ReconcileMaxOpsPerTick)
	} else {
		e.reconciler.SetMaxOpsPerTick(cfg.ReconcileMaxOpsPerTick)
	}
	lots := e.lots
	reconciler := e.reconciler

	balances, err := e.adapter.GetBalances(ctx)
	if err != nil {
		logging.Errorf("engine: tick: get_balances: %v", err)
		return
	}
	availableQuote := balances["USD"]
	desired := planner.DesiredLevels(price, state.AnchorHigh, availableQuote, mkt.BaseIncrement)
	if e.killed.Load() {
		return
	}

	deployedCapital, err := e.deployedCapital(ctx, marketID)
	if err != nil {
		logging.Errorf("engine: tick: compute deployed capital: %v", err)
		return
	}

	nextMode := state.Mode
	if state.Mode == model.ModeRunning && governor.IsHold(deployedCapital, availableQuote) {
		nextMode = model.ModeHold
	} else if state.Mode == model.ModeHold && !governor.IsHold(deployedCapital, availableQuote) {
		nextMode = model.ModeRunning
	}
	modeChanged := nextMode != state.Mode
	if modeChanged {
		if err := e.st.SetMode(ctx, marketID, nextMode); err != nil {
			logging.Errorf("engine: tick: persist mode transition: %v", err)
			return
		}
	}
	state.Mode = nextMode
	metrics.SetEngineMode(engineModes, string(state.Mode))
	deployedF, _ := deployedCapital.Float64()
	metrics.SetDeployedCapitalUSD(deployedF)

	if err := e.drainFills(ctx, marketID, mkt, lots); err != nil {
		logging.Errorf("engine: tick: ingest fills: %v", err)
		return
	}
	if e.killed.Load() {
		return
	}

	if state.Mode == model.ModePaused || state.Mode == model.ModeStopped {
		if modeChanged {
			e.bus.Publish(eventbus.Event{Type: eventbus.StateChange, Data: map[string]any{"market_id": marketID, "mode": nextMode}})
		}
		return // tick is a no-op while paused or stopped, per §4.1
	}

	openOrderCount, err := e.openOrderCount(ctx, marketID)
	if err != nil {
		logging.Errorf("engine: tick: count open orders: %v", err)
		return
	}
	metrics.SetOpenOrders(openOrderCount)
	admit := func(orderPrice, size decimal.Decimal) bool {
		d := governor.Evaluate(risk.Intent{MarketID: marketID, Side: model.SideBuy, Price: orderPrice, Size: size}, risk.StateView{
			EngineMode: state.Mode, OpenOrderCount: openOrderCount, ActiveMarketCount: 1,
			DeployedCapital: deployedCapital, AvailableQuote: availableQuote,
		})
		metrics.IncRiskDecision(string(d.Action), string(d.Reason))
		return d.Action == risk.ActionAllow
	}
	if err := reconciler.Tick(ctx, marketID, desired, state.AnchorHigh, admit); err != nil {
		logging.Errorf("engine: tick: reconcile: %v", err)
		return
	}
	if err := lots.RetryPendingSells(ctx, marketID, mkt.QuoteIncrement, time.Now().UTC()); err != nil {
		logging.Errorf("engine: tick: retry pending sells: %v", err)
	}

	if modeChanged {
		e.bus.Publish(eventbus.Event{Type: eventbus.StateChange, Data: map[string]any{"market_id": marketID, "mode": nextMode}})
	}
}

// drainFills processes every queued fill in exchange-timestamp order
// (§5's monotonic-timestamp heap), creating/closing Lots via §4.4.
func (e *Engine) drainFills(ctx context.Context, marketID string, mkt model.Market, lots *lot.Manager) error {
	e.fillMu.Lock()
	var batch []model.Fill
	for e.fillQueue.len() > 0 {
		batch = append(batch, e.fillQueue.pop())
	}
	e.fillMu.Unlock()

	for _, f := range batch {
		if f.MarketID != marketID {
			continue
		}
		if err := e.st.InsertFill(ctx, f); err != nil {
			return err
		}
		o, err := e.st.GetOrder(ctx, f.OrderID)
		if err != nil {
			continue // order not yet visible locally; next tick's reconcile will pick it up
		}
		switch o.Side {
		case model.SideBuy:
			if _, err := lots.OnBuyFill(ctx, f, mkt.QuoteIncrement); err != nil {
				return err
			}
		case model.SideSell:
			if o.LotID == 0 {
				continue
			}
			l, err := e.st.GetLot(ctx, o.LotID)
			if err != nil {
				return err
			}
			if _, err := lots.OnSellFill(ctx, l, f); err != nil {
				return err
			}
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.OrderFilled, Data: map[string]any{"order_id": f.OrderID, "price": f.Price.String(), "size": f.Size.String()}})
		_ = e.st.UpdateOrderStatus(ctx, o.ID, model.OrderFilled, o.Size)
		metrics.IncOrderFilled(string(o.Side))
	}
	return nil
}

func (e *Engine) deployedCapital(ctx context.Context, marketID string) (decimal.Decimal, error) {
	open, err := e.st.ListOpenOrders(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, o := range open {
		if o.Side == model.SideBuy {
			total = total.Add(o.Notional())
		}
	}
	lots, err := e.st.ListOpenLots(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, l := range lots {
		total = total.Add(l.BuyPrice.Mul(l.BuySize))
	}
	return total, nil
}

func (e *Engine) openOrderCount(ctx context.Context, marketID string) (int, error) {
	open, err := e.st.ListOpenOrders(ctx, marketID)
	if err != nil {
		return 0, err
	}
	return len(open), nil
}

// StartMarket implements the Highlander transactional start (§4.5):
// stop the currently-enabled market's open orders via the kill path
// before flipping enabled flags, so the invariant never has a window
// where two markets both have live orders.
func (e *Engine) StartMarket(ctx context.Context, targetID string) error {
	if active, err := e.st.GetActiveMarket(ctx); err == nil {
		if err := e.KillSwitch(ctx, active.ID); err != nil {
			return err
		}
	} else if err != store.ErrNotFound {
		return err
	}
	e.killed.Store(false)
	// A market switch starts a fresh backoff history: the halted
	// market's per-lot retry schedules and reconcile op-budget cooldown
	// have nothing to do with the market about to become active.
	e.lots = nil
	e.reconciler = nil
	_, err := e.st.StartMarket(ctx, targetID)
	if err != nil {
		return err
	}
	return e.st.SetMode(ctx, targetID, model.ModeRunning)
}
