// Package reconcile keeps Store state and exchange state converged
// (§4.6): a blocking startup pass rebuilds local truth from the
// exchange, and a cheap per-tick pass prunes/extends the open-order
// set toward the grid planner's desired levels. Grounded on the
// teacher's broker-bridge sync conventions (broker_bridge.go talks to
// an external source of truth the same way this reconciler treats the
// exchange as authoritative for order status), generalized to the
// matched/orphan-exchange/orphan-local set algebra §4.6 specifies.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/exchange"
	"github.com/chidi150c/gridbot/internal/grid"
	"github.com/chidi150c/gridbot/internal/lot"
	"github.com/chidi150c/gridbot/internal/logging"
	"github.com/chidi150c/gridbot/internal/metrics"
	"github.com/chidi150c/gridbot/internal/model"
	"github.com/chidi150c/gridbot/internal/store"
)

// Reconciler owns startup and per-tick reconciliation for one market.
type Reconciler struct {
	st      *store.Store
	adapter exchange.Adapter
	lots    *lot.Manager

	// backoff state for the per-tick K-budget throttle (§4.6): any
	// 429/5xx halves the per-tick op budget and starts a cooldown that
	// blocks placements until it elapses.
	currentK      int
	cooldownTicks int
	baseK         int
}

// NewReconciler builds a Reconciler with the configured per-tick op
// cap (default K=10 per §4.6).
func NewReconciler(st *store.Store, adapter exchange.Adapter, lots *lot.Manager, maxOpsPerTick int) *Reconciler {
	if maxOpsPerTick <= 0 {
		maxOpsPerTick = 10
	}
	return &Reconciler{st: st, adapter: adapter, lots: lots, currentK: maxOpsPerTick, baseK: maxOpsPerTick}
}

// SetMaxOpsPerTick updates the configured per-tick op budget without
// discarding an in-flight backoff: if currentK still tracks the old
// baseK (no active halving), it jumps straight to the new value;
// otherwise recoverK's per-tick increment keeps walking it back up to
// the new baseK once the cooldown clears. The engine calls this every
// tick instead of constructing a new Reconciler, so currentK/cooldownTicks
// (§4.6's backoff state) survive across ticks.
func (r *Reconciler) SetMaxOpsPerTick(maxOpsPerTick int) {
	if maxOpsPerTick <= 0 {
		maxOpsPerTick = 10
	}
	if r.currentK == r.baseK {
		r.currentK = maxOpsPerTick
	}
	r.baseK = maxOpsPerTick
}

// Startup performs the blocking reconciliation pass of §4.6 before the
// tick loop begins: matched orders are left alone, orphan-exchange
// orders (present on the exchange, absent from our DB) are canceled
// since we only trust orders bearing our client_tag prefix, and
// orphan-local orders (OPEN in our DB, absent from the exchange) are
// checked against historical fills and either processed as a fill or
// marked CANCELED.
func (r *Reconciler) Startup(ctx context.Context, marketID string, quoteIncrement decimal.Decimal) error {
	localOpen, err := r.st.ListOpenOrders(ctx, marketID)
	if err != nil {
		return &model.ReconciliationError{Detail: "load local open orders", Err: err}
	}
	exchangeOpen, err := r.adapter.ListOpenOrders(ctx, marketID)
	if err != nil {
		return &model.ReconciliationError{Detail: "load exchange open orders", Err: err}
	}

	localByID := make(map[string]model.Order, len(localOpen))
	for _, o := range localOpen {
		localByID[o.ID] = o
	}
	exchangeByID := make(map[string]model.Order, len(exchangeOpen))
	for _, o := range exchangeOpen {
		exchangeByID[o.ID] = o
	}

	// orphan-exchange: cancel anything the exchange has that our DB
	// doesn't know about.
	for id := range exchangeByID {
		if _, ok := localByID[id]; ok {
			continue // matched
		}
		if err := r.adapter.CancelOrder(ctx, id); err != nil {
			logging.WithField("order_id", id).Warnf("reconcile: failed to cancel orphan-exchange order: %v", err)
		}
	}

	// orphan-local: query fills since the order's own timestamp; if
	// filled, process through the lot pipeline; otherwise mark CANCELED.
	for id, local := range localByID {
		if _, ok := exchangeByID[id]; ok {
			continue // matched
		}
		fills, err := r.adapter.GetFills(ctx, local.CreatedAt.Unix())
		if err != nil {
			return &model.ReconciliationError{Detail: fmt.Sprintf("fetch fills for orphan-local order %s", id), Err: err}
		}
		filled := false
		for _, f := range fills {
			if f.OrderID != id {
				continue
			}
			filled = true
			if err := r.st.InsertFill(ctx, f); err != nil {
				return &model.ReconciliationError{Detail: "persist orphan-local fill", Err: err}
			}
			if err := r.processFill(ctx, local, f, quoteIncrement); err != nil {
				return err
			}
		}
		if !filled {
			if err := r.st.UpdateOrderStatus(ctx, id, model.OrderCanceled, local.FilledSize); err != nil {
				return &model.ReconciliationError{Detail: "mark orphan-local order canceled", Err: err}
			}
		}
	}

	return nil
}

// processFill routes a fill to the lot manager depending on the
// order's side, rebuilding Lot pairings the way §4.6 step 4 requires.
func (r *Reconciler) processFill(ctx context.Context, o model.Order, f model.Fill, quoteIncrement decimal.Decimal) error {
	switch o.Side {
	case model.SideBuy:
		_, err := r.lots.OnBuyFill(ctx, f, quoteIncrement)
		return err
	case model.SideSell:
		if o.LotID == 0 {
			return &model.ReconciliationError{Detail: fmt.Sprintf("sell order %s has no lot_id to rebuild pairing from", o.ID)}
		}
		l, err := r.st.GetLot(ctx, o.LotID)
		if err != nil {
			return &model.ReconciliationError{Detail: "load lot for orphan-local sell fill", Err: err}
		}
		_, err = r.lots.OnSellFill(ctx, l, f)
		return err
	}
	return nil
}

// Tick performs the cheap per-tick reconciliation of §4.6: diff the
// desired grid levels against currently-open orders, then issue at
// most currentK cancels followed by at most currentK placements (in
// that order, so order-count caps are respected). gridEpoch identifies
// the anchor_high the desired levels were computed from, so a rebase
// to a new anchor mints fresh client tags instead of colliding with a
// stale order's tag from a much earlier epoch at the same nominal price.
func (r *Reconciler) Tick(ctx context.Context, marketID string, desired []grid.Level, gridEpoch decimal.Decimal, admit func(price, size decimal.Decimal) bool) error {
	open, err := r.st.ListOpenOrders(ctx, marketID)
	if err != nil {
		return &model.ReconciliationError{Detail: "load open orders for tick reconcile", Err: err}
	}

	desiredByPrice := make(map[string]grid.Level, len(desired))
	for _, lvl := range desired {
		desiredByPrice[lvl.Price.String()] = lvl
	}
	openByPrice := make(map[string]model.Order, len(open))
	for _, o := range open {
		if o.Side == model.SideBuy {
			openByPrice[o.Price.String()] = o
		}
	}

	var toCancel []model.Order
	for key, o := range openByPrice {
		if _, wanted := desiredByPrice[key]; !wanted {
			toCancel = append(toCancel, o)
		}
	}
	var toPlace []grid.Level
	for key, lvl := range desiredByPrice {
		if _, exists := openByPrice[key]; !exists {
			toPlace = append(toPlace, lvl)
		}
	}

	cancels := 0
	for _, o := range toCancel {
		if cancels >= r.currentK {
			break
		}
		if err := r.adapter.CancelOrder(ctx, o.ID); err != nil {
			r.registerFailure(err)
			metrics.IncReconcileOp("cancel", "error")
			continue
		}
		if err := r.st.UpdateOrderStatus(ctx, o.ID, model.OrderCanceled, o.FilledSize); err != nil {
			return &model.ReconciliationError{Detail: "persist cancel", Err: err}
		}
		metrics.IncReconcileOp("cancel", "ok")
		cancels++
	}

	if r.cooldownTicks > 0 {
		r.cooldownTicks--
		return nil // placements gated during cooldown
	}

	placements := 0
	for _, lvl := range toPlace {
		if placements >= r.currentK {
			break
		}
		if !admit(lvl.Price, lvl.Size) {
			continue
		}
		clientTag := buyClientTag(marketID, lvl.Price, gridEpoch)
		orderID, err := r.adapter.PlaceLimitOrder(ctx, marketID, model.SideBuy, lvl.Price, lvl.Size, clientTag, true)
		if err != nil {
			r.registerFailure(err)
			metrics.IncReconcileOp("place", "error")
			continue
		}
		if err := r.st.InsertOrder(ctx, model.Order{
			ID: orderID, ClientTag: clientTag, MarketID: marketID,
			Side: model.SideBuy, Price: lvl.Price, Size: lvl.Size, Status: model.OrderOpen,
		}); err != nil {
			return &model.ReconciliationError{Detail: "persist placement", Err: err}
		}
		metrics.IncReconcileOp("place", "ok")
		metrics.IncOrderPlaced("BUY")
		placements++
	}

	if placements > 0 || cancels > 0 {
		r.recoverK()
	}
	return nil
}

// buyClientTag derives a stable BUY client_tag from (marketID, price
// level, grid epoch) instead of embedding randomness, so a retried
// placement attempt for the same still-missing level reuses the exact
// tag the exchange already saw and dedupes on (adapter.PlaceLimitOrder
// is idempotent by clientTag). Mirrors lot.Manager's sell-<lot_id>
// pattern: the tag is fully determined by the thing it identifies, not
// by when the placement attempt happened.
func buyClientTag(marketID string, price, gridEpoch decimal.Decimal) string {
	sum := sha256.Sum256([]byte(marketID + "|" + price.String() + "|" + gridEpoch.String()))
	return "buy-" + marketID + "-" + hex.EncodeToString(sum[:])[:16]
}

// registerFailure implements §4.6's backoff: any 429/5xx halves the
// per-tick op budget (min 1) and starts a cooldown gating placements
// for a fixed 3 subsequent ticks, whatever the tick interval.
func (r *Reconciler) registerFailure(err error) {
	var transient *model.TransientExchangeError
	if !isTransient(err, &transient) {
		return
	}
	r.currentK = r.currentK / 2
	if r.currentK < 1 {
		r.currentK = 1
	}
	r.cooldownTicks = 3
}

func (r *Reconciler) recoverK() {
	if r.currentK < r.baseK {
		r.currentK++
	}
}

func isTransient(err error, target **model.TransientExchangeError) bool {
	te, ok := err.(*model.TransientExchangeError)
	if !ok {
		return false
	}
	*target = te
	return true
}
