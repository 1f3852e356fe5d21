package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// MockAdapter is a deterministic paper simulator: PlaceLimitOrder rests
// an order in memory, and SetPrice (driven by whatever feeds this
// process a price — a replay file or a passthrough from a real ticker)
// fills any resting order the price has crossed, at the resting price.
// Grounded on the teacher's PaperBroker (broker_paper.go): an in-memory
// mutex-guarded price cell plus uuid.New order ids, generalized from
// market-buy-by-quote to resting post-only limit orders since §6.1
// requires the full ExchangeAdapter surface in paper mode too.
type MockAdapter struct {
	mu       sync.Mutex
	price    map[string]decimal.Decimal
	balances map[string]decimal.Decimal
	orders   map[string]*restingOrder
	fills    []model.Fill
	tagIndex map[string]string // clientTag -> orderID, for PlaceLimitOrder idempotency

	tickerSubs []tickerSub
	fillSubs   []FillCallback

	failNext map[string]error // op -> error returned once, then cleared
}

type restingOrder struct {
	order      model.Order
	filledUnix int64
}

type tickerSub struct {
	marketID string
	cb       TickerCallback
}

// NewMockAdapter returns a MockAdapter seeded with a starting USD
// balance. cmd/coinbot passes a fixed 10000; no config key sets it.
func NewMockAdapter(startingUSD decimal.Decimal) *MockAdapter {
	return &MockAdapter{
		price:    map[string]decimal.Decimal{},
		balances: map[string]decimal.Decimal{"USD": startingUSD},
		orders:   map[string]*restingOrder{},
		tagIndex: map[string]string{},
	}
}

func (m *MockAdapter) Name() string { return "mock" }

// FailNext makes the next call to the named operation ("PlaceLimitOrder"
// or "CancelOrder") return err instead of performing the action, then
// clears itself. Test-only fault injection for exercising the
// reconciler's 429/5xx backoff (§4.6) without a real exchange.
func (m *MockAdapter) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext == nil {
		m.failNext = map[string]error{}
	}
	m.failNext[op] = err
}

func (m *MockAdapter) takeFailure(op string) error {
	err, ok := m.failNext[op]
	if !ok {
		return nil
	}
	delete(m.failNext, op)
	return err
}

// SetPrice updates the simulated ticker for a market and fills any
// resting order crossed by the move, then notifies ticker and fill
// subscribers. Only tests call it; the engine never moves the mock
// price itself.
func (m *MockAdapter) SetPrice(marketID string, price decimal.Decimal) {
	m.mu.Lock()
	m.price[marketID] = price
	now := time.Now().UTC()
	var newFills []model.Fill
	for _, ro := range m.orders {
		if ro.order.MarketID != marketID || ro.order.Status != model.OrderOpen {
			continue
		}
		crossed := false
		switch ro.order.Side {
		case model.SideBuy:
			crossed = price.LessThanOrEqual(ro.order.Price)
		case model.SideSell:
			crossed = price.GreaterThanOrEqual(ro.order.Price)
		}
		if !crossed {
			continue
		}
		ro.order.Status = model.OrderFilled
		ro.order.FilledSize = ro.order.Size
		f := model.Fill{
			ID:        uuid.NewString(),
			OrderID:   ro.order.ID,
			MarketID:  marketID,
			Side:      ro.order.Side,
			Price:     ro.order.Price,
			Size:      ro.order.Size,
			Fee:       decimal.Zero,
			Timestamp: now,
		}
		ro.filledUnix = now.Unix()
		m.fills = append(m.fills, f)
		newFills = append(newFills, f)
	}
	subs := append([]tickerSub(nil), m.tickerSubs...)
	fillSubs := append([]FillCallback(nil), m.fillSubs...)
	m.mu.Unlock()

	for _, s := range subs {
		if s.marketID == marketID {
			s.cb(marketID, price, now)
		}
	}
	for _, f := range newFills {
		for _, cb := range fillSubs {
			cb(f)
		}
	}
}

func (m *MockAdapter) GetProducts(ctx context.Context) ([]Product, error) {
	return nil, &model.PermanentExchangeError{Op: "GetProducts", Err: fmt.Errorf("mock: static product list not configured; use config-seeded markets")}
}

func (m *MockAdapter) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

func (m *MockAdapter) GetTicker(ctx context.Context, marketID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.price[marketID]
	if !ok {
		return decimal.Zero, &model.TransientExchangeError{Op: "GetTicker", Err: fmt.Errorf("mock: no price seeded for %s", marketID)}
	}
	return p, nil
}

// PlaceLimitOrder rests an order in memory keyed by clientTag; a
// repeated call with the same tag returns the already-placed order id
// (§6.1 idempotency requirement).
func (m *MockAdapter) PlaceLimitOrder(ctx context.Context, marketID string, side model.OrderSide, price, size decimal.Decimal, clientTag string, postOnly bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("PlaceLimitOrder"); err != nil {
		return "", err
	}
	if id, ok := m.tagIndex[clientTag]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.orders[id] = &restingOrder{order: model.Order{
		ID:        id,
		ClientTag: clientTag,
		MarketID:  marketID,
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    model.OrderOpen,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}}
	m.tagIndex[clientTag] = id
	return id, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CancelOrder"); err != nil {
		return err
	}
	ro, ok := m.orders[orderID]
	if !ok {
		return &model.PermanentExchangeError{Op: "CancelOrder", Err: fmt.Errorf("mock: order %s not found", orderID)}
	}
	if ro.order.Status == model.OrderFilled {
		return &model.PermanentExchangeError{Op: "CancelOrder", Err: fmt.Errorf("mock: order %s already filled", orderID)}
	}
	ro.order.Status = model.OrderCanceled
	return nil
}

func (m *MockAdapter) ListOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, ro := range m.orders {
		if ro.order.MarketID == marketID && ro.order.Status == model.OrderOpen {
			out = append(out, ro.order)
		}
	}
	return out, nil
}

func (m *MockAdapter) GetFills(ctx context.Context, sinceUnix int64) ([]model.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Fill
	for _, f := range m.fills {
		if f.Timestamp.Unix() >= sinceUnix {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MockAdapter) StreamTicker(ctx context.Context, marketID string, cb TickerCallback) error {
	m.mu.Lock()
	m.tickerSubs = append(m.tickerSubs, tickerSub{marketID: marketID, cb: cb})
	m.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockAdapter) StreamFills(ctx context.Context, cb FillCallback) error {
	m.mu.Lock()
	m.fillSubs = append(m.fillSubs, cb)
	m.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
