package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// InsertOrder inserts a new order row with the status set on o (the
// callers in this module insert acknowledged orders as OPEN). The
// unique index on client_tag makes this idempotent: a retried insert
// with the same tag returns ErrDuplicateClientTag rather than a second
// row (Testable Property "Idempotence").
func (s *Store) InsertOrder(ctx context.Context, o model.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, client_tag, market_id, side, price, size, filled_size, status, created_at, updated_at, lot_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientTag, o.MarketID, string(o.Side), decStr(o.Price), decStr(o.Size), decStr(o.FilledSize),
		string(o.Status), now(), now(), nullableLotID(o.LotID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClientTag
		}
		return &model.StoreError{Op: "InsertOrder", Err: err}
	}
	return nil
}

// ErrDuplicateClientTag is returned by InsertOrder when the client_tag
// was already used, signalling the caller should treat the operation
// as already-applied rather than retry it.
var ErrDuplicateClientTag = errors.New("store: duplicate client_tag")

// UpdateOrderStatus transitions an order's status/filled_size, e.g.
// PENDING_PLACE -> OPEN once the exchange acks, or OPEN -> FILLED.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus, filledSize decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status=?, filled_size=?, updated_at=? WHERE id=?`,
		string(status), decStr(filledSize), now(), id)
	if err != nil {
		return &model.StoreError{Op: "UpdateOrderStatus", Err: err}
	}
	return checkAffected(res)
}

// SetOrderLot attaches an order to a lot once the pairing is known.
func (s *Store) SetOrderLot(ctx context.Context, orderID string, lotID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET lot_id=?, updated_at=? WHERE id=?`, lotID, now(), orderID)
	if err != nil {
		return &model.StoreError{Op: "SetOrderLot", Err: err}
	}
	return checkAffected(res)
}

// GetOrder loads a single order by exchange id.
func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_tag, market_id, side, price, size, filled_size, status, created_at, updated_at, lot_id
		FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// GetOrderByClientTag supports idempotent lookups keyed on the tag the
// caller generated before placing.
func (s *Store) GetOrderByClientTag(ctx context.Context, tag string) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_tag, market_id, side, price, size, filled_size, status, created_at, updated_at, lot_id
		FROM orders WHERE client_tag = ?`, tag)
	return scanOrder(row)
}

// ListOpenOrders returns every order in OPEN or PENDING_PLACE status
// for a market, ordered by price ascending.
func (s *Store) ListOpenOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_tag, market_id, side, price, size, filled_size, status, created_at, updated_at, lot_id
		FROM orders WHERE market_id = ? AND status IN ('PENDING_PLACE', 'OPEN') ORDER BY price ASC`, marketID)
	if err != nil {
		return nil, &model.StoreError{Op: "ListOpenOrders", Err: err}
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrdersByMarket returns every order for a market regardless of
// status, newest first, for the /orders history surface.
func (s *Store) ListOrdersByMarket(ctx context.Context, marketID string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_tag, market_id, side, price, size, filled_size, status, created_at, updated_at, lot_id
		FROM orders WHERE market_id = ? ORDER BY created_at DESC LIMIT ?`, marketID, limit)
	if err != nil {
		return nil, &model.StoreError{Op: "ListOrdersByMarket", Err: err}
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrderAny(rows)
		if err != nil {
			return nil, &model.StoreError{Op: "scanOrders", Err: err}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row *sql.Row) (model.Order, error) {
	o, err := scanOrderAny(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

func scanOrderAny(rs rowScanner) (model.Order, error) {
	var o model.Order
	var side, price, size, filled, status, createdAt, updatedAt string
	var lotID sql.NullInt64
	if err := rs.Scan(&o.ID, &o.ClientTag, &o.MarketID, &side, &price, &size, &filled, &status, &createdAt, &updatedAt, &lotID); err != nil {
		return model.Order{}, err
	}
	o.Side = model.OrderSide(side)
	o.Price = decFrom(price)
	o.Size = decFrom(size)
	o.FilledSize = decFrom(filled)
	o.Status = model.OrderStatus(status)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	if lotID.Valid {
		o.LotID = lotID.Int64
	}
	return o, nil
}

func nullableLotID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps SQLite's error text; matching on the
	// standard "UNIQUE constraint failed" substring is the same
	// approach the sqlite driver's own tests use, since it exposes no
	// typed constraint-violation error.
	if err == nil {
		return false
	}
	return containsUniqueMsg(err.Error())
}

func containsUniqueMsg(msg string) bool {
	const needle = "UNIQUE constraint failed"
	for i := 0; i+len(needle) <= len(msg); i++ {
		if msg[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
