package store

import (
	"context"
	"database/sql"

	"github.com/chidi150c/gridbot/internal/model"
)

// InsertFill records a fill. The primary key is the exchange fill id,
// so replaying the same fill from a reconciliation pass is a no-op
// rather than double-counting.
func (s *Store) InsertFill(ctx context.Context, f model.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, market_id, side, price, size, fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		f.ID, f.OrderID, f.MarketID, string(f.Side), decStr(f.Price), decStr(f.Size), decStr(f.Fee),
		f.Timestamp.UTC().Format(rfc3339nano),
	)
	if err != nil {
		return &model.StoreError{Op: "InsertFill", Err: err}
	}
	return nil
}

// ListFillsSince returns fills for a market at or after ts, ordered
// oldest first, matching the FillQueue's monotonic replay order.
func (s *Store) ListFillsSince(ctx context.Context, marketID string, ts int64) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, market_id, side, price, size, fee, ts FROM fills
		WHERE market_id = ? AND ts >= ? ORDER BY ts ASC`,
		marketID, unixToRFC(ts))
	if err != nil {
		return nil, &model.StoreError{Op: "ListFillsSince", Err: err}
	}
	defer rows.Close()

	var out []model.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, &model.StoreError{Op: "ListFillsSince", Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFillsByOrder returns every fill recorded against an order.
func (s *Store) ListFillsByOrder(ctx context.Context, orderID string) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, market_id, side, price, size, fee, ts FROM fills
		WHERE order_id = ? ORDER BY ts ASC`, orderID)
	if err != nil {
		return nil, &model.StoreError{Op: "ListFillsByOrder", Err: err}
	}
	defer rows.Close()

	var out []model.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, &model.StoreError{Op: "ListFillsByOrder", Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFill(rows *sql.Rows) (model.Fill, error) {
	var f model.Fill
	var side, price, size, fee, ts string
	if err := rows.Scan(&f.ID, &f.OrderID, &f.MarketID, &side, &price, &size, &fee, &ts); err != nil {
		return model.Fill{}, err
	}
	f.Side = model.OrderSide(side)
	f.Price = decFrom(price)
	f.Size = decFrom(size)
	f.Fee = decFrom(fee)
	f.Timestamp = parseTime(ts)
	return f, nil
}
