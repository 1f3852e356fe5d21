package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// CreateLot opens a new lot on a buy fill. The unique index on
// buy_order_id rejects a second lot from the same buy order, which is
// how the lot manager guards against double-processing a replayed
// fill.
func (s *Store) CreateLot(ctx context.Context, l model.Lot) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lots (market_id, buy_order_id, buy_price, buy_size, buy_time, fee_buy_usd, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.MarketID, l.BuyOrderID, decStr(l.BuyPrice), decStr(l.BuySize), l.BuyTime.UTC().Format(rfc3339nano),
		decStr(l.FeeBuyUSD), string(model.LotOpen),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateClientTag
		}
		return 0, &model.StoreError{Op: "CreateLot", Err: err}
	}
	return res.LastInsertId()
}

// AttachSellOrder marks a lot SELL_PLACED once its paired sell has
// been placed on the exchange.
func (s *Store) AttachSellOrder(ctx context.Context, lotID int64, sellOrderID string, sellPrice decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lots SET sell_order_id=?, sell_price=?, status=? WHERE id=? AND status=?`,
		sellOrderID, decStr(sellPrice), string(model.LotSellPlaced), lotID, string(model.LotOpen))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClientTag
		}
		return &model.StoreError{Op: "AttachSellOrder", Err: err}
	}
	return checkAffected(res)
}

// CloseLot finalizes a lot once its sell fills, recording the realized
// PnL net of both legs' fees. sell_order_id is written here too, not
// just by AttachSellOrder: a partial-fill sub-lot (lot.Manager.OnSellFill)
// is created and closed in the same accounting event without ever going
// through AttachSellOrder, so it depends on CloseLot to persist the
// resting order it closed against.
func (s *Store) CloseLot(ctx context.Context, l model.Lot) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lots SET sell_order_id=?, sell_price=?, sell_time=?, fee_sell_usd=?, realized_pnl=?, status=? WHERE id=?`,
		l.SellOrderID, decStr(l.SellPrice), l.SellTime.UTC().Format(rfc3339nano), decStr(l.FeeSellUSD), decStr(l.RealizedPnL), string(model.LotClosed), l.ID)
	if err != nil {
		return &model.StoreError{Op: "CloseLot", Err: err}
	}
	return checkAffected(res)
}

// UpdateLotRemainder shrinks a lot's buy_size/fee_buy_usd after a
// partial SELL fill has closed a proportional sub-lot, leaving the
// remainder OPEN with its sell_order_id still attached to the same
// resting order.
func (s *Store) UpdateLotRemainder(ctx context.Context, lotID int64, buySize, feeBuyUSD decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE lots SET buy_size=?, fee_buy_usd=? WHERE id=?`,
		decStr(buySize), decStr(feeBuyUSD), lotID)
	if err != nil {
		return &model.StoreError{Op: "UpdateLotRemainder", Err: err}
	}
	return checkAffected(res)
}

// GetLot loads a single lot by id.
func (s *Store) GetLot(ctx context.Context, id int64) (model.Lot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, market_id, buy_order_id, buy_price, buy_size, buy_time, sell_order_id, sell_price, sell_time,
		       fee_buy_usd, fee_sell_usd, realized_pnl, status
		FROM lots WHERE id = ?`, id)
	return scanLot(row)
}

// ListOpenLots returns every OPEN or SELL_PLACED lot for a market.
func (s *Store) ListOpenLots(ctx context.Context, marketID string) ([]model.Lot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, buy_order_id, buy_price, buy_size, buy_time, sell_order_id, sell_price, sell_time,
		       fee_buy_usd, fee_sell_usd, realized_pnl, status
		FROM lots WHERE market_id = ? AND status IN ('OPEN', 'SELL_PLACED') ORDER BY buy_time ASC`, marketID)
	if err != nil {
		return nil, &model.StoreError{Op: "ListOpenLots", Err: err}
	}
	defer rows.Close()
	return scanLots(rows)
}

// ListLots returns every lot for a market regardless of status.
func (s *Store) ListLots(ctx context.Context, marketID string, limit int) ([]model.Lot, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, buy_order_id, buy_price, buy_size, buy_time, sell_order_id, sell_price, sell_time,
		       fee_buy_usd, fee_sell_usd, realized_pnl, status
		FROM lots WHERE market_id = ? ORDER BY buy_time DESC LIMIT ?`, marketID, limit)
	if err != nil {
		return nil, &model.StoreError{Op: "ListLots", Err: err}
	}
	defer rows.Close()
	return scanLots(rows)
}

func scanLots(rows *sql.Rows) ([]model.Lot, error) {
	var out []model.Lot
	for rows.Next() {
		l, err := scanLotAny(rows)
		if err != nil {
			return nil, &model.StoreError{Op: "scanLots", Err: err}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLot(row *sql.Row) (model.Lot, error) {
	l, err := scanLotAny(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lot{}, ErrNotFound
	}
	return l, err
}

func scanLotAny(rs rowScanner) (model.Lot, error) {
	var l model.Lot
	var buyPrice, buySize, buyTime, feeBuy, feeSell, pnl, status string
	var sellOrderID, sellPrice, sellTime sql.NullString
	if err := rs.Scan(&l.ID, &l.MarketID, &l.BuyOrderID, &buyPrice, &buySize, &buyTime,
		&sellOrderID, &sellPrice, &sellTime, &feeBuy, &feeSell, &pnl, &status); err != nil {
		return model.Lot{}, err
	}
	l.BuyPrice = decFrom(buyPrice)
	l.BuySize = decFrom(buySize)
	l.BuyTime = parseTime(buyTime)
	l.SellOrderID = sellOrderID.String
	l.SellPrice = decFrom(sellPrice.String)
	l.SellTime = parseTime(sellTime.String)
	l.FeeBuyUSD = decFrom(feeBuy)
	l.FeeSellUSD = decFrom(feeSell)
	l.RealizedPnL = decFrom(pnl)
	l.Status = model.LotStatus(status)
	return l, nil
}
