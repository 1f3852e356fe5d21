package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/gridbot/internal/model"
)

// GetBotState loads the per-market anchor/mode row, or a zero-value
// state with ModeStopped if the market has never ticked.
func (s *Store) GetBotState(ctx context.Context, marketID string) (model.BotState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT market_id, anchor_high, mode, last_tick_at FROM bot_state WHERE market_id = ?`, marketID)

	var st model.BotState
	var anchor, mode string
	var lastTick sql.NullString
	err := row.Scan(&st.MarketID, &anchor, &mode, &lastTick)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BotState{MarketID: marketID, Mode: model.ModeStopped}, nil
	}
	if err != nil {
		return model.BotState{}, &model.StoreError{Op: "GetBotState", Err: err}
	}
	st.AnchorHigh = decFrom(anchor)
	st.Mode = model.EngineMode(mode)
	st.LastTickAt = parseTime(lastTick.String)
	return st, nil
}

// SetAnchorHigh upserts the anchor_high field. The caller is
// responsible for enforcing the Add-Only Rebase monotonic invariant
// (I2: anchor_high never decreases) before calling this — see the
// anchor phase of Engine.Tick in internal/engine.
func (s *Store) SetAnchorHigh(ctx context.Context, marketID string, anchor decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (market_id, anchor_high, mode, last_tick_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET anchor_high=excluded.anchor_high`,
		marketID, decStr(anchor), string(model.ModeStopped), now())
	if err != nil {
		return &model.StoreError{Op: "SetAnchorHigh", Err: err}
	}
	return nil
}

// SetMode upserts the engine mode and last-tick timestamp for a
// market.
func (s *Store) SetMode(ctx context.Context, marketID string, mode model.EngineMode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (market_id, anchor_high, mode, last_tick_at) VALUES (?, '0', ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET mode=excluded.mode, last_tick_at=excluded.last_tick_at`,
		marketID, string(mode), now())
	if err != nil {
		return &model.StoreError{Op: "SetMode", Err: err}
	}
	return nil
}
