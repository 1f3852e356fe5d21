package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/chidi150c/gridbot/internal/model"
)

// UpsertMarket inserts or updates a market row. Never deletes (§3
// Lifecycle: Markets are never deleted, soft-disable only).
func (s *Store) UpsertMarket(ctx context.Context, m model.Market) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (id, enabled, is_favorite, ranking, settings_json, base_increment, quote_increment, min_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_favorite=excluded.is_favorite,
			ranking=excluded.ranking,
			settings_json=excluded.settings_json,
			base_increment=excluded.base_increment,
			quote_increment=excluded.quote_increment,
			min_size=excluded.min_size,
			updated_at=excluded.updated_at
	`,
		m.ID, boolToInt(m.Enabled), boolToInt(m.IsFavorite), m.Ranking, orDefault(m.SettingsJSON, "{}"),
		decStr(m.BaseIncrement), decStr(m.QuoteIncrement), decStr(m.MinSize), now(), now(),
	)
	if err != nil {
		return &model.StoreError{Op: "UpsertMarket", Err: err}
	}
	return nil
}

// GetMarket loads one market by id.
func (s *Store) GetMarket(ctx context.Context, id string) (model.Market, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, enabled, is_favorite, ranking, settings_json, base_increment, quote_increment, min_size, created_at, updated_at
		FROM markets WHERE id = ?`, id)
	return scanMarket(row)
}

// GetActiveMarket returns the single enabled market, or ErrNotFound if none.
func (s *Store) GetActiveMarket(ctx context.Context) (model.Market, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, enabled, is_favorite, ranking, settings_json, base_increment, quote_increment, min_size, created_at, updated_at
		FROM markets WHERE enabled = 1 LIMIT 1`)
	return scanMarket(row)
}

// ListMarkets returns all markets, optionally filtered to favorites.
func (s *Store) ListMarkets(ctx context.Context, favoritesOnly bool) ([]model.Market, error) {
	q := `SELECT id, enabled, is_favorite, ranking, settings_json, base_increment, quote_increment, min_size, created_at, updated_at FROM markets`
	if favoritesOnly {
		q += ` WHERE is_favorite = 1`
	}
	q += ` ORDER BY ranking ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &model.StoreError{Op: "ListMarkets", Err: err}
	}
	defer rows.Close()

	var out []model.Market
	for rows.Next() {
		m, err := scanMarketRows(rows)
		if err != nil {
			return nil, &model.StoreError{Op: "ListMarkets", Err: err}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetFavorite toggles the favorite flag on a market.
func (s *Store) SetFavorite(ctx context.Context, id string, fav bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE markets SET is_favorite=?, updated_at=? WHERE id=?`, boolToInt(fav), now(), id)
	if err != nil {
		return &model.StoreError{Op: "SetFavorite", Err: err}
	}
	return checkAffected(res)
}

// StartMarket implements the Highlander transactional start of §4.5:
// stop the currently-enabled market (caller is expected to have
// already canceled its open orders before calling this — see
// engine.Engine.StartMarket for the full orchestration), flip enabled
// off on it, flip enabled on the target, and write two audit entries.
// If a previously-enabled market exists and cannot be turned off in
// this transaction, the whole operation aborts and the target is left
// untouched.
func (s *Store) StartMarket(ctx context.Context, targetID string) (previousID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &model.StoreError{Op: "StartMarket", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT id FROM markets WHERE enabled = 1 LIMIT 1`)
	var prev string
	switch err := row.Scan(&prev); {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE markets SET enabled=0, updated_at=? WHERE id=?`, now(), prev); err != nil {
			return "", &model.StoreError{Op: "StartMarket:disablePrevious", Err: err}
		}
		if err := insertAudit(ctx, tx, "system", "market.stop", prev, ""); err != nil {
			return "", err
		}
	case errors.Is(err, sql.ErrNoRows):
		// no previously active market; nothing to stop
	default:
		return "", &model.StoreError{Op: "StartMarket:queryPrevious", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE markets SET enabled=1, updated_at=? WHERE id=?`, now(), targetID); err != nil {
		return "", &model.StoreError{Op: "StartMarket:enableTarget", Err: err}
	}
	if err := insertAudit(ctx, tx, "system", "market.start", "", targetID); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", &model.StoreError{Op: "StartMarket:commit", Err: err}
	}
	return prev, nil
}

// StopMarket disables a market unconditionally (kill switch path).
func (s *Store) StopMarket(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.StoreError{Op: "StopMarket", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE markets SET enabled=0, updated_at=? WHERE id=?`, now(), id); err != nil {
		return &model.StoreError{Op: "StopMarket", Err: err}
	}
	if err := insertAudit(ctx, tx, "system", "market.stop", id, ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &model.StoreError{Op: "StopMarket:commit", Err: err}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row *sql.Row) (model.Market, error) {
	m, err := scanMarketAny(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Market{}, ErrNotFound
	}
	return m, err
}

func scanMarketRows(rows *sql.Rows) (model.Market, error) {
	return scanMarketAny(rows)
}

func scanMarketAny(rs rowScanner) (model.Market, error) {
	var m model.Market
	var enabled, fav int
	var baseInc, quoteInc, minSize, createdAt, updatedAt string
	if err := rs.Scan(&m.ID, &enabled, &fav, &m.Ranking, &m.SettingsJSON, &baseInc, &quoteInc, &minSize, &createdAt, &updatedAt); err != nil {
		return model.Market{}, err
	}
	m.Enabled = enabled != 0
	m.IsFavorite = fav != 0
	m.BaseIncrement = decFrom(baseInc)
	m.QuoteIncrement = decFrom(quoteInc)
	m.MinSize = decFrom(minSize)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &model.StoreError{Op: "checkAffected", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
