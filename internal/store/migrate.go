package store

import (
	"context"
	"fmt"
)

// migrate creates every table and index of §6.4, including the
// partial-unique constraint on markets(enabled) that enforces the
// Highlander invariant (I1) at the storage layer.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS markets (
			id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 0,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			ranking INTEGER NOT NULL DEFAULT 0,
			settings_json TEXT NOT NULL DEFAULT '{}',
			base_increment TEXT NOT NULL DEFAULT '0',
			quote_increment TEXT NOT NULL DEFAULT '0',
			min_size TEXT NOT NULL DEFAULT '0',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_markets_enabled_unique ON markets(enabled) WHERE enabled = 1;`,
		`CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			client_tag TEXT NOT NULL,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			filled_size TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			lot_id INTEGER
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_client_tag ON orders(client_tag);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_market_status ON orders(market_id, status);`,
		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			fee TEXT NOT NULL DEFAULT '0',
			ts TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id);`,
		`CREATE TABLE IF NOT EXISTS lots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			buy_order_id TEXT NOT NULL,
			buy_price TEXT NOT NULL,
			buy_size TEXT NOT NULL,
			buy_time TEXT NOT NULL,
			sell_order_id TEXT,
			sell_price TEXT,
			sell_time TEXT,
			fee_buy_usd TEXT NOT NULL DEFAULT '0',
			fee_sell_usd TEXT NOT NULL DEFAULT '0',
			realized_pnl TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_lots_buy_order_id ON lots(buy_order_id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_lots_sell_order_id ON lots(sell_order_id) WHERE sell_order_id IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS bot_state (
			market_id TEXT PRIMARY KEY,
			anchor_high TEXT NOT NULL,
			mode TEXT NOT NULL,
			last_tick_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			before TEXT NOT NULL DEFAULT '',
			after TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts DESC);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
