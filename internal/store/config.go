package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/chidi150c/gridbot/internal/model"
)

// GetConfig loads the persisted singleton Config row, or ErrNotFound
// if the bot has never been configured.
func (s *Store) GetConfig(ctx context.Context) (model.Config, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Config{}, ErrNotFound
	}
	if err != nil {
		return model.Config{}, &model.StoreError{Op: "GetConfig", Err: err}
	}
	var c model.Config
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return model.Config{}, &model.StoreError{Op: "GetConfig:unmarshal", Err: err}
	}
	return c, nil
}

// ReplaceConfig writes the whole Config singleton in a single
// transaction with an audit entry, matching §7's "config updates are
// all-or-nothing" ConfigError policy: either every field lands or none
// does.
func (s *Store) ReplaceConfig(ctx context.Context, actor string, c model.Config) error {
	next, err := json.Marshal(c)
	if err != nil {
		return &model.StoreError{Op: "ReplaceConfig:marshal", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.StoreError{Op: "ReplaceConfig", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var before string
	switch err := tx.QueryRowContext(ctx, `SELECT json FROM config WHERE id = 1`).Scan(&before); {
	case err == nil, errors.Is(err, sql.ErrNoRows):
		// ok, before stays "" on no-rows
	default:
		return &model.StoreError{Op: "ReplaceConfig:read", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO config (id, json) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET json=excluded.json`, string(next))
	if err != nil {
		return &model.StoreError{Op: "ReplaceConfig:write", Err: err}
	}

	if err := insertAudit(ctx, tx, actor, "config.replace", before, string(next)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &model.StoreError{Op: "ReplaceConfig:commit", Err: err}
	}
	return nil
}
