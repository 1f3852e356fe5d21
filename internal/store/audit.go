package store

import (
	"context"
	"database/sql"

	"github.com/chidi150c/gridbot/internal/model"
)

// sqlExecer is satisfied by both *sql.DB and *sql.Tx, letting audit
// inserts participate in an enclosing transaction when one is open.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertAudit(ctx context.Context, ex sqlExecer, actor, action, before, after string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO audit_log (ts, actor, action, before, after) VALUES (?, ?, ?, ?, ?)`,
		now(), actor, action, before, after)
	if err != nil {
		return &model.StoreError{Op: "insertAudit", Err: err}
	}
	return nil
}

// AppendAudit records a standalone audit entry (outside any caller
// transaction). No caller in this module uses it; ReplaceConfig writes
// its entry inside its own transaction via insertAudit.
func (s *Store) AppendAudit(ctx context.Context, actor, action, before, after string) error {
	return insertAudit(ctx, s.db, actor, action, before, after)
}

// ListAudit returns the most recent audit entries, newest first,
// capped at limit (0 means a default of 200).
func (s *Store) ListAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, actor, action, before, after FROM audit_log ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &model.StoreError{Op: "ListAudit", Err: err}
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.Before, &e.After); err != nil {
			return nil, &model.StoreError{Op: "ListAudit", Err: err}
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
