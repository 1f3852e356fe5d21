// Package store implements the durable persistence layer (§6.4) over
// SQLite via database/sql and modernc.org/sqlite (pure Go, no cgo),
// grounded on easyspace-ai-upcow's controlplane server/migrate pattern.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrHighlanderViolation names a Highlander (§4.5) abort. No Store
// method returns it: StartMarket does not look at exchange orders.
var ErrHighlanderViolation = errors.New("store: highlander invariant violation")

// Store is the persistence surface the engine and HTTP layer use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer keeps semantics simple
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for callers (e.g. httpapi health
// checks) that need a raw ping; internal callers should prefer the
// typed methods below.
func (s *Store) DB() *sql.DB { return s.db }

const rfc3339nano = time.RFC3339Nano

func now() string { return time.Now().UTC().Format(rfc3339nano) }

func unixToRFC(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(rfc3339nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decStr(d decimal.Decimal) string { return d.String() }

func decFrom(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
