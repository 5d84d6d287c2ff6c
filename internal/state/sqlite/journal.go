package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"okx-listing-bot/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ state.Journal = (*Store)(nil)

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS order_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms INTEGER NOT NULL,
		cl_ord_id TEXT NOT NULL,
		ord_id TEXT NOT NULL DEFAULT '',
		inst_id TEXT NOT NULL,
		state TEXT NOT NULL,
		filled_qty TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS order_events_cl_ord_id ON order_events (cl_ord_id)`)
	return err
}

func (s *Store) Record(ctx context.Context, ev state.OrderEvent) error {
	if ev.ClientOrderID == "" {
		return errors.New("order event requires a client order id")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_events (at_ms, cl_ord_id, ord_id, inst_id, state, filled_qty, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.UnixMilli(), ev.ClientOrderID, ev.OrderID, ev.InstID, ev.State, ev.FilledQty, ev.Detail,
	)
	return err
}

// Events returns the journal for one client order id in insertion order.
func (s *Store) Events(ctx context.Context, clientOrderID string) ([]state.OrderEvent, error) {
	return s.query(ctx, `SELECT at_ms, cl_ord_id, ord_id, inst_id, state, filled_qty, detail FROM order_events WHERE cl_ord_id = ? ORDER BY id`, clientOrderID)
}

// Recent returns the latest limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]state.OrderEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `SELECT at_ms, cl_ord_id, ord_id, inst_id, state, filled_qty, detail FROM order_events ORDER BY id DESC LIMIT ?`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]state.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.OrderEvent
	for rows.Next() {
		var (
			atMS int64
			ev   state.OrderEvent
		)
		if err := rows.Scan(&atMS, &ev.ClientOrderID, &ev.OrderID, &ev.InstID, &ev.State, &ev.FilledQty, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.UnixMilli(atMS).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
