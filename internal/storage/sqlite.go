package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"price-tracker/internal/money"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tracked_items (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	last_price_minor INTEGER,
	currency TEXT NOT NULL DEFAULT '',
	last_checked INTEGER,
	last_attempt INTEGER,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	degraded INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE (owner, url)
);

CREATE INDEX IF NOT EXISTS idx_tracked_items_owner ON tracked_items(owner);
`

const sqliteItemColumns = `id, owner, url, domain, name, last_price_minor, currency,
	last_checked, last_attempt, consecutive_failures, degraded, created_at`

// SQLite persists items in a single database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = filepath.Join("data", "pricetracker.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serialises writers and keeps per-item updates atomic
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Register inserts a new item.
func (s *SQLite) Register(ctx context.Context, owner, url, domain string) (TrackedItem, error) {
	item := newItem(owner, url, domain, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_items (id, owner, url, domain, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Owner, item.URL, item.Domain, item.CreatedAt.UnixMilli())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return TrackedItem{}, ErrAlreadyTracked
		}
		return TrackedItem{}, fmt.Errorf("insert item: %w", err)
	}
	item.CreatedAt = time.UnixMilli(item.CreatedAt.UnixMilli()).UTC()
	return item, nil
}

// Get loads a single item.
func (s *SQLite) Get(ctx context.Context, id string) (TrackedItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM tracked_items WHERE id = ?`, id)
	return scanSQLiteItem(row)
}

// List returns owner's items ordered by creation.
func (s *SQLite) List(ctx context.Context, owner string) ([]TrackedItem, error) {
	return s.query(ctx, `SELECT `+sqliteItemColumns+` FROM tracked_items WHERE owner = ? ORDER BY created_at, id`, owner)
}

// All returns every item.
func (s *SQLite) All(ctx context.Context) ([]TrackedItem, error) {
	return s.query(ctx, `SELECT `+sqliteItemColumns+` FROM tracked_items ORDER BY created_at, id`)
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]TrackedItem, 0)
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Remove deletes the item if owner owns it.
func (s *SQLite) Remove(ctx context.Context, owner, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_items WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertReading compares and stores the reading in one transaction.
func (s *SQLite) UpsertReading(ctx context.Context, id string, reading PriceReading) (ChangeResult, error) {
	var res ChangeResult
	err := s.update(ctx, id, func(item TrackedItem) TrackedItem {
		var next TrackedItem
		next, res = ApplyReading(item, reading)
		return next
	})
	return res, err
}

// RecordFailure increments the failure counter.
func (s *SQLite) RecordFailure(ctx context.Context, id string, at time.Time) (TrackedItem, error) {
	var out TrackedItem
	err := s.update(ctx, id, func(item TrackedItem) TrackedItem {
		out = ApplyFailure(item, at)
		return out
	})
	return out, err
}

// MarkDegraded flags the item once.
func (s *SQLite) MarkDegraded(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tracked_items SET degraded = 1 WHERE id = ? AND degraded = 0`, id)
	if err != nil {
		return false, fmt.Errorf("mark degraded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLite) update(ctx context.Context, id string, mutate func(TrackedItem) TrackedItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM tracked_items WHERE id = ?`, id)
	item, err := scanSQLiteItem(row)
	if err != nil {
		return err
	}

	next := mutate(item)

	var price sql.NullInt64
	if next.LastKnownPrice != nil {
		price = sql.NullInt64{Int64: next.LastKnownPrice.Amount, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `UPDATE tracked_items SET
		name = ?, last_price_minor = ?, currency = ?, last_checked = ?, last_attempt = ?,
		consecutive_failures = ?, degraded = ?
		WHERE id = ?`,
		next.Name, price, next.Currency, nullMillis(next.LastChecked), nullMillis(next.LastAttempt),
		next.ConsecutiveFailures, next.Degraded, id)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteItem(row rowScanner) (TrackedItem, error) {
	var (
		item        TrackedItem
		price       sql.NullInt64
		lastChecked sql.NullInt64
		lastAttempt sql.NullInt64
		created     int64
	)
	err := row.Scan(&item.ID, &item.Owner, &item.URL, &item.Domain, &item.Name, &price, &item.Currency,
		&lastChecked, &lastAttempt, &item.ConsecutiveFailures, &item.Degraded, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackedItem{}, ErrNotFound
	}
	if err != nil {
		return TrackedItem{}, fmt.Errorf("scan item: %w", err)
	}

	if price.Valid {
		item.LastKnownPrice = &money.Price{Amount: price.Int64, Currency: item.Currency}
	}
	if lastChecked.Valid {
		item.LastChecked = time.UnixMilli(lastChecked.Int64).UTC()
	}
	if lastAttempt.Valid {
		item.LastAttempt = time.UnixMilli(lastAttempt.Int64).UTC()
	}
	item.CreatedAt = time.UnixMilli(created).UTC()
	return item, nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

var _ ItemStore = (*SQLite)(nil)
