package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"price-tracker/internal/money"
)

const (
	postgresSchemaSQL = `CREATE TABLE IF NOT EXISTS tracked_items (
        id                   TEXT PRIMARY KEY,
        owner                TEXT NOT NULL,
        url                  TEXT NOT NULL,
        domain               TEXT NOT NULL,
        name                 TEXT NOT NULL DEFAULT '',
        last_price_minor     BIGINT,
        currency             TEXT NOT NULL DEFAULT '',
        last_checked         TIMESTAMPTZ,
        last_attempt         TIMESTAMPTZ,
        consecutive_failures INTEGER NOT NULL DEFAULT 0,
        degraded             BOOLEAN NOT NULL DEFAULT FALSE,
        created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (owner, url)
    );
    CREATE INDEX IF NOT EXISTS tracked_items_owner_idx ON tracked_items (owner);`

	postgresItemColumns = `id, owner, url, domain, name, last_price_minor, currency,
        last_checked, last_attempt, consecutive_failures, degraded, created_at`

	insertItemSQL = `INSERT INTO tracked_items (id, owner, url, domain, created_at)
    VALUES ($1, $2, $3, $4, $5);`

	selectItemSQL = `SELECT ` + postgresItemColumns + ` FROM tracked_items WHERE id = $1;`

	selectItemForUpdateSQL = `SELECT ` + postgresItemColumns + ` FROM tracked_items WHERE id = $1 FOR UPDATE;`

	listOwnerItemsSQL = `SELECT ` + postgresItemColumns + ` FROM tracked_items
    WHERE owner = $1
    ORDER BY created_at, id;`

	listAllItemsSQL = `SELECT ` + postgresItemColumns + ` FROM tracked_items ORDER BY created_at, id;`

	deleteItemSQL = `DELETE FROM tracked_items WHERE id = $1 AND owner = $2;`

	updateItemSQL = `UPDATE tracked_items
    SET name                 = $2,
        last_price_minor     = $3,
        currency             = $4,
        last_checked         = $5,
        last_attempt         = $6,
        consecutive_failures = $7,
        degraded             = $8
    WHERE id = $1;`

	markDegradedSQL = `UPDATE tracked_items SET degraded = TRUE WHERE id = $1 AND degraded = FALSE;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	uniqueViolation = "23505"
)

// Postgres stores items in PostgreSQL and offers advisory locks so that
// several instances never run overlapping cycles.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Register inserts a new item.
func (s *Postgres) Register(ctx context.Context, owner, url, domain string) (TrackedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrackedItem{}, err
	}

	item := newItem(owner, url, domain, time.Now().UTC())
	if _, err := pool.Exec(ctx, insertItemSQL, item.ID, item.Owner, item.URL, item.Domain, item.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return TrackedItem{}, ErrAlreadyTracked
		}
		return TrackedItem{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

// Get loads a single item.
func (s *Postgres) Get(ctx context.Context, id string) (TrackedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrackedItem{}, err
	}
	return scanPostgresItem(pool.QueryRow(ctx, selectItemSQL, id))
}

// List returns owner's items ordered by creation.
func (s *Postgres) List(ctx context.Context, owner string) ([]TrackedItem, error) {
	return s.query(ctx, listOwnerItemsSQL, owner)
}

// All returns every item.
func (s *Postgres) All(ctx context.Context) ([]TrackedItem, error) {
	return s.query(ctx, listAllItemsSQL)
}

func (s *Postgres) query(ctx context.Context, q string, args ...any) ([]TrackedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, q, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]TrackedItem, 0)
	for rows.Next() {
		item, scanErr := scanPostgresItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// Remove deletes the item if owner owns it.
func (s *Postgres) Remove(ctx context.Context, owner, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteItemSQL, id, owner)
	if execErr != nil {
		return fmt.Errorf("delete item: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertReading compares and stores the reading under a row lock.
func (s *Postgres) UpsertReading(ctx context.Context, id string, reading PriceReading) (ChangeResult, error) {
	var res ChangeResult
	err := s.update(ctx, id, func(item TrackedItem) TrackedItem {
		var next TrackedItem
		next, res = ApplyReading(item, reading)
		return next
	})
	return res, err
}

// RecordFailure increments the failure counter.
func (s *Postgres) RecordFailure(ctx context.Context, id string, at time.Time) (TrackedItem, error) {
	var out TrackedItem
	err := s.update(ctx, id, func(item TrackedItem) TrackedItem {
		out = ApplyFailure(item, at)
		return out
	})
	return out, err
}

// MarkDegraded flags the item once.
func (s *Postgres) MarkDegraded(ctx context.Context, id string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := pool.Exec(ctx, markDegradedSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("mark degraded: %w", execErr)
	}
	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Postgres) update(ctx context.Context, id string, mutate func(TrackedItem) TrackedItem) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		item, err := scanPostgresItem(tx.QueryRow(ctx, selectItemForUpdateSQL, id))
		if err != nil {
			return err
		}

		next := mutate(item)

		var price *int64
		if next.LastKnownPrice != nil {
			amount := next.LastKnownPrice.Amount
			price = &amount
		}
		if _, err := tx.Exec(ctx, updateItemSQL,
			id,
			next.Name,
			price,
			next.Currency,
			nullTime(next.LastChecked),
			nullTime(next.LastAttempt),
			next.ConsecutiveFailures,
			next.Degraded,
		); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		return nil
	})
}

func scanPostgresItem(row pgx.Row) (TrackedItem, error) {
	var (
		item        TrackedItem
		price       *int64
		lastChecked *time.Time
		lastAttempt *time.Time
	)
	err := row.Scan(
		&item.ID,
		&item.Owner,
		&item.URL,
		&item.Domain,
		&item.Name,
		&price,
		&item.Currency,
		&lastChecked,
		&lastAttempt,
		&item.ConsecutiveFailures,
		&item.Degraded,
		&item.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return TrackedItem{}, ErrNotFound
	}
	if err != nil {
		return TrackedItem{}, fmt.Errorf("scan item: %w", err)
	}

	if price != nil {
		item.LastKnownPrice = &money.Price{Amount: *price, Currency: item.Currency}
	}
	if lastChecked != nil {
		item.LastChecked = lastChecked.UTC()
	}
	if lastAttempt != nil {
		item.LastAttempt = lastAttempt.UTC()
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var (
	_ ItemStore      = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)
