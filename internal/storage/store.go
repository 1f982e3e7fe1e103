package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"price-tracker/internal/config"
)

var (
	// ErrNotFound is returned for unknown items or items owned by someone else.
	ErrNotFound = errors.New("storage: item not found")
	// ErrAlreadyTracked is returned when an owner registers the same URL twice.
	ErrAlreadyTracked = errors.New("storage: item already tracked")
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// ItemStore is the contract every backend satisfies. All mutations are
// atomic per item record.
type ItemStore interface {
	Register(ctx context.Context, owner, url, domain string) (TrackedItem, error)
	Get(ctx context.Context, id string) (TrackedItem, error)
	List(ctx context.Context, owner string) ([]TrackedItem, error)
	All(ctx context.Context) ([]TrackedItem, error)
	Remove(ctx context.Context, owner, id string) error
	UpsertReading(ctx context.Context, id string, reading PriceReading) (ChangeResult, error)
	RecordFailure(ctx context.Context, id string, at time.Time) (TrackedItem, error)
	// MarkDegraded flags the item and reports whether it was healthy before.
	MarkDegraded(ctx context.Context, id string) (bool, error)
	Close() error
}

// AdvisoryLocker exposes cross-process mutual exclusion helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewItemID returns a fresh stable item identifier.
func NewItemID() string {
	return uuid.NewString()
}

func newItem(owner, url, domain string, now time.Time) TrackedItem {
	return TrackedItem{
		ID:        NewItemID(),
		Owner:     owner,
		URL:       strings.TrimSpace(url),
		Domain:    domain,
		CreatedAt: now,
	}
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (ItemStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.SQLite.Path)
	case "postgres":
		pool, err := NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "mongo":
		return NewMongo(ctx, cfg.Mongo)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
