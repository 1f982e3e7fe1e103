package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"price-tracker/internal/marketplace"
	"price-tracker/internal/storage"
)

var (
	// ErrInvalidOwner is returned when an owner id is empty.
	ErrInvalidOwner = errors.New("monitor: owner is required")
	// ErrInvalidURL is returned for URLs that cannot be tracked at all.
	ErrInvalidURL = errors.New("monitor: invalid product url")
)

// Tracker is the surface offered to chat bots, the CLI and the HTTP API.
type Tracker interface {
	RegisterItem(ctx context.Context, owner, rawURL string) (storage.TrackedItem, error)
	ListItems(ctx context.Context, owner string) ([]storage.TrackedItem, error)
	RemoveItem(ctx context.Context, owner, id string) error
	GetItem(ctx context.Context, id string) (storage.TrackedItem, error)
	Snapshot(ctx context.Context) ([]storage.TrackedItem, error)
	CheckItem(ctx context.Context, id string) (ItemResult, error)
	RunCycle(ctx context.Context) (CycleReport, error)
}

// RegisterItem starts tracking rawURL for owner. The URL must belong to a
// supported marketplace; the first price is recorded by the next check.
func (m *Monitor) RegisterItem(ctx context.Context, owner, rawURL string) (storage.TrackedItem, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return storage.TrackedItem{}, ErrInvalidOwner
	}
	rawURL = strings.TrimSpace(rawURL)
	profile, err := marketplace.Resolve(rawURL)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnsupportedDomain) {
			return storage.TrackedItem{}, err
		}
		return storage.TrackedItem{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	item, err := m.store.Register(ctx, owner, rawURL, profile.Domain)
	if err != nil {
		return storage.TrackedItem{}, err
	}
	m.logger.Info().Str("item_id", item.ID).Str("owner", owner).Str("domain", item.Domain).Msg("item registered")
	return item, nil
}

// ListItems returns the owner's items.
func (m *Monitor) ListItems(ctx context.Context, owner string) ([]storage.TrackedItem, error) {
	return m.store.List(ctx, strings.TrimSpace(owner))
}

// RemoveItem stops tracking id. Items owned by someone else are NotFound.
func (m *Monitor) RemoveItem(ctx context.Context, owner, id string) error {
	if err := m.store.Remove(ctx, strings.TrimSpace(owner), id); err != nil {
		return err
	}
	m.locks.forget(id)
	m.logger.Info().Str("item_id", id).Str("owner", owner).Msg("item removed")
	return nil
}

// GetItem returns one item.
func (m *Monitor) GetItem(ctx context.Context, id string) (storage.TrackedItem, error) {
	return m.store.Get(ctx, id)
}

// Snapshot returns a read-only copy of every tracked item.
func (m *Monitor) Snapshot(ctx context.Context) ([]storage.TrackedItem, error) {
	return m.store.All(ctx)
}

var _ Tracker = (*Monitor)(nil)
