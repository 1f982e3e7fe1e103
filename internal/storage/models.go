package storage

import (
	"time"

	"price-tracker/internal/money"
)

// TrackedItem is one (owner, url) pair under price monitoring.
type TrackedItem struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Name   string `json:"name,omitempty"`
	// LastKnownPrice is nil until the first successful extraction.
	LastKnownPrice      *money.Price `json:"last_known_price,omitempty"`
	Currency            string       `json:"currency,omitempty"`
	LastChecked         time.Time    `json:"last_checked"`
	LastAttempt         time.Time    `json:"last_attempt"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Degraded            bool         `json:"degraded"`
	CreatedAt           time.Time    `json:"created_at"`
}

// Source tells whether a reading came from a live page or a cache.
type Source string

const (
	SourceRaw    Source = "raw"
	SourceCached Source = "cached"
)

// PriceReading is the outcome of one successful fetch/extract pass.
type PriceReading struct {
	ItemID     string
	Price      money.Price
	ObservedAt time.Time
	Source     Source
	// Title is the product name seen on the page, if any.
	Title string
}

// ChangeResult reports what UpsertReading did to the stored price.
type ChangeResult struct {
	Changed bool
	Old     *money.Price
	New     money.Price
	// Recovered is set when the item was degraded before this reading.
	Recovered bool
	Item      TrackedItem
}

func clonePrice(p *money.Price) *money.Price {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (t TrackedItem) clone() TrackedItem {
	t.LastKnownPrice = clonePrice(t.LastKnownPrice)
	return t
}

// ApplyReading folds a successful reading into item. The first reading
// establishes the baseline and is never reported as a change.
func ApplyReading(item TrackedItem, r PriceReading) (TrackedItem, ChangeResult) {
	res := ChangeResult{
		Old:       clonePrice(item.LastKnownPrice),
		New:       r.Price,
		Recovered: item.Degraded,
	}
	res.Changed = res.Old != nil && !res.Old.Equal(r.Price)

	next := item.clone()
	price := r.Price
	next.LastKnownPrice = &price
	next.Currency = r.Price.Currency
	next.LastChecked = r.ObservedAt
	next.LastAttempt = r.ObservedAt
	next.ConsecutiveFailures = 0
	next.Degraded = false
	if r.Title != "" {
		next.Name = r.Title
	}

	res.Item = next.clone()
	return next, res
}

// ApplyFailure counts one failed attempt. The stored price is untouched.
func ApplyFailure(item TrackedItem, at time.Time) TrackedItem {
	next := item.clone()
	next.ConsecutiveFailures++
	next.LastAttempt = at
	return next
}
