package monitor

import (
	"errors"
	"time"

	"price-tracker/internal/money"
	"price-tracker/internal/storage"
)

var errAlertsDisabled = errors.New("alerts disabled")

// Outcome is what happened to one item during a check.
type Outcome string

const (
	OutcomeBaseline  Outcome = "baseline"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeChanged   Outcome = "changed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped covers degraded items that are not due yet and items
	// removed mid-cycle.
	OutcomeSkipped   Outcome = "skipped"
	OutcomeBusy      Outcome = "busy"
	OutcomeCancelled Outcome = "cancelled"
)

// ItemResult summarises one item check.
type ItemResult struct {
	ItemID    string       `json:"item_id"`
	Owner     string       `json:"owner"`
	Domain    string       `json:"domain"`
	Outcome   Outcome      `json:"outcome"`
	Price     *money.Price `json:"price,omitempty"`
	OldPrice  *money.Price `json:"old_price,omitempty"`
	Failures  int          `json:"consecutive_failures"`
	Degraded  bool         `json:"degraded,omitempty"`
	Recovered bool         `json:"recovered,omitempty"`
	Notified  int          `json:"notified"`
	// DeliveryFailed counts notifications that could not be delivered.
	DeliveryFailed int    `json:"delivery_failed"`
	Error          string `json:"error,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`

	Err error `json:"-"`
}

func resultFor(item storage.TrackedItem, outcome Outcome) ItemResult {
	return ItemResult{
		ItemID:   item.ID,
		Owner:    item.Owner,
		Domain:   item.Domain,
		Outcome:  outcome,
		Price:    item.LastKnownPrice,
		Failures: item.ConsecutiveFailures,
		Degraded: item.Degraded,
	}
}

func (r *ItemResult) setErr(err error) {
	r.Err = err
	r.Error = err.Error()
	r.ErrorKind = FailureKind(err)
}

func (r *ItemResult) notified(err error) {
	switch {
	case err == nil:
		r.Notified++
	case errors.Is(err, errAlertsDisabled):
	default:
		r.DeliveryFailed++
	}
}

// CycleReport aggregates one cycle.
type CycleReport struct {
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	Checked        int          `json:"checked"`
	Changed        int          `json:"changed"`
	Failed         int          `json:"failed"`
	Skipped        int          `json:"skipped"`
	Notified       int          `json:"notified"`
	DeliveryFailed int          `json:"delivery_failed"`
	Items          []ItemResult `json:"items"`
}

func (c *CycleReport) add(r ItemResult) {
	c.Items = append(c.Items, r)
	c.Notified += r.Notified
	c.DeliveryFailed += r.DeliveryFailed
	switch r.Outcome {
	case OutcomeSkipped, OutcomeBusy, OutcomeCancelled:
		c.Skipped++
		return
	case OutcomeFailed:
		c.Failed++
	case OutcomeChanged:
		c.Changed++
	}
	c.Checked++
}
