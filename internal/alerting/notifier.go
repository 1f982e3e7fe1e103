package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/money"
)

// Kind tells which event a notification announces.
type Kind string

const (
	KindPriceChange Kind = "price_change"
	KindDegraded    Kind = "degraded"
	KindRecovered   Kind = "recovered"
)

// Notification carries everything a channel needs to render a message.
type Notification struct {
	Kind       Kind
	ItemID     string
	Owner      string
	ItemName   string
	URL        string
	Domain     string
	Old        *money.Price
	New        money.Price
	Failures   int
	ObservedAt time.Time
}

// Notifier delivers notifications to the item owner.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// DeliveryKind classifies delivery failures.
type DeliveryKind string

const (
	// DeliveryUnreachable covers network failures and 5xx answers.
	DeliveryUnreachable DeliveryKind = "unreachable"
	// DeliveryRejected covers requests the channel refused.
	DeliveryRejected DeliveryKind = "rejected"
)

// DeliveryError is returned when a notification could not be delivered.
type DeliveryError struct {
	Kind       DeliveryKind
	StatusCode int
	Detail     string
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery %s", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryKind reports whether err is a delivery error of kind k.
func IsDeliveryKind(err error, k DeliveryKind) bool {
	var e *DeliveryError
	return errors.As(err, &e) && e.Kind == k
}

// LogNotifier writes rendered notifications to the log. It stands in when no
// chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the message text.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Str("kind", string(note.Kind)).
		Str("item_id", note.ItemID).
		Str("owner", note.Owner).
		Msg(Render(note))
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
