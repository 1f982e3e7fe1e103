package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/alerting"
	"price-tracker/internal/money"
)

// NotifyTestOptions describe the fake price change to deliver.
type NotifyTestOptions struct {
	ChatID   string
	Old      decimal.Decimal
	New      decimal.Decimal
	Currency string
	URL      string
}

// NotifyTest sends a simulated price-change notification through the
// configured channel.
func (a *App) NotifyTest(ctx context.Context, opts NotifyTestOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no notification channel configured")
	}

	currency := opts.Currency
	if currency == "" {
		currency = "EUR"
	}
	old := money.New(opts.Old, currency, 2)
	note := alerting.Notification{
		Kind:       alerting.KindPriceChange,
		ItemID:     "notify-test",
		Owner:      opts.ChatID,
		ItemName:   "Test notification",
		URL:        opts.URL,
		Domain:     "amazon.nl",
		Old:        &old,
		New:        money.New(opts.New, currency, 2),
		ObservedAt: time.Now().UTC(),
	}

	if err := notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	fmt.Fprintln(a.Out, "test notification sent")
	return nil
}
