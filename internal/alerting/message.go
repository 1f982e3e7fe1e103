package alerting

import (
	"fmt"
	"strings"

	"price-tracker/internal/money"
)

// Render builds the plain-text message for a notification.
func Render(note Notification) string {
	var b strings.Builder
	switch note.Kind {
	case KindDegraded:
		fmt.Fprintf(&b, "Tracking degraded: %s\n", displayName(note))
		fmt.Fprintf(&b, "The price could not be read %d times in a row. Checks will run less often until it recovers.\n", note.Failures)
	case KindRecovered:
		fmt.Fprintf(&b, "Tracking recovered: %s\n", displayName(note))
		fmt.Fprintf(&b, "Current price: %s\n", note.New.String())
	default:
		renderChange(&b, note)
	}
	if note.Domain != "" {
		fmt.Fprintf(&b, "Shop: %s\n", note.Domain)
	}
	b.WriteString(note.URL)
	return b.String()
}

func renderChange(b *strings.Builder, note Notification) {
	if note.Old == nil {
		fmt.Fprintf(b, "Price: %s\n", note.New.String())
		fmt.Fprintf(b, "Product: %s\n", displayName(note))
		return
	}

	if !strings.EqualFold(note.Old.Currency, note.New.Currency) {
		fmt.Fprintf(b, "Price changed: %s → %s\n", note.Old.String(), note.New.String())
		fmt.Fprintf(b, "Product: %s\n", displayName(note))
		return
	}

	direction := "rose"
	sign := "+"
	if note.New.Amount < note.Old.Amount {
		direction = "dropped"
		sign = "-"
	}
	delta := note.New.Sub(*note.Old).Abs()
	pct := money.ChangePercent(*note.Old, note.New)

	fmt.Fprintf(b, "Price %s: %s → %s\n", direction, note.Old.String(), note.New.String())
	fmt.Fprintf(b, "Change: %s%s (%s%%)\n", sign, delta.String(), signedFixed(pct.StringFixed(2)))
	fmt.Fprintf(b, "Product: %s\n", displayName(note))
}

func signedFixed(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}

func displayName(note Notification) string {
	if note.ItemName != "" {
		return note.ItemName
	}
	return note.ItemID
}
