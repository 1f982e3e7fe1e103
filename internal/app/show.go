package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"price-tracker/internal/money"
	"price-tracker/internal/monitor"
	"price-tracker/internal/storage"
)

// CheckOptions configure the check command.
type CheckOptions struct {
	// ItemID limits the check to one item; empty runs a full cycle.
	ItemID string
}

// Show prints a snapshot of every tracked item.
func (a *App) Show(ctx context.Context) error {
	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		items, err := mon.Snapshot(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(a.Out, "no tracked items")
			return nil
		}

		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tOwner\tDomain\tName\tPrice\tLast checked (UTC)\tFailures\tStatus")
		for _, item := range items {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				item.ID,
				item.Owner,
				item.Domain,
				truncate(sanitizeInline(item.Name), 40),
				formatPrice(item.LastKnownPrice),
				formatTime(item.LastChecked),
				item.ConsecutiveFailures,
				itemStatus(item),
			)
		}
		return writer.Flush()
	})
}

// Check runs one cycle, or a single item check, and prints the outcome.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		var results []monitor.ItemResult
		if opts.ItemID != "" {
			res, err := mon.CheckItem(ctx, opts.ItemID)
			if err != nil {
				return err
			}
			results = append(results, res)
		} else {
			report, err := mon.RunCycle(ctx)
			if err != nil {
				return err
			}
			results = report.Items
			defer fmt.Fprintf(a.Out, "\nchecked %d, changed %d, failed %d, skipped %d, notified %d\n",
				report.Checked, report.Changed, report.Failed, report.Skipped, report.Notified)
		}

		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tDomain\tOutcome\tOld\tNew\tFailures\tError")
		for _, res := range results {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				res.ItemID,
				res.Domain,
				res.Outcome,
				formatPrice(res.OldPrice),
				formatPrice(res.Price),
				res.Failures,
				sanitizeInline(res.Error),
			)
		}
		return writer.Flush()
	})
}

func formatPrice(p *money.Price) string {
	if p == nil {
		return "-"
	}
	return p.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func itemStatus(item storage.TrackedItem) string {
	switch {
	case item.Degraded:
		return "degraded"
	case item.ConsecutiveFailures > 0:
		return "failing (" + strconv.Itoa(item.ConsecutiveFailures) + ")"
	case item.LastKnownPrice == nil:
		return "pending"
	default:
		return "ok"
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
