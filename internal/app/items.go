package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"price-tracker/internal/monitor"
	"price-tracker/internal/storage"
)

// AddOptions configure the add command.
type AddOptions struct {
	Owner string
	URL   string
	// Check records the first price immediately.
	Check bool
}

// Add registers a product URL for an owner.
func (a *App) Add(ctx context.Context, opts AddOptions) error {
	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		item, err := mon.RegisterItem(ctx, opts.Owner, opts.URL)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "tracking %s on %s (id %s)\n", item.URL, item.Domain, item.ID)

		if !opts.Check {
			return nil
		}
		res, err := mon.CheckItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if res.Outcome == monitor.OutcomeFailed {
			fmt.Fprintf(a.Out, "first check failed (%s); it will be retried by the next cycle\n", res.ErrorKind)
			return nil
		}
		fmt.Fprintf(a.Out, "current price: %s\n", formatPrice(res.Price))
		return nil
	})
}

// List prints the owner's items grouped by marketplace domain.
func (a *App) List(ctx context.Context, owner string) error {
	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		items, err := mon.ListItems(ctx, owner)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(a.Out, "no tracked items")
			return nil
		}

		groups, domains := groupByDomain(items)
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		for i, domain := range domains {
			if i > 0 {
				fmt.Fprintln(writer)
			}
			fmt.Fprintf(writer, "%s (%d)\n", domain, len(groups[domain]))
			fmt.Fprintln(writer, "  ID\tName\tPrice\tLast checked\tStatus")
			for _, item := range groups[domain] {
				fmt.Fprintf(writer, "  %s\t%s\t%s\t%s\t%s\n",
					item.ID,
					truncate(sanitizeInline(item.Name), 48),
					formatPrice(item.LastKnownPrice),
					formatTime(item.LastChecked),
					itemStatus(item),
				)
			}
		}
		return writer.Flush()
	})
}

// Remove stops tracking an item.
func (a *App) Remove(ctx context.Context, owner, id string) error {
	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		if err := mon.RemoveItem(ctx, owner, id); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "removed %s\n", id)
		return nil
	})
}

func groupByDomain(items []storage.TrackedItem) (map[string][]storage.TrackedItem, []string) {
	groups := make(map[string][]storage.TrackedItem)
	var domains []string
	for _, item := range items {
		if _, ok := groups[item.Domain]; !ok {
			domains = append(domains, item.Domain)
		}
		groups[item.Domain] = append(groups[item.Domain], item)
	}
	return groups, domains
}
