package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"price-tracker/internal/monitor"
	"price-tracker/internal/storage"
)

// ExportOptions hold parameters for exporting tracked items.
type ExportOptions struct {
	CSVPath string
	// Owner limits the export to one owner; empty exports everything.
	Owner string
}

// Export writes the tracked items as CSV.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv must be provided")
	}

	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		var (
			items []storage.TrackedItem
			err   error
		)
		if opts.Owner != "" {
			items, err = mon.ListItems(ctx, opts.Owner)
		} else {
			items, err = mon.Snapshot(ctx)
		}
		if err != nil {
			return err
		}

		if err := writeItemsCSV(opts.CSVPath, items); err != nil {
			return err
		}
		a.Logger.Info().Int("items", len(items)).Str("path", opts.CSVPath).Msg("items exported")
		return nil
	})
}

func writeItemsCSV(path string, items []storage.TrackedItem) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	if err := encodeItemsCSV(file, items); err != nil {
		return err
	}
	return file.Close()
}

func encodeItemsCSV(out io.Writer, items []storage.TrackedItem) error {
	writer := csv.NewWriter(out)
	header := []string{"id", "owner", "domain", "url", "name", "price", "currency", "last_checked", "consecutive_failures", "degraded"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, item := range items {
		price := ""
		if item.LastKnownPrice != nil {
			price = item.LastKnownPrice.Decimal().StringFixed(2)
		}
		lastChecked := ""
		if !item.LastChecked.IsZero() {
			lastChecked = item.LastChecked.UTC().Format(time.RFC3339)
		}
		record := []string{
			item.ID,
			item.Owner,
			item.Domain,
			item.URL,
			item.Name,
			price,
			item.Currency,
			lastChecked,
			strconv.Itoa(item.ConsecutiveFailures),
			strconv.FormatBool(item.Degraded),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
