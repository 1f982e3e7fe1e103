package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Monitor: config.MonitorConfig{
			CheckInterval:    time.Hour,
			Workers:          1,
			FailureThreshold: 5,
		},
		Fetcher: config.FetcherConfig{Timeout: time.Second},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "items.db")},
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestAddListShowRemove(t *testing.T) {
	a, out := newTestApp(t, testConfig(t))
	ctx := context.Background()

	if err := a.Add(ctx, AddOptions{Owner: "42", URL: "https://www.amazon.nl/dp/B000TEST01"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.Add(ctx, AddOptions{Owner: "42", URL: "https://www.amazon.de/dp/B000TEST02"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	id := strings.SplitN(strings.SplitN(out.String(), "(id ", 2)[1], ")", 2)[0]

	out.Reset()
	if err := a.List(ctx, "42"); err != nil {
		t.Fatalf("List: %v", err)
	}
	listing := out.String()
	if !strings.Contains(listing, "amazon.nl (1)") || !strings.Contains(listing, "amazon.de (1)") {
		t.Fatalf("listing should be grouped by domain:\n%s", listing)
	}
	if !strings.Contains(listing, "pending") {
		t.Fatalf("unchecked items should be pending:\n%s", listing)
	}

	out.Reset()
	if err := a.Show(ctx); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if strings.Count(out.String(), "\n") != 3 {
		t.Fatalf("expected header plus two rows:\n%s", out.String())
	}

	out.Reset()
	if err := a.Remove(ctx, "42", id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := a.Remove(ctx, "42", id); err == nil {
		t.Fatal("second remove should fail")
	}
}

func TestExportCSV(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	ctx := context.Background()
	if err := a.Add(ctx, AddOptions{Owner: "42", URL: "https://www.amazon.nl/dp/B000TEST01"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "items.csv")
	if err := a.Export(ctx, ExportOptions{CSVPath: path}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 || records[0][0] != "id" || records[1][2] != "amazon.nl" {
		t.Fatalf("unexpected csv %v", records)
	}
}

func TestNotifyTestUsesTelegram(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Alerting = config.AlertingConfig{
		Enabled:  true,
		Timeout:  time.Second,
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "token", APIBase: srv.URL},
	}
	a, out := newTestApp(t, cfg)

	err := a.NotifyTest(context.Background(), NotifyTestOptions{
		ChatID: "777",
		Old:    decimal.RequireFromString("49.99"),
		New:    decimal.RequireFromString("44.99"),
		URL:    "https://www.amazon.nl/dp/B000TEST01",
	})
	if err != nil {
		t.Fatalf("NotifyTest: %v", err)
	}
	if received["chat_id"] != "777" {
		t.Fatalf("unexpected payload %v", received)
	}
	if text, _ := received["text"].(string); !strings.Contains(text, "Price dropped: €49.99 → €44.99") {
		t.Fatalf("unexpected text %q", text)
	}
	if !strings.Contains(out.String(), "sent") {
		t.Fatalf("expected confirmation, got %q", out.String())
	}
}

func TestNotifyTestRequiresAlerting(t *testing.T) {
	a, _ := newTestApp(t, testConfig(t))
	if err := a.NotifyTest(context.Background(), NotifyTestOptions{ChatID: "1"}); err == nil {
		t.Fatal("expected error when alerting is disabled")
	}
}
