package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CHECK_INTERVAL", "TELEGRAM_BOT_TOKEN", "PRICETRACKER_MONITOR_CHECK_INTERVAL", "PRICETRACKER_ALERTING_TELEGRAM_BOT_TOKEN"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "app:\n  name: pricetracker\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.CheckInterval != time.Hour {
		t.Fatalf("expected default interval 1h, got %s", cfg.Monitor.CheckInterval)
	}
	if cfg.Monitor.FailureThreshold != 5 || cfg.Monitor.DegradedInterval != 6*time.Hour {
		t.Fatalf("unexpected degraded policy defaults: %+v", cfg.Monitor)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLite.Path == "" {
		t.Fatalf("expected sqlite default store, got %+v", cfg.Storage)
	}
}

func TestCheckIntervalFromEnvSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHECK_INTERVAL", "900")
	cfg, err := Load(writeConfig(t, "app:\n  name: pricetracker\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.CheckInterval != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", cfg.Monitor.CheckInterval)
	}
}

func TestCheckIntervalFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "monitor:\n  check_interval: 120\n  jitter: 30s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.CheckInterval != 2*time.Minute {
		t.Fatalf("expected bare number to mean seconds, got %s", cfg.Monitor.CheckInterval)
	}
	if cfg.Monitor.Jitter != 30*time.Second {
		t.Fatalf("expected 30s jitter, got %s", cfg.Monitor.Jitter)
	}
}

func TestTelegramTokenFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	path := writeConfig(t, "alerting:\n  telegram:\n    enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerting.Telegram.BotToken != "123:abc" {
		t.Fatalf("token not picked up: %q", cfg.Alerting.Telegram.BotToken)
	}
}

func TestValidateRejects(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"telegram without token": "alerting:\n  telegram:\n    enabled: true\n",
		"postgres without dsn":   "storage:\n  driver: postgres\n",
		"unknown driver":         "storage:\n  driver: redis\n",
		"zero workers":           "monitor:\n  workers: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), ".") {
				t.Fatalf("error should name the offending key: %v", err)
			}
		})
	}
}
