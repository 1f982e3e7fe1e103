package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"price-tracker/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	API      APIConfig      `mapstructure:"api"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// MonitorConfig governs the check cadence and the degraded policy.
type MonitorConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	Jitter           time.Duration `mapstructure:"jitter"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	Workers          int           `mapstructure:"workers"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	DegradedInterval time.Duration `mapstructure:"degraded_interval"`
	RunOnStart       bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// FetcherConfig shapes outbound page requests.
type FetcherConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
	RandomDelay     time.Duration `mapstructure:"random_delay"`
	WarmUp          bool          `mapstructure:"warm_up"`
}

// StorageConfig selects and configures the item store.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MongoConfig encapsulates MongoDB connectivity.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot. Messages go to the chat id
// stored as the item owner.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// APIConfig controls the HTTP admin surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PRICETRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the short variable names used by container setups.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"monitor.check_interval":      {"PRICETRACKER_MONITOR_CHECK_INTERVAL", "CHECK_INTERVAL"},
		"alerting.telegram.bot_token": {"PRICETRACKER_ALERTING_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricetracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.check_interval", "3600s")
	v.SetDefault("monitor.jitter", "2m")
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("monitor.failure_threshold", 5)
	v.SetDefault("monitor.degraded_interval", "6h")
	v.SetDefault("monitor.run_on_start", true)
	v.SetDefault("monitor.advisory_lock_key", int64(0x70726963))

	v.SetDefault("fetcher.timeout", "20s")
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetcher.politeness_delay", "5s")
	v.SetDefault("fetcher.random_delay", "5s")
	v.SetDefault("fetcher.warm_up", true)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "data/pricetracker.db")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 2)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.mongo.database", "pricetracker")
	v.SetDefault("storage.mongo.collection", "tracked_items")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", ":8080")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// secondsToDurationHookFunc reads bare numbers ("3600", 3600) as seconds.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch raw := data.(type) {
		case string:
			trimmed := strings.TrimSpace(raw)
			secs, err := strconv.ParseInt(trimmed, 10, 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(secs) * time.Second, nil
		case int:
			return time.Duration(raw) * time.Second, nil
		case int64:
			return time.Duration(raw) * time.Second, nil
		case float64:
			return time.Duration(raw * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor.check_interval must be greater than zero")
	}
	if c.Monitor.Jitter < 0 {
		return fmt.Errorf("monitor.jitter cannot be negative")
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor.workers must be greater than zero")
	}
	if c.Monitor.FailureThreshold <= 0 {
		return fmt.Errorf("monitor.failure_threshold must be greater than zero")
	}
	if c.Monitor.DegradedInterval < 0 {
		return fmt.Errorf("monitor.degraded_interval cannot be negative")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be greater than zero")
	}
	if c.Fetcher.PolitenessDelay < 0 || c.Fetcher.RandomDelay < 0 {
		return fmt.Errorf("fetcher delays cannot be negative")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", "sqlite", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres driver")
		}
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri must be set for the mongo driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token must be set (or TELEGRAM_BOT_TOKEN)")
	}
	if c.API.Enabled && c.API.Addr == "" {
		return fmt.Errorf("api.addr must be set when the api is enabled")
	}
	return nil
}
