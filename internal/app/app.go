package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-tracker/internal/alerting"
	"price-tracker/internal/api"
	"price-tracker/internal/config"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/marketplace"
	"price-tracker/internal/monitor"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output such as tables.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFetcher() (*fetcher.Page, error) {
	cfg := a.Config.Fetcher
	return fetcher.NewPage(fetcher.Options{
		Timeout:         cfg.Timeout,
		UserAgent:       cfg.UserAgent,
		PolitenessDelay: cfg.PolitenessDelay,
		RandomDelay:     cfg.RandomDelay,
		WarmUp:          cfg.WarmUp,
	}, marketplace.Profiles(), a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.ItemStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", a.Config.Storage.Driver, err)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	return store, closer, nil
}

func (a *App) newMonitor(store storage.ItemStore) (*monitor.Monitor, error) {
	pages, err := a.newFetcher()
	if err != nil {
		return nil, err
	}
	cfg := a.Config.Monitor
	return monitor.New(monitor.Options{
		Workers:          cfg.Workers,
		FailureThreshold: cfg.FailureThreshold,
		DegradedInterval: cfg.DegradedInterval,
		AdvisoryLockKey:  cfg.AdvisoryLockKey,
		AlertsEnabled:    a.Config.Alerting.Enabled,
	}, store, pages, a.newNotifier(), a.Logger), nil
}

// withMonitor opens the store, builds the monitor and hands both to fn.
func (a *App) withMonitor(ctx context.Context, fn func(ctx context.Context, mon *monitor.Monitor) error) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	mon, err := a.newMonitor(store)
	if err != nil {
		return err
	}
	return fn(ctx, mon)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	return a.withMonitor(ctx, func(ctx context.Context, mon *monitor.Monitor) error {
		sched := scheduler.New(scheduler.Options{
			Interval:       a.Config.Monitor.CheckInterval,
			Jitter:         a.Config.Monitor.Jitter,
			StartupDelay:   a.Config.Monitor.StartupDelay,
			RunImmediately: a.Config.Monitor.RunOnStart,
		}, a.Logger)

		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return sched.Run(gctx, mon.Tick)
		})

		if a.Config.API.Enabled {
			if strings.EqualFold(a.Config.App.Environment, "production") {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := api.NewServer(a.Config.API.Addr, api.NewRouter(mon, a.Logger), a.Logger)
			group.Go(func() error {
				if err := srv.Run(gctx); err != nil {
					return err
				}
				return gctx.Err()
			})
		}

		a.Logger.Info().
			Dur("interval", a.Config.Monitor.CheckInterval).
			Str("storage", a.Config.Storage.Driver).
			Bool("api", a.Config.API.Enabled).
			Msg("starting monitoring service")

		err := group.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("service terminated with error")
			return err
		}

		a.Logger.Info().Msg("monitoring service stopped")
		return nil
	})
}
