package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-tracker/internal/alerting"
	"price-tracker/internal/extractor"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/marketplace"
	"price-tracker/internal/money"
	"price-tracker/internal/storage"
)

var (
	// ErrCycleInProgress is returned when a cycle is already running here or
	// in another instance holding the advisory lock.
	ErrCycleInProgress = errors.New("monitor: cycle already in progress")
	// ErrItemBusy is returned when the item is being checked right now.
	ErrItemBusy = errors.New("monitor: item is being checked")
)

// Options tune the cycle runner.
type Options struct {
	Workers          int
	FailureThreshold int
	DegradedInterval time.Duration
	AdvisoryLockKey  int64
	AlertsEnabled    bool
}

// Monitor orchestrates fetching, extraction, change detection and alerting.
type Monitor struct {
	store    storage.ItemStore
	fetcher  fetcher.PageFetcher
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger

	opts  Options
	locks *itemLocks
	cycle sync.Mutex
	now   func() time.Time
}

// New constructs the monitor.
func New(opts Options, store storage.ItemStore, pages fetcher.PageFetcher, notifier alerting.Notifier, logger zerolog.Logger) *Monitor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Monitor{
		store:    store,
		fetcher:  pages,
		notifier: notifier,
		locker:   locker,
		logger:   logger.With().Str("component", "monitor").Logger(),
		opts:     opts,
		locks:    newItemLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tick adapts RunCycle to the scheduler.
func (m *Monitor) Tick(ctx context.Context, at time.Time) error {
	report, err := m.RunCycle(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		m.logger.Debug().Time("at", at).Msg("skip tick because a cycle is already running")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		m.logger.Info().Int("items", len(report.Items)).Msg("cycle interrupted by shutdown")
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Info().
		Int("items", len(report.Items)).
		Int("changed", report.Changed).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("cycle finished")
	return nil
}

// RunCycle checks every tracked item once. Items run in parallel up to the
// worker limit; a failing item never affects the others. When ctx is
// cancelled, in-flight fetches are aborted and the remaining items are left
// for the next cycle.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	if !m.cycle.TryLock() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer m.cycle.Unlock()

	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return CycleReport{}, err
	}
	if !proceed {
		return CycleReport{}, ErrCycleInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	report := CycleReport{StartedAt: m.now()}
	items, err := m.store.All(ctx)
	if err != nil {
		return report, fmt.Errorf("list items: %w", err)
	}
	report.Items = make([]ItemResult, 0, len(items))

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(m.opts.Workers)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			res := m.checkScheduled(ctx, item)
			mu.Lock()
			report.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	report.FinishedAt = m.now()
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// CheckItem runs one check for id right now, ignoring the degraded back-off.
func (m *Monitor) CheckItem(ctx context.Context, id string) (ItemResult, error) {
	item, err := m.store.Get(ctx, id)
	if err != nil {
		return ItemResult{}, err
	}
	unlock, ok := m.locks.tryLock(id)
	if !ok {
		return ItemResult{}, ErrItemBusy
	}
	defer unlock()
	return m.check(ctx, item), nil
}

func (m *Monitor) checkScheduled(ctx context.Context, item storage.TrackedItem) ItemResult {
	if !m.due(item, m.now()) {
		return resultFor(item, OutcomeSkipped)
	}
	unlock, ok := m.locks.tryLock(item.ID)
	if !ok {
		return resultFor(item, OutcomeBusy)
	}
	defer unlock()
	return m.check(ctx, item)
}

// due reports whether a degraded item has waited long enough.
func (m *Monitor) due(item storage.TrackedItem, now time.Time) bool {
	if !item.Degraded || m.opts.DegradedInterval <= 0 || item.LastAttempt.IsZero() {
		return true
	}
	return now.Sub(item.LastAttempt) >= m.opts.DegradedInterval
}

func (m *Monitor) check(ctx context.Context, item storage.TrackedItem) ItemResult {
	log := m.logger.With().Str("item_id", item.ID).Str("domain", item.Domain).Logger()
	// store writes finish even when the cycle is being cancelled
	storeCtx := context.WithoutCancel(ctx)

	profile, err := marketplace.Resolve(item.URL)
	if err != nil {
		return m.fail(storeCtx, item, err, log)
	}

	html, err := m.fetcher.Fetch(ctx, item.URL, profile)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Err(err).Msg("fetch aborted")
			return resultFor(item, OutcomeCancelled)
		}
		return m.fail(storeCtx, item, err, log)
	}

	extracted, err := extractor.Extract(html, profile)
	if err != nil {
		return m.fail(storeCtx, item, err, log)
	}

	reading := storage.PriceReading{
		ItemID:     item.ID,
		Price:      extracted.Price,
		ObservedAt: m.now(),
		Source:     storage.SourceRaw,
		Title:      extracted.Title,
	}
	change, err := m.store.UpsertReading(storeCtx, item.ID, reading)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return resultFor(item, OutcomeSkipped)
		}
		log.Error().Err(err).Msg("failed to store reading")
		res := resultFor(item, OutcomeFailed)
		res.setErr(err)
		return res
	}

	res := resultFor(change.Item, OutcomeUnchanged)
	res.Price = &change.New
	switch {
	case change.Old == nil:
		res.Outcome = OutcomeBaseline
		log.Info().Str("price", change.New.String()).Msg("baseline price recorded")
	case change.Changed:
		res.Outcome = OutcomeChanged
		res.OldPrice = change.Old
		log.Info().Str("old", change.Old.String()).Str("new", change.New.String()).Msg("price changed")
	default:
		log.Debug().Str("price", change.New.String()).Msg("price unchanged")
	}

	if change.Recovered {
		log.Info().Msg("item recovered")
		res.Recovered = true
		res.notified(m.deliver(storeCtx, change.Item, alerting.KindRecovered, nil, change.New, log))
	}
	if change.Changed {
		res.notified(m.deliver(storeCtx, change.Item, alerting.KindPriceChange, change.Old, change.New, log))
	}
	return res
}

func (m *Monitor) fail(storeCtx context.Context, item storage.TrackedItem, cause error, log zerolog.Logger) ItemResult {
	res := resultFor(item, OutcomeFailed)
	res.setErr(cause)

	updated, err := m.store.RecordFailure(storeCtx, item.ID, m.now())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Msg("failed to record failure")
		}
		return res
	}
	res.Failures = updated.ConsecutiveFailures
	log.Warn().Err(cause).
		Str("kind", FailureKind(cause)).
		Int("consecutive_failures", updated.ConsecutiveFailures).
		Msg("check failed")

	if updated.ConsecutiveFailures < m.opts.FailureThreshold || updated.Degraded {
		return res
	}
	transitioned, err := m.store.MarkDegraded(storeCtx, item.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to mark item degraded")
		return res
	}
	if !transitioned {
		return res
	}
	res.Degraded = true
	log.Warn().Int("threshold", m.opts.FailureThreshold).Msg("item degraded")

	var last money.Price
	if updated.LastKnownPrice != nil {
		last = *updated.LastKnownPrice
	}
	updated.Degraded = true
	res.notified(m.deliver(storeCtx, updated, alerting.KindDegraded, nil, last, log))
	return res
}

// deliver sends a notification. Delivery errors are logged and reported but
// never undo the stored state.
func (m *Monitor) deliver(ctx context.Context, item storage.TrackedItem, kind alerting.Kind, old *money.Price, current money.Price, log zerolog.Logger) error {
	if !m.opts.AlertsEnabled || m.notifier == nil {
		return errAlertsDisabled
	}
	note := alerting.Notification{
		Kind:       kind,
		ItemID:     item.ID,
		Owner:      item.Owner,
		ItemName:   item.Name,
		URL:        item.URL,
		Domain:     item.Domain,
		Old:        old,
		New:        current,
		Failures:   item.ConsecutiveFailures,
		ObservedAt: m.now(),
	}
	if err := m.notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Str("notification", string(kind)).Msg("failed to deliver notification")
		return err
	}
	return nil
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.opts.AdvisoryLockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// FailureKind names the error class for logs and reports.
func FailureKind(err error) string {
	var fe *fetcher.Error
	if errors.As(err, &fe) {
		return "fetch_" + string(fe.Kind)
	}
	var ee *extractor.Error
	if errors.As(err, &ee) {
		return "extract_" + string(ee.Kind)
	}
	if errors.Is(err, marketplace.ErrUnsupportedDomain) {
		return "unsupported_domain"
	}
	return "unknown"
}
