package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/alerting"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/marketplace"
	"price-tracker/internal/storage"
)

const (
	nlURL = "https://www.amazon.nl/dp/B000TEST01"
	deURL = "https://www.amazon.de/dp/B000TEST02"
)

func productPage(price string) string {
	return fmt.Sprintf(`<html><body>
<span id="productTitle">Acme Coffee Grinder</span>
<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">%s</span></span></div>
</body></html>`, price)
}

const pageWithoutPrice = `<html><body><span id="productTitle">Acme Coffee Grinder</span><div id="availability">Currently unavailable.</div></body></html>`

type response struct {
	html string
	err  error
}

// fakePages serves scripted responses per URL; the last one repeats.
type fakePages struct {
	mu        sync.Mutex
	responses map[string][]response
	calls     map[string]int
	// block, when set, makes Fetch wait for ctx or release.
	block   chan struct{}
	started chan struct{}
}

func newFakePages() *fakePages {
	return &fakePages{responses: make(map[string][]response), calls: make(map[string]int)}
}

func (f *fakePages) script(url string, rs ...response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = append(f.responses[url], rs...)
}

func (f *fakePages) Fetch(ctx context.Context, rawURL string, _ marketplace.Profile) (string, error) {
	f.mu.Lock()
	n := f.calls[rawURL]
	f.calls[rawURL] = n + 1
	rs := f.responses[rawURL]
	block, started := f.block, f.started
	f.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
		}
	}

	if len(rs) == 0 {
		return "", &fetcher.Error{Kind: fetcher.KindNetwork, URL: rawURL, Err: errors.New("no scripted response")}
	}
	if n >= len(rs) {
		n = len(rs) - 1
	}
	return rs[n].html, rs[n].err
}

func (f *fakePages) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return r.err
}

func (r *recordingNotifier) byKind(kind alerting.Kind) []alerting.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alerting.Notification
	for _, n := range r.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	monitor  *Monitor
	store    *storage.Memory
	pages    *fakePages
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	opts.AlertsEnabled = true
	store := storage.NewMemory()
	pages := newFakePages()
	notifier := &recordingNotifier{}
	return fixture{
		monitor:  New(opts, store, pages, notifier, zerolog.Nop()),
		store:    store,
		pages:    pages,
		notifier: notifier,
	}
}

func (f fixture) register(t *testing.T, owner, url string) storage.TrackedItem {
	t.Helper()
	item, err := f.monitor.RegisterItem(context.Background(), owner, url)
	if err != nil {
		t.Fatalf("RegisterItem: %v", err)
	}
	return item
}

func (f fixture) cycle(t *testing.T) CycleReport {
	t.Helper()
	report, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	return report
}

func TestPriceDropNotifiesOnce(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.register(t, "12345", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")}, response{html: productPage("€44,99")})

	first := f.cycle(t)
	if first.Items[0].Outcome != OutcomeBaseline {
		t.Fatalf("first reading should be the baseline, got %s", first.Items[0].Outcome)
	}
	if len(f.notifier.notes) != 0 {
		t.Fatalf("baseline must not notify, got %d notes", len(f.notifier.notes))
	}

	second := f.cycle(t)
	if second.Changed != 1 || second.Items[0].Outcome != OutcomeChanged {
		t.Fatalf("expected one change, got %+v", second)
	}

	notes := f.notifier.byKind(alerting.KindPriceChange)
	if len(notes) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notes))
	}
	note := notes[0]
	if note.Owner != "12345" || note.ItemID != item.ID || note.Old.Amount != 4999 || note.New.Amount != 4499 {
		t.Fatalf("unexpected notification %+v", note)
	}
	if text := alerting.Render(note); !strings.Contains(text, "Price dropped: €49.99 → €44.99") {
		t.Fatalf("unexpected message:\n%s", text)
	}

	stored, _ := f.store.Get(context.Background(), item.ID)
	if stored.LastKnownPrice == nil || stored.LastKnownPrice.Amount != 4499 || stored.Name != "Acme Coffee Grinder" {
		t.Fatalf("store not updated: %+v", stored)
	}
}

func TestUnchangedPriceNeverNotifies(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")})

	for i := 0; i < 4; i++ {
		f.cycle(t)
	}
	if len(f.notifier.notes) != 0 {
		t.Fatalf("expected no notifications, got %d", len(f.notifier.notes))
	}
}

func TestStatusErrorRecordsFailure(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.register(t, "1", deURL)
	f.pages.script(deURL,
		response{html: productPage("49,99 €")},
		response{err: &fetcher.Error{Kind: fetcher.KindStatus, URL: deURL, StatusCode: 503}},
	)

	f.cycle(t)
	report := f.cycle(t)

	res := report.Items[0]
	if res.Outcome != OutcomeFailed || res.ErrorKind != "fetch_status" || res.Failures != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, _ := f.store.Get(context.Background(), item.ID)
	if stored.LastKnownPrice == nil || stored.LastKnownPrice.Amount != 4999 || stored.ConsecutiveFailures != 1 {
		t.Fatalf("failure must keep the price: %+v", stored)
	}
	if len(f.notifier.notes) != 0 {
		t.Fatalf("a failed fetch must not notify")
	}
}

func TestMissingPriceElementIsNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	item := f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")}, response{html: pageWithoutPrice})

	f.cycle(t)
	report := f.cycle(t)

	if got := report.Items[0].ErrorKind; got != "extract_not_found" {
		t.Fatalf("expected extract_not_found, got %q", got)
	}
	stored, _ := f.store.Get(context.Background(), item.ID)
	if stored.LastKnownPrice.Amount != 4999 || stored.ConsecutiveFailures != 1 {
		t.Fatalf("unexpected item state %+v", stored)
	}
}

func TestDegradedNoticeSentOnceAndRecovery(t *testing.T) {
	f := newFixture(t, Options{FailureThreshold: 3})
	item := f.register(t, "1", nlURL)
	broken := response{err: &fetcher.Error{Kind: fetcher.KindTimeout, URL: nlURL, Err: context.DeadlineExceeded}}
	f.pages.script(nlURL, response{html: productPage("€49,99")}, broken, broken, broken, broken, broken, response{html: productPage("€49,99")})

	for i := 0; i < 6; i++ {
		f.cycle(t)
	}
	if got := len(f.notifier.byKind(alerting.KindDegraded)); got != 1 {
		t.Fatalf("expected exactly one degraded notice, got %d", got)
	}
	stored, _ := f.store.Get(context.Background(), item.ID)
	if !stored.Degraded || stored.ConsecutiveFailures != 5 {
		t.Fatalf("expected degraded item with 5 failures, got %+v", stored)
	}

	report := f.cycle(t)
	if !report.Items[0].Recovered {
		t.Fatalf("expected recovery, got %+v", report.Items[0])
	}
	if got := len(f.notifier.byKind(alerting.KindRecovered)); got != 1 {
		t.Fatalf("expected one recovery notice, got %d", got)
	}
	if got := len(f.notifier.byKind(alerting.KindPriceChange)); got != 0 {
		t.Fatalf("same price after recovery is not a change, got %d", got)
	}
	stored, _ = f.store.Get(context.Background(), item.ID)
	if stored.Degraded || stored.ConsecutiveFailures != 0 {
		t.Fatalf("recovery should reset state: %+v", stored)
	}
}

func TestDegradedItemsAreCheckedLessOften(t *testing.T) {
	f := newFixture(t, Options{FailureThreshold: 1, DegradedInterval: time.Hour})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.monitor.now = func() time.Time { return now }

	f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{err: &fetcher.Error{Kind: fetcher.KindNetwork, URL: nlURL, Err: errors.New("reset")}})

	f.cycle(t)
	if f.pages.callCount(nlURL) != 1 {
		t.Fatalf("expected one fetch")
	}

	now = now.Add(10 * time.Minute)
	report := f.cycle(t)
	if report.Items[0].Outcome != OutcomeSkipped || f.pages.callCount(nlURL) != 1 {
		t.Fatalf("degraded item should be skipped before the interval elapses: %+v", report.Items[0])
	}

	now = now.Add(time.Hour)
	f.cycle(t)
	if f.pages.callCount(nlURL) != 2 {
		t.Fatalf("degraded item should be retried after the interval")
	}
}

func TestDeliveryFailureKeepsStoredPrice(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.err = &alerting.DeliveryError{Kind: alerting.DeliveryUnreachable}
	item := f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")}, response{html: productPage("€44,99")})

	f.cycle(t)
	report := f.cycle(t)
	if report.DeliveryFailed != 1 || report.Notified != 0 {
		t.Fatalf("expected one failed delivery, got %+v", report)
	}

	stored, _ := f.store.Get(context.Background(), item.ID)
	if stored.LastKnownPrice.Amount != 4499 {
		t.Fatalf("delivery failure must not roll back the store: %+v", stored)
	}

	f.cycle(t)
	if got := len(f.notifier.notes); got != 1 {
		t.Fatalf("the change must not be re-sent on the next cycle, got %d attempts", got)
	}
}

func TestFailingItemDoesNotAffectOthers(t *testing.T) {
	f := newFixture(t, Options{Workers: 4})
	bad := f.register(t, "1", nlURL)
	good := f.register(t, "1", deURL)
	f.pages.script(nlURL, response{err: &fetcher.Error{Kind: fetcher.KindNetwork, URL: nlURL, Err: errors.New("dns")}})
	f.pages.script(deURL, response{html: productPage("19,99 €")})

	report := f.cycle(t)
	if report.Failed != 1 || report.Checked != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	goodItem, _ := f.store.Get(context.Background(), good.ID)
	badItem, _ := f.store.Get(context.Background(), bad.ID)
	if goodItem.LastKnownPrice == nil || goodItem.LastKnownPrice.Amount != 1999 {
		t.Fatalf("healthy item not updated: %+v", goodItem)
	}
	if badItem.ConsecutiveFailures != 1 || badItem.LastKnownPrice != nil {
		t.Fatalf("failing item state wrong: %+v", badItem)
	}
}

func TestCancelledCycleRecordsNoFailure(t *testing.T) {
	f := newFixture(t, Options{Workers: 1})
	item := f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")})
	f.pages.block = make(chan struct{})
	f.pages.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var report CycleReport
	var err error
	go func() {
		report, err = f.monitor.RunCycle(ctx)
		close(done)
	}()

	<-f.pages.started
	cancel()
	<-done

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Items[0].Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %s", report.Items[0].Outcome)
	}
	stored, _ := f.store.Get(context.Background(), item.ID)
	if stored.ConsecutiveFailures != 0 || stored.LastKnownPrice != nil {
		t.Fatalf("cancelled check must leave the item untouched: %+v", stored)
	}
}

func TestOverlappingCyclesAndBusyItems(t *testing.T) {
	f := newFixture(t, Options{Workers: 1})
	item := f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")})
	f.pages.block = make(chan struct{})
	f.pages.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.monitor.RunCycle(context.Background())
		done <- err
	}()
	<-f.pages.started

	if _, err := f.monitor.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	if _, err := f.monitor.CheckItem(context.Background(), item.ID); !errors.Is(err, ErrItemBusy) {
		t.Fatalf("expected ErrItemBusy, got %v", err)
	}

	close(f.pages.block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
}

func TestTickSkipsWhenCycleRunning(t *testing.T) {
	f := newFixture(t, Options{})
	f.monitor.cycle.Lock()
	defer f.monitor.cycle.Unlock()
	if err := f.monitor.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick should swallow overlap, got %v", err)
	}
}

func TestTickTreatsShutdownAsClean(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{html: productPage("€49,99")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.monitor.Tick(ctx, time.Now()); err != nil {
		t.Fatalf("Tick should not report shutdown as a failure, got %v", err)
	}
}

func TestTrackerOperations(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.monitor.RegisterItem(ctx, "1", "https://www.example.com/item"); !errors.Is(err, marketplace.ErrUnsupportedDomain) {
		t.Fatalf("expected ErrUnsupportedDomain, got %v", err)
	}
	if _, err := f.monitor.RegisterItem(ctx, " ", nlURL); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}

	item := f.register(t, "1", nlURL)
	if item.Domain != "amazon.nl" {
		t.Fatalf("domain should come from the url, got %q", item.Domain)
	}
	if _, err := f.monitor.RegisterItem(ctx, "1", nlURL); !errors.Is(err, storage.ErrAlreadyTracked) {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
	f.register(t, "2", deURL)

	mine, _ := f.monitor.ListItems(ctx, "1")
	if len(mine) != 1 || mine[0].ID != item.ID {
		t.Fatalf("unexpected list %+v", mine)
	}
	all, _ := f.monitor.Snapshot(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 items in snapshot, got %d", len(all))
	}

	if err := f.monitor.RemoveItem(ctx, "2", item.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign item, got %v", err)
	}
	if err := f.monitor.RemoveItem(ctx, "1", item.ID); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, err := f.monitor.GetItem(ctx, item.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestCheckItemIgnoresBackoff(t *testing.T) {
	f := newFixture(t, Options{FailureThreshold: 1, DegradedInterval: time.Hour})
	item := f.register(t, "1", nlURL)
	f.pages.script(nlURL, response{err: &fetcher.Error{Kind: fetcher.KindNetwork, URL: nlURL, Err: errors.New("reset")}}, response{html: productPage("€49,99")})

	f.cycle(t)
	res, err := f.monitor.CheckItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("CheckItem: %v", err)
	}
	if res.Outcome != OutcomeBaseline || !res.Recovered {
		t.Fatalf("expected recovered baseline, got %+v", res)
	}
}

func TestRegisterRejectsNonHTTPURL(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.monitor.RegisterItem(context.Background(), "1", "ftp://www.amazon.nl/dp/B0"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}
