package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"price-tracker/internal/marketplace"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// Options parameterise the page fetcher.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	PolitenessDelay time.Duration
	RandomDelay     time.Duration
	// WarmUp visits the storefront root once per domain before the first
	// product page so the session carries regular cookies.
	WarmUp bool
}

// Page fetches product pages through a shared colly collector whose limit
// rules keep at most one request in flight per marketplace domain.
type Page struct {
	opts      Options
	collector *colly.Collector
	logger    zerolog.Logger

	warmMu sync.Mutex
	warmed map[string]bool
}

// NewPage builds a fetcher limited per domain for every profile given.
func NewPage(opts Options, profiles []marketplace.Profile, logger zerolog.Logger) (*Page, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)

	for _, p := range profiles {
		rule := &colly.LimitRule{
			DomainGlob:  "*" + p.Domain + "*",
			Parallelism: 1,
			Delay:       opts.PolitenessDelay,
			RandomDelay: opts.RandomDelay,
		}
		if err := c.Limit(rule); err != nil {
			return nil, fmt.Errorf("limit rule for %s: %w", p.Domain, err)
		}
	}

	return &Page{
		opts:      opts,
		collector: c,
		logger:    logger.With().Str("component", "page_fetcher").Logger(),
		warmed:    make(map[string]bool),
	}, nil
}

// Fetch returns the body of rawURL or an *Error. Cancellation of ctx is
// returned as ctx.Err() so callers can tell shutdown from site failure.
func (p *Page) Fetch(ctx context.Context, rawURL string, profile marketplace.Profile) (string, error) {
	if p.opts.WarmUp {
		p.warmUp(ctx, profile)
	}

	c := p.collector.Clone()
	c.Context = ctx
	// status codes are classified below; colly would reject 203-299 too
	c.ParseHTTPErrorResponse = true

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})

	started := time.Now()
	err := c.Request(http.MethodGet, rawURL, nil, nil, p.headers(profile))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err == nil && (status < 200 || status > 299) {
		err = errors.New(http.StatusText(status))
	}
	if err != nil {
		if errors.Is(err, colly.ErrMissingURL) {
			return "", fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		fetchErr := classify(rawURL, status, err)
		p.logger.Debug().Err(fetchErr).Str("url", rawURL).Dur("elapsed", time.Since(started)).Msg("page fetch failed")
		return "", fetchErr
	}

	p.logger.Debug().Str("url", rawURL).Int("bytes", len(body)).Dur("elapsed", time.Since(started)).Msg("page fetched")
	return string(body), nil
}

func (p *Page) headers(profile marketplace.Profile) http.Header {
	hdr := http.Header{}
	hdr.Set("User-Agent", p.opts.UserAgent)
	hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	if profile.AcceptLanguage != "" {
		hdr.Set("Accept-Language", profile.AcceptLanguage)
	}
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Upgrade-Insecure-Requests", "1")
	return hdr
}

func (p *Page) warmUp(ctx context.Context, profile marketplace.Profile) {
	p.warmMu.Lock()
	done := p.warmed[profile.Domain]
	p.warmed[profile.Domain] = true
	p.warmMu.Unlock()
	if done {
		return
	}

	c := p.collector.Clone()
	c.Context = ctx
	c.ParseHTTPErrorResponse = true
	if err := c.Request(http.MethodGet, profile.HomeURL(), nil, nil, p.headers(profile)); err != nil {
		p.logger.Debug().Err(err).Str("domain", profile.Domain).Msg("warm-up visit failed")
	}
}

var _ PageFetcher = (*Page)(nil)
