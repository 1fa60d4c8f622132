package spider

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const captureKey = "capture"

// FetcherOptions configures the static page source.
type FetcherOptions struct {
	UserAgent       string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	// CacheSize bounds the in-memory markup cache; zero disables it.
	CacheSize int
}

// Fetcher turns a URL into markup with a single retried HTTP GET. It
// has no shared mutable page state and is safe for concurrent use.
type Fetcher struct {
	collector *colly.Collector
	opts      FetcherOptions
	cache     *lru.Cache[string, string]
	metrics   *Metrics
}

type fetchCapture struct {
	body []byte
	err  error
}

// NewFetcher builds a fetcher from opts. Metrics may be nil.
func NewFetcher(opts FetcherOptions, m *Metrics) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
	)
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(opts.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &Fetcher{
		collector: collector,
		opts:      opts,
		metrics:   m,
	}

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, string](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create markup cache: %w", err)
		}
		f.cache = cache
	}

	collector.OnResponse(func(r *colly.Response) {
		if capture, ok := r.Ctx.GetAny(captureKey).(*fetchCapture); ok {
			capture.body = r.Body
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Request == nil {
			return
		}
		if capture, ok := r.Ctx.GetAny(captureKey).(*fetchCapture); ok {
			capture.err = err
		}
	})

	return f, nil
}

// WithTransport swaps the underlying HTTP transport. Used by tests to
// install a mock.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch issues a GET for url and returns the document body, retrying
// transient failures with capped exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.cache != nil {
		if markup, ok := f.cache.Get(url); ok {
			return markup, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", ErrFetch{URL: url, Err: err}
		}
		if attempt > 0 {
			f.metrics.IncRetries()
			select {
			case <-time.After(f.backoff(attempt)):
			case <-ctx.Done():
				return "", ErrFetch{URL: url, Err: ctx.Err()}
			}
			slog.Debug("retrying fetch", slog.String("url", url), slog.Int("attempt", attempt))
		}

		start := time.Now()
		capture := &fetchCapture{}
		cctx := colly.NewContext()
		cctx.Put(captureKey, capture)

		err := f.collector.Request(http.MethodGet, url, nil, cctx, nil)
		if err == nil {
			err = capture.err
		}
		if err != nil {
			lastErr = err
			continue
		}

		f.metrics.ObserveFetch(time.Since(start))
		markup := string(capture.body)
		if f.cache != nil {
			f.cache.Add(url, markup)
		}
		return markup, nil
	}

	return "", ErrFetch{URL: url, Err: lastErr}
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.opts.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.opts.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}
