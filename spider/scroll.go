package spider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/peruprices/crawler/browser"
	"github.com/peruprices/crawler/models"
)

// Session is the browser capability a scroll spider drives. One
// session holds one page at a time, so navigation is not safe
// concurrently; the spider serializes access.
type Session interface {
	browser.Scroller
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Markup(ctx context.Context) (string, error)
}

// ScrollSpider scrapes infinite-scroll catalog pages through a shared
// browser session: navigate, wait for the first matching node, scroll
// until the page height converges, then read the rendered markup.
type ScrollSpider struct {
	name        string
	baseURL     string
	subroutes   []string
	delay       time.Duration
	rawSelector string
	selector    cascadia.Selector
	extractor   Extractor
	poller      browser.Poller
	waitTimeout time.Duration
	metrics     *Metrics

	// mu serializes session use across subroutes. It is released
	// before parsing so extraction never blocks the next navigation.
	mu   sync.Mutex
	sess Session
}

// ScrollConfig describes one session-backed spider.
type ScrollConfig struct {
	Name        string
	BaseURL     string
	Subroutes   []string
	Selector    string
	Delay       time.Duration
	WaitTimeout time.Duration
}

// NewScrollSpider builds a session-backed spider. Metrics may be nil.
func NewScrollSpider(cfg ScrollConfig, sess Session, poller browser.Poller, extractor Extractor, m *Metrics) (*ScrollSpider, error) {
	selector, err := compileSelector(cfg.Selector)
	if err != nil {
		return nil, err
	}
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	return &ScrollSpider{
		name:        cfg.Name,
		baseURL:     cfg.BaseURL,
		subroutes:   cfg.Subroutes,
		delay:       cfg.Delay,
		rawSelector: cfg.Selector,
		selector:    selector,
		extractor:   extractor,
		poller:      poller,
		waitTimeout: waitTimeout,
		metrics:     m,
		sess:        sess,
	}, nil
}

func (s *ScrollSpider) Name() string { return s.name }

func (s *ScrollSpider) BaseURL() string { return s.baseURL }

func (s *ScrollSpider) Subroutes() []string { return s.subroutes }

func (s *ScrollSpider) Delay() time.Duration { return s.delay }

func (s *ScrollSpider) String() string {
	return fmt.Sprintf("%s (url=%s, subroutes=%d)", s.name, s.baseURL, len(s.subroutes))
}

// Scrape renders one subroute to completion and extracts its records.
func (s *ScrollSpider) Scrape(ctx context.Context, url string) ([]models.Record, error) {
	markup, err := s.capture(ctx, url)
	if err != nil {
		return nil, err
	}
	return extractRecords(markup, s.selector, s.extractor, PageContext{URL: url}, s.metrics)
}

// capture holds the session lock around navigate, wait, scroll, and
// markup read. A scroll failure keeps whatever content already loaded;
// partial content beats none.
func (s *ScrollSpider) capture(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sess.Navigate(ctx, url); err != nil {
		return "", ErrNavigation{URL: url, Err: err}
	}
	if err := s.sess.WaitVisible(ctx, s.rawSelector, s.waitTimeout); err != nil {
		return "", ErrWaitTimeout{Selector: s.rawSelector, Err: err}
	}

	if err := s.poller.WaitConverged(ctx, s.sess); err != nil {
		slog.Error("scroll loop aborted",
			slog.String("spider", s.name),
			slog.String("url", url),
			slog.String("error_chain", CauseChain(err)),
		)
	}

	markup, err := s.sess.Markup(ctx)
	if err != nil {
		return "", ErrMarkup{Err: err}
	}
	return markup, nil
}
