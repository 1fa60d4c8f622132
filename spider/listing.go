package spider

import (
	"context"
	"fmt"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/peruprices/crawler/models"
)

// ListingSpider scrapes static catalog pages: one retried GET per
// subroute, then extraction over every node matching the selector.
type ListingSpider struct {
	name      string
	baseURL   string
	subroutes []string
	delay     time.Duration
	selector  cascadia.Selector
	extractor Extractor
	fetcher   *Fetcher
	metrics   *Metrics
}

// ListingConfig describes one static spider.
type ListingConfig struct {
	Name      string
	BaseURL   string
	Subroutes []string
	Selector  string
	Delay     time.Duration
}

// NewListingSpider builds a static spider. Metrics may be nil.
func NewListingSpider(cfg ListingConfig, fetcher *Fetcher, extractor Extractor, m *Metrics) (*ListingSpider, error) {
	selector, err := compileSelector(cfg.Selector)
	if err != nil {
		return nil, err
	}
	return &ListingSpider{
		name:      cfg.Name,
		baseURL:   cfg.BaseURL,
		subroutes: cfg.Subroutes,
		delay:     cfg.Delay,
		selector:  selector,
		extractor: extractor,
		fetcher:   fetcher,
		metrics:   m,
	}, nil
}

func (s *ListingSpider) Name() string { return s.name }

func (s *ListingSpider) BaseURL() string { return s.baseURL }

func (s *ListingSpider) Subroutes() []string { return s.subroutes }

func (s *ListingSpider) Delay() time.Duration { return s.delay }

func (s *ListingSpider) String() string {
	return fmt.Sprintf("%s (url=%s, subroutes=%d)", s.name, s.baseURL, len(s.subroutes))
}

// Scrape fetches one subroute and extracts its records.
func (s *ListingSpider) Scrape(ctx context.Context, url string) ([]models.Record, error) {
	markup, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return extractRecords(markup, s.selector, s.extractor, PageContext{URL: url}, s.metrics)
}
