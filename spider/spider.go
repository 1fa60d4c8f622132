// Package spider implements the crawl units for the catalog sites: the
// Spider contract, the subroute fan-out algorithm shared by every
// implementation, and the static and session-backed spiders.
package spider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peruprices/crawler/models"
	"golang.org/x/sync/errgroup"
)

// Spider is one configured crawl unit. Implementations provide the
// single-subroute Scrape; the fan-out over all subroutes is shared and
// lives in ScrapeAll.
type Spider interface {
	Name() string
	BaseURL() string
	Subroutes() []string
	// Delay is the pacing applied before every subroute except the first.
	Delay() time.Duration
	Scrape(ctx context.Context, url string) ([]models.Record, error)
}

// ScrapeAll scrapes every subroute of s with at most limit in flight
// at once and returns the merged, ID-deduplicated records.
//
// The delay is applied when a subroute is issued, not between request
// completions, so under concurrency it throttles issue rate rather
// than guaranteeing a minimum gap between requests. A failed subroute
// is logged and contributes nothing; it never aborts its siblings.
// Output order is unspecified.
func ScrapeAll(ctx context.Context, s Spider, limit int, m *Metrics) models.SpiderResult {
	if limit <= 0 {
		limit = 1
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		byID    = make(map[string]models.Record)
		failed  []string
		baseURL = strings.TrimSuffix(s.BaseURL(), "/")
	)
	g.SetLimit(limit)

	for i, subroute := range s.Subroutes() {
		first := i == 0
		url := fmt.Sprintf("%s/%s", baseURL, subroute)
		g.Go(func() error {
			if !first {
				select {
				case <-time.After(s.Delay()):
				case <-ctx.Done():
					slog.Warn("subroute skipped, crawl cancelled",
						slog.String("spider", s.Name()),
						slog.String("url", url),
					)
					m.IncSubroute("failed")
					mu.Lock()
					failed = append(failed, url)
					mu.Unlock()
					return nil
				}
			}

			records, err := s.Scrape(ctx, url)
			if err != nil {
				slog.Error("failed to scrape subroute",
					slog.String("spider", s.Name()),
					slog.String("url", url),
					slog.String("error_chain", CauseChain(err)),
				)
				m.IncSubroute("failed")
				m.IncError(errorTypeLabel(err))
				mu.Lock()
				failed = append(failed, url)
				mu.Unlock()
				return nil
			}

			m.IncSubroute("ok")
			m.AddRecords(len(records))
			mu.Lock()
			for _, record := range records {
				byID[record.ID] = record
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	records := make([]models.Record, 0, len(byID))
	for _, record := range byID {
		records = append(records, record)
	}
	sort.Strings(failed)

	return models.SpiderResult{
		Spider:          s.Name(),
		Records:         records,
		FailedSubroutes: failed,
	}
}
