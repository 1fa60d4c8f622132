// Package crawler runs a set of spiders in parallel and hands each
// spider's deduplicated records to a sink.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/peruprices/crawler/models"
	"github.com/peruprices/crawler/pipeline"
	"github.com/peruprices/crawler/spider"
	"golang.org/x/sync/errgroup"
)

// ErrOutputPath indicates the configured output path exists but is not
// a directory. This is a precondition failure for the whole crawl.
type ErrOutputPath struct {
	Path string
}

func (e ErrOutputPath) Error() string {
	return fmt.Sprintf("output path is not a directory: %s", e.Path)
}

// WriterFactory builds the sink for one spider's record set. The date
// stamp is preformatted as yyyymmdd.
type WriterFactory func(spiderName, date string) (pipeline.OutputWriter, error)

// Options tunes a Crawler.
type Options struct {
	// OutPath is the directory output files are written to. It is
	// created if missing.
	OutPath string
	// SpiderLimit bounds how many spiders run at once.
	SpiderLimit int
	// SubrouteLimit bounds how many subroutes run at once per spider.
	SubrouteLimit int
	// NewWriter overrides the default date-stamped CSV sink.
	NewWriter WriterFactory
	Metrics   *spider.Metrics
}

// Crawler drives every configured spider through one crawl.
type Crawler struct {
	spiders []spider.Spider
	opts    Options
}

// New builds a crawler over the given spiders.
func New(spiders []spider.Spider, opts Options) *Crawler {
	if opts.SpiderLimit <= 0 {
		opts.SpiderLimit = 1
	}
	if opts.SubrouteLimit <= 0 {
		opts.SubrouteLimit = 1
	}
	c := &Crawler{spiders: spiders, opts: opts}
	if c.opts.NewWriter == nil {
		c.opts.NewWriter = func(name, date string) (pipeline.OutputWriter, error) {
			return pipeline.NewCSVWriter(filepath.Join(opts.OutPath, fmt.Sprintf("%s_%s.csv", name, date)))
		}
	}
	return c
}

// Run executes the crawl. Spider failures are isolated: a spider that
// cannot produce or persist records contributes zero and is reported
// in the aggregate. Only an unusable output path aborts the run.
func (c *Crawler) Run(ctx context.Context) (*models.CrawlReport, error) {
	if err := c.ensureOutPath(); err != nil {
		return nil, err
	}

	date := PeruDate(time.Now())
	start := time.Now()
	slog.Info("starting crawl", slog.Int("spiders", len(c.spiders)), slog.String("date", date))

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []models.SpiderResult
		total   int
	)
	g.SetLimit(c.opts.SpiderLimit)

	for _, sp := range c.spiders {
		g.Go(func() error {
			result := c.processSpider(ctx, sp, date)
			mu.Lock()
			results = append(results, result)
			total += len(result.Records)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	slog.Info("crawl finished",
		slog.Int("records", total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &models.CrawlReport{
		TotalRecords: total,
		Spiders:      results,
	}, nil
}

// processSpider scrapes one spider and persists its records. Failures
// degrade to an empty result instead of propagating.
func (c *Crawler) processSpider(ctx context.Context, sp spider.Spider, date string) models.SpiderResult {
	slog.Info("start scraping", slog.String("spider", sp.Name()))
	start := time.Now()

	result := spider.ScrapeAll(ctx, sp, c.opts.SubrouteLimit, c.opts.Metrics)

	writer, err := c.opts.NewWriter(sp.Name(), date)
	if err != nil {
		c.opts.Metrics.IncSpider("failed")
		slog.Error("failed to open sink",
			slog.String("spider", sp.Name()),
			slog.String("error_chain", spider.CauseChain(err)),
		)
		return models.SpiderResult{Spider: sp.Name(), FailedSubroutes: result.FailedSubroutes}
	}

	if err := writer.Write(result.Records); err != nil {
		c.opts.Metrics.IncSpider("failed")
		slog.Error("failed to persist records",
			slog.String("spider", sp.Name()),
			slog.String("error_chain", spider.CauseChain(err)),
		)
		writer.Close()
		return models.SpiderResult{Spider: sp.Name(), FailedSubroutes: result.FailedSubroutes}
	}
	if err := writer.Validate(); err != nil {
		slog.Warn("sink validation failed",
			slog.String("spider", sp.Name()),
			slog.Any("error", err),
		)
	}
	if err := writer.Close(); err != nil {
		slog.Error("failed to close sink",
			slog.String("spider", sp.Name()),
			slog.String("error_chain", spider.CauseChain(err)),
		)
	}

	c.opts.Metrics.IncSpider("ok")
	slog.Info("finished scraping",
		slog.String("spider", sp.Name()),
		slog.Int("records", len(result.Records)),
		slog.Int("failed_subroutes", len(result.FailedSubroutes)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result
}

func (c *Crawler) ensureOutPath() error {
	info, err := os.Stat(c.opts.OutPath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(c.opts.OutPath, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat output path: %w", err)
	}
	if !info.IsDir() {
		return ErrOutputPath{Path: c.opts.OutPath}
	}
	return nil
}

// PeruDate formats t as yyyymmdd in Peru time, the timezone the target
// catalogs publish in.
func PeruDate(t time.Time) string {
	return t.In(time.FixedZone("PET", -5*3600)).Format("20060102")
}
