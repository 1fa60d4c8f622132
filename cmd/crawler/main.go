package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peruprices/crawler/browser"
	"github.com/peruprices/crawler/config"
	"github.com/peruprices/crawler/crawler"
	"github.com/peruprices/crawler/models"
	"github.com/peruprices/crawler/pipeline"
	"github.com/peruprices/crawler/spider"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configDefault := "crawl.yaml"
	if value, ok := config.EnvString("CRAWLER_CONFIG"); ok {
		configDefault = value
	}

	configPath := flag.String("config", configDefault, "Path to the crawl plan YAML file")
	outPath := flag.String("out", "", "Output directory (overrides the plan file)")
	outputFormat := flag.String("format", "", "Output format: csv, json, or dual (overrides the plan file)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	headful := flag.Bool("headful", false, "Run browser sessions with a visible window")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *outPath != "" {
		cfg.OutPath = *outPath
	}
	if *outputFormat != "" {
		cfg.OutputFormat = strings.ToLower(*outputFormat)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *headful {
		cfg.Headless = false
	}
	if value, ok, err := config.EnvInt("CRAWLER_SPIDERS_BUFFER"); err != nil {
		slog.Error("invalid CRAWLER_SPIDERS_BUFFER", slog.Any("error", err))
		os.Exit(1)
	} else if ok {
		cfg.SpidersBufferSize = value
	}
	if value, ok, err := config.EnvInt("CRAWLER_CRAWLERS_BUFFER"); err != nil {
		slog.Error("invalid CRAWLER_CRAWLERS_BUFFER", slog.Any("error", err))
		os.Exit(1)
	} else if ok {
		cfg.CrawlersBufferSize = value
	}

	newWriter, err := createWriterFactory(cfg.OutputFormat, cfg.OutPath)
	if err != nil {
		slog.Error("invalid output format", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	metrics := spider.NewMetrics()
	spiders, cleanup := buildSpiders(ctx, cfg, metrics)
	defer cleanup()
	if len(spiders) == 0 {
		slog.Error("no spider could be initialised")
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	c := crawler.New(spiders, crawler.Options{
		OutPath:       cfg.OutPath,
		SpiderLimit:   cfg.CrawlersBufferSize,
		SubrouteLimit: cfg.SpidersBufferSize,
		NewWriter:     newWriter,
		Metrics:       metrics,
	})

	start := time.Now()
	report, err := c.Run(ctx)
	if err != nil {
		slog.Error("crawl could not start", slog.String("error_chain", spider.CauseChain(err)))
		// os.Exit skips the deferred cleanup; close sessions here.
		cleanup()
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(report, time.Since(start), cfg.OutPath)
}

// buildSpiders constructs every spider the plan names. A spider whose
// session cannot be established is skipped so the rest still run.
func buildSpiders(ctx context.Context, cfg *config.Config, metrics *spider.Metrics) ([]spider.Spider, func()) {
	var (
		spiders  []spider.Spider
		sessions []*browser.Session
		fetcher  *spider.Fetcher
	)

	cleanup := func() {
		for _, sess := range sessions {
			sess.Close()
		}
	}

	for _, sc := range cfg.Spiders {
		extractor := spider.NewAttributeExtractor(sc.Attributes)

		switch sc.Kind {
		case config.KindListing:
			if fetcher == nil {
				var err error
				fetcher, err = spider.NewFetcher(spider.FetcherOptions{
					UserAgent:       cfg.UserAgent,
					Timeout:         cfg.Timeout(),
					MaxRetries:      cfg.MaxRetries,
					RetryBackoff:    cfg.RetryBackoff(),
					RetryBackoffMax: cfg.RetryBackoffMax(),
					CacheSize:       cfg.PageCacheSize,
				}, metrics)
				if err != nil {
					slog.Error("skipping spider, fetcher failed",
						slog.String("spider", sc.Name),
						slog.String("error_chain", spider.CauseChain(err)),
					)
					continue
				}
			}
			s, err := spider.NewListingSpider(spider.ListingConfig{
				Name:      sc.Name,
				BaseURL:   sc.BaseURL,
				Subroutes: sc.Subroutes,
				Selector:  sc.Selector,
				Delay:     cfg.Delay(),
			}, fetcher, extractor, metrics)
			if err != nil {
				slog.Error("skipping spider, invalid configuration",
					slog.String("spider", sc.Name),
					slog.String("error_chain", spider.CauseChain(err)),
				)
				continue
			}
			spiders = append(spiders, s)

		case config.KindScroll:
			sess, err := newSession(ctx, cfg)
			if err != nil {
				metrics.IncSpider("failed")
				slog.Error("skipping spider, session failed",
					slog.String("spider", sc.Name),
					slog.String("error_chain", spider.CauseChain(err)),
				)
				continue
			}
			s, err := spider.NewScrollSpider(spider.ScrollConfig{
				Name:        sc.Name,
				BaseURL:     sc.BaseURL,
				Subroutes:   sc.Subroutes,
				Selector:    sc.Selector,
				Delay:       cfg.Delay(),
				WaitTimeout: cfg.WaitTimeout(),
			}, sess, browser.Poller{
				SettleDelay:     cfg.ScrollDelay(),
				StabilityChecks: cfg.ScrollChecks,
				MaxScrolls:      cfg.MaxScrolls,
			}, extractor, metrics)
			if err != nil {
				sess.Close()
				slog.Error("skipping spider, invalid configuration",
					slog.String("spider", sc.Name),
					slog.String("error_chain", spider.CauseChain(err)),
				)
				continue
			}
			sessions = append(sessions, sess)
			spiders = append(spiders, s)
		}
	}

	return spiders, cleanup
}

// createWriterFactory maps the configured output format onto a sink
// constructor. Files are named <spider>_<date>.<ext> under outPath.
func createWriterFactory(format, outPath string) (crawler.WriterFactory, error) {
	switch format {
	case "csv":
		return func(name, date string) (pipeline.OutputWriter, error) {
			return pipeline.NewCSVWriter(outputFile(outPath, name, date, "csv"))
		}, nil
	case "json":
		return func(name, date string) (pipeline.OutputWriter, error) {
			return pipeline.NewJSONWriter(outputFile(outPath, name, date, "json"))
		}, nil
	case "dual":
		return func(name, date string) (pipeline.OutputWriter, error) {
			return pipeline.NewDualWriter(
				outputFile(outPath, name, date, "csv"),
				outputFile(outPath, name, date, "json"),
			)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func outputFile(outPath, name, date, ext string) string {
	return filepath.Join(outPath, fmt.Sprintf("%s_%s.%s", name, date, ext))
}

func newSession(ctx context.Context, cfg *config.Config) (*browser.Session, error) {
	if cfg.Headless {
		return browser.NewHeadlessSession(ctx, cfg.UserAgent)
	}
	return browser.NewVisibleSession(ctx, cfg.UserAgent)
}

func printSummary(report *models.CrawlReport, duration time.Duration, outPath string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")
	fmt.Printf("  Total records: %d\n", report.TotalRecords)
	for _, result := range report.Spiders {
		fmt.Printf("  %-14s %d records, %d failed subroutes\n",
			result.Spider+":", len(result.Records), len(result.FailedSubroutes))
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output dir:    %s\n", outPath)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
