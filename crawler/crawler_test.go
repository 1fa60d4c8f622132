package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peruprices/crawler/models"
	"github.com/peruprices/crawler/pipeline"
	"github.com/peruprices/crawler/spider"
)

type fakeSpider struct {
	name      string
	baseURL   string
	subroutes []string
	scrape    func(ctx context.Context, url string) ([]models.Record, error)
}

func (f *fakeSpider) Name() string         { return f.name }
func (f *fakeSpider) BaseURL() string      { return f.baseURL }
func (f *fakeSpider) Subroutes() []string  { return f.subroutes }
func (f *fakeSpider) Delay() time.Duration { return 0 }
func (f *fakeSpider) Scrape(ctx context.Context, url string) ([]models.Record, error) {
	return f.scrape(ctx, url)
}

type collectingWriter struct {
	mu      sync.Mutex
	records []models.Record
}

func (cw *collectingWriter) Write(records []models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.records = append(cw.records, records...)
	return nil
}

func (cw *collectingWriter) Close() error    { return nil }
func (cw *collectingWriter) Validate() error { return nil }

func healthySpider(name string, records ...models.Record) spider.Spider {
	return &fakeSpider{
		name:      name,
		baseURL:   "http://example.test",
		subroutes: []string{"sub"},
		scrape: func(context.Context, string) ([]models.Record, error) {
			return records, nil
		},
	}
}

func brokenSpider(name string) spider.Spider {
	return &fakeSpider{
		name:      name,
		baseURL:   "http://example.test",
		subroutes: []string{"sub"},
		scrape: func(context.Context, string) ([]models.Record, error) {
			return nil, spider.ErrNavigation{URL: "http://example.test/sub", Err: errors.New("down")}
		},
	}
}

func TestCrawlerAggregatesAcrossSpiders(t *testing.T) {
	writers := make(map[string]*collectingWriter)
	var mu sync.Mutex

	c := New([]spider.Spider{
		healthySpider("alpha", models.Record{ID: "1"}, models.Record{ID: "2"}),
		brokenSpider("beta"),
		healthySpider("gamma", models.Record{ID: "3"}),
	}, Options{
		OutPath:       t.TempDir(),
		SpiderLimit:   2,
		SubrouteLimit: 2,
		NewWriter: func(name, _ string) (pipeline.OutputWriter, error) {
			w := &collectingWriter{}
			mu.Lock()
			writers[name] = w
			mu.Unlock()
			return w, nil
		},
	})

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.TotalRecords != 3 {
		t.Fatalf("total = %d, want 3 (failing spider contributes 0)", report.TotalRecords)
	}
	if len(report.Spiders) != 3 {
		t.Fatalf("spider results = %d, want 3", len(report.Spiders))
	}
	if len(writers["alpha"].records) != 2 {
		t.Fatalf("alpha persisted %d records, want 2", len(writers["alpha"].records))
	}
	for _, result := range report.Spiders {
		if result.Spider == "beta" && len(result.FailedSubroutes) != 1 {
			t.Fatalf("beta failed subroutes = %v, want 1", result.FailedSubroutes)
		}
	}
}

func TestCrawlerSinkFailureContributesZero(t *testing.T) {
	c := New([]spider.Spider{
		healthySpider("alpha", models.Record{ID: "1"}),
	}, Options{
		OutPath: t.TempDir(),
		NewWriter: func(string, string) (pipeline.OutputWriter, error) {
			return nil, errors.New("disk full")
		},
	})

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run should not fail on a spider-level sink error: %v", err)
	}
	if report.TotalRecords != 0 {
		t.Fatalf("total = %d, want 0", report.TotalRecords)
	}
}

func TestCrawlerOutputPathNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	c := New([]spider.Spider{healthySpider("alpha")}, Options{OutPath: file})

	_, err := c.Run(context.Background())
	var pathErr ErrOutputPath
	if !errors.As(err, &pathErr) {
		t.Fatalf("error = %v, want ErrOutputPath", err)
	}
	if pathErr.Path != file {
		t.Fatalf("path = %q, want %q", pathErr.Path, file)
	}
}

func TestCrawlerCreatesOutputDirAndCSV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results")
	price := 9.9

	c := New([]spider.Spider{
		healthySpider("alpha", models.Record{ID: "sku-1", Name: "Arroz", Price: &price}),
	}, Options{OutPath: out})

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	filename := filepath.Join(out, "alpha_"+PeruDate(time.Now())+".csv")
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "sku-1") || !strings.Contains(content, "9.9") {
		t.Fatalf("csv content missing record: %q", content)
	}
}

func TestPeruDate(t *testing.T) {
	// 03:00 UTC is still the previous day in Peru (UTC-5).
	at := time.Date(2026, time.January, 1, 3, 0, 0, 0, time.UTC)
	if got := PeruDate(at); got != "20251231" {
		t.Fatalf("PeruDate = %q, want 20251231", got)
	}
}
