package spider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

const catalogPage = `<html><body>
	<div class="Showcase__content" data-id="sku-1" data-name="Arroz" data-price="S/. 4.20"></div>
	<div class="Showcase__content" data-id="sku-2" data-brand="Gloria"></div>
	<div class="Showcase__content" data-id="sku-3"></div>
</body></html>`

func newTestListingSpider(t *testing.T, transport http.RoundTripper) *ListingSpider {
	t.Helper()

	fetcher, err := NewFetcher(FetcherOptions{
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	fetcher.WithTransport(transport)

	s, err := NewListingSpider(ListingConfig{
		Name:      "plaza_vea",
		BaseURL:   "http://example.test",
		Subroutes: []string{"abarrotes", "bebidas"},
		Selector:  "div.Showcase__content",
	}, fetcher, NewAttributeExtractor(nil), nil)
	if err != nil {
		t.Fatalf("new listing spider: %v", err)
	}
	return s
}

func TestListingSpiderScrape(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/abarrotes",
		httpmock.NewStringResponder(http.StatusOK, catalogPage))

	s := newTestListingSpider(t, transport)

	records, err := s.Scrape(context.Background(), "http://example.test/abarrotes")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}

	// sku-3 carries only an identity and is not a product.
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for _, record := range records {
		if record.ID == "sku-1" {
			if record.Price == nil || *record.Price != 4.2 {
				t.Fatalf("sku-1 price = %v, want 4.2", record.Price)
			}
			if record.Category != "http://example.test/abarrotes" {
				t.Fatalf("sku-1 category = %q, want the page URL fallback", record.Category)
			}
		}
	}
}

func TestListingSpiderScrapeFetchFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/abarrotes",
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	s := newTestListingSpider(t, transport)

	_, err := s.Scrape(context.Background(), "http://example.test/abarrotes")
	var fetchErr ErrFetch
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
}

func TestListingSpiderScrapeAll(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/abarrotes",
		httpmock.NewStringResponder(http.StatusOK, catalogPage))
	transport.RegisterResponder("GET", "http://example.test/bebidas",
		httpmock.NewStringResponder(http.StatusOK, `<html><body>
			<div class="Showcase__content" data-id="sku-1" data-name="Arroz"></div>
			<div class="Showcase__content" data-id="sku-9" data-name="Inca Kola"></div>
		</body></html>`))

	s := newTestListingSpider(t, transport)

	result := ScrapeAll(context.Background(), s, 2, nil)

	// sku-1 appears on both subroutes and must be deduplicated.
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(result.Records))
	}
	if len(result.FailedSubroutes) != 0 {
		t.Fatalf("failed subroutes = %v, want none", result.FailedSubroutes)
	}
}

func TestNewListingSpiderInvalidSelector(t *testing.T) {
	fetcher, err := NewFetcher(FetcherOptions{}, nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	_, err = NewListingSpider(ListingConfig{
		Name:     "bad",
		BaseURL:  "http://example.test",
		Selector: "div..[",
	}, fetcher, NewAttributeExtractor(nil), nil)

	var invalid ErrInvalidSelector
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want ErrInvalidSelector", err)
	}
}
