package spider

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/peruprices/crawler/models"
	"github.com/peruprices/crawler/parser"
)

// PageContext carries page-level values available to an extractor as
// fallbacks for fields missing on the node itself.
type PageContext struct {
	// URL is the fully-qualified subroute URL being scraped.
	URL string
}

// Extractor maps one node's raw attributes, plus page context, to a
// record. Implementations are site-specific configuration.
type Extractor interface {
	Extract(attrs map[string]string, page PageContext) (models.Record, error)
}

// AttributeExtractor reads records directly from data attributes on the
// matched node. Attribute names are configurable per site.
type AttributeExtractor struct {
	IDAttr       string
	BrandAttr    string
	NameAttr     string
	URLAttr      string
	PriceAttr    string
	CategoryAttr string
}

// NewAttributeExtractor returns an extractor with the data-* attribute
// names the catalog sites use, overridden by any entries in names
// (keys: id, brand, name, url, price, category).
func NewAttributeExtractor(names map[string]string) AttributeExtractor {
	x := AttributeExtractor{
		IDAttr:       "data-id",
		BrandAttr:    "data-brand",
		NameAttr:     "data-name",
		URLAttr:      "data-uri",
		PriceAttr:    "data-price",
		CategoryAttr: "data-category",
	}
	if v, ok := names["id"]; ok {
		x.IDAttr = v
	}
	if v, ok := names["brand"]; ok {
		x.BrandAttr = v
	}
	if v, ok := names["name"]; ok {
		x.NameAttr = v
	}
	if v, ok := names["url"]; ok {
		x.URLAttr = v
	}
	if v, ok := names["price"]; ok {
		x.PriceAttr = v
	}
	if v, ok := names["category"]; ok {
		x.CategoryAttr = v
	}
	return x
}

// Extract implements Extractor. A node without the identity attribute
// fails with ErrMissingIdentity; a node whose optional attributes are
// all absent is not a product and fails with ErrNoData. The category
// falls back to the page URL when the node carries other data but no
// category of its own.
func (x AttributeExtractor) Extract(attrs map[string]string, page PageContext) (models.Record, error) {
	id, ok := attrs[x.IDAttr]
	if !ok || id == "" {
		return models.Record{}, ErrMissingIdentity{Attr: x.IDAttr}
	}

	brand := attrs[x.BrandAttr]
	name := attrs[x.NameAttr]
	uri := attrs[x.URLAttr]
	category := attrs[x.CategoryAttr]
	rawPrice, hasPrice := attrs[x.PriceAttr]

	if brand == "" && name == "" && uri == "" && category == "" && !hasPrice {
		return models.Record{}, ErrNoData{ID: id}
	}

	var price *float64
	if hasPrice {
		value, err := parser.NormalizePrice(rawPrice)
		if err != nil {
			return models.Record{}, err
		}
		price = &value
	}

	if category == "" {
		category = page.URL
	}

	return models.Record{
		ID:       id,
		Brand:    brand,
		Name:     name,
		URL:      uri,
		Category: category,
		Price:    price,
	}, nil
}

// compileSelector wraps cascadia compilation so spiders fail fast on a
// bad selector instead of panicking inside goquery.
func compileSelector(selector string) (cascadia.Selector, error) {
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return nil, ErrInvalidSelector{Selector: selector, Err: err}
	}
	return compiled, nil
}

// extractRecords runs the extractor over every node in markup matched
// by the selector. Node-local failures are logged and dropped.
func extractRecords(markup string, selector cascadia.Selector, x Extractor, page PageContext, m *Metrics) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, ErrMarkup{Err: err}
	}

	var records []models.Record
	doc.FindMatcher(selector).Each(func(_ int, sel *goquery.Selection) {
		node := sel.Nodes[0]
		attrs := make(map[string]string, len(node.Attr))
		for _, a := range node.Attr {
			attrs[a.Key] = a.Val
		}

		record, err := x.Extract(attrs, page)
		if err != nil {
			var noData ErrNoData
			if errors.As(err, &noData) {
				slog.Debug("node skipped, not a product", slog.String("url", page.URL), slog.String("id", noData.ID))
				return
			}
			m.IncError(errorTypeLabel(err))
			slog.Error("extraction failed for node",
				slog.String("url", page.URL),
				slog.String("error_chain", CauseChain(err)),
			)
			return
		}
		records = append(records, record)
	})

	slog.Info("extracted records", slog.String("url", page.URL), slog.Int("count", len(records)))
	return records, nil
}
