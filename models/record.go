// Package models defines data structures shared across the crawler.
package models

// Record is one scraped product observation. ID is the site-assigned
// SKU and the only field that matters for identity: two records with
// the same ID are the same product regardless of the other fields.
type Record struct {
	ID       string   `json:"id"`
	Brand    string   `json:"brand,omitempty"`
	Name     string   `json:"name,omitempty"`
	URL      string   `json:"url,omitempty"`
	Category string   `json:"category,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// SpiderResult is the outcome of running one spider over all of its
// subroutes. Records are already deduplicated by ID.
type SpiderResult struct {
	Spider          string
	Records         []Record
	FailedSubroutes []string
}

// CrawlReport aggregates one full crawl across every spider.
type CrawlReport struct {
	TotalRecords int
	Spiders      []SpiderResult
}
