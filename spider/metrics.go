package spider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawl.
type Metrics struct {
	Registry       *prometheus.Registry
	SpidersTotal   *prometheus.CounterVec
	SubroutesTotal *prometheus.CounterVec
	RecordsTotal   prometheus.Counter
	FetchDuration  prometheus.Histogram
	RetriesTotal   prometheus.Counter
	ErrorsTotal    *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	spiders := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_spiders_total",
			Help: "Spider runs by final status.",
		},
		[]string{"status"},
	)
	subroutes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_subroutes_total",
			Help: "Subroute scrapes by final status.",
		},
		[]string{"status"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Total records extracted before deduplication.",
		},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Latency of document fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total fetch retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total crawl errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(spiders, subroutes, records, fetchDuration, retries, errorsTotal)

	return &Metrics{
		Registry:       registry,
		SpidersTotal:   spiders,
		SubroutesTotal: subroutes,
		RecordsTotal:   records,
		FetchDuration:  fetchDuration,
		RetriesTotal:   retries,
		ErrorsTotal:    errorsTotal,
	}
}

// IncSpider increments the spider counter for a status label.
func (m *Metrics) IncSpider(status string) {
	if m == nil {
		return
	}
	m.SpidersTotal.WithLabelValues(status).Inc()
}

// IncSubroute increments the subroute counter for a status label.
func (m *Metrics) IncSubroute(status string) {
	if m == nil {
		return
	}
	m.SubroutesTotal.WithLabelValues(status).Inc()
}

// AddRecords adds to the extracted-records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// ObserveFetch records a document fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
