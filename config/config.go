// Package config loads and validates the crawl plan.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Spider kinds.
const (
	KindListing = "listing"
	KindScroll  = "scroll"
)

// SpiderConfig describes one crawl unit in the plan file.
type SpiderConfig struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	BaseURL   string   `yaml:"base_url"`
	Subroutes []string `yaml:"subroutes"`
	// Selector matches the structural nodes records are read from.
	Selector string `yaml:"selector"`
	// Attributes optionally overrides the data attribute names read
	// off each node (keys: id, brand, name, url, price, category).
	Attributes map[string]string `yaml:"attributes"`
}

// Config holds the crawl configuration.
type Config struct {
	OutPath string `yaml:"out_path"`
	// OutputFormat selects the sink per spider: csv, json, or dual.
	OutputFormat string `yaml:"output_format"`
	Headless     bool   `yaml:"headless"`
	MetricsAddr  string `yaml:"metrics_addr"`
	UserAgent    string `yaml:"user_agent"`

	DelayMillis       int `yaml:"delay_millis"`
	TimeoutMillis     int `yaml:"timeout_millis"`
	WaitTimeoutMillis int `yaml:"wait_timeout_millis"`

	ScrollDelayMillis int `yaml:"scroll_delay_millis"`
	ScrollChecks      int `yaml:"scroll_checks"`
	MaxScrolls        int `yaml:"max_scrolls"`

	SpidersBufferSize  int `yaml:"spiders_buffer_size"`
	CrawlersBufferSize int `yaml:"crawlers_buffer_size"`

	MaxRetries            int `yaml:"max_retries"`
	RetryBackoffMillis    int `yaml:"retry_backoff_millis"`
	RetryBackoffMaxMillis int `yaml:"retry_backoff_max_millis"`
	PageCacheSize         int `yaml:"page_cache_size"`

	Spiders []SpiderConfig `yaml:"spiders"`
}

// Default returns conservative defaults for the catalog targets.
func Default() *Config {
	return &Config{
		OutPath:               "output",
		OutputFormat:          "csv",
		Headless:              true,
		UserAgent:             "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		DelayMillis:           500,
		TimeoutMillis:         10000,
		WaitTimeoutMillis:     5000,
		ScrollDelayMillis:     1500,
		ScrollChecks:          3,
		MaxScrolls:            0,
		SpidersBufferSize:     4,
		CrawlersBufferSize:    2,
		MaxRetries:            3,
		RetryBackoffMillis:    200,
		RetryBackoffMaxMillis: 2000,
		PageCacheSize:         128,
	}
}

// Load reads a YAML plan file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.OutPath == "" {
		return fmt.Errorf("out_path cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual":
	default:
		return fmt.Errorf("output_format must be csv, json, or dual, got %q", c.OutputFormat)
	}
	if c.DelayMillis < 0 {
		return fmt.Errorf("delay_millis cannot be negative")
	}
	if c.TimeoutMillis <= 0 {
		return fmt.Errorf("timeout_millis must be positive")
	}
	if c.WaitTimeoutMillis <= 0 {
		return fmt.Errorf("wait_timeout_millis must be positive")
	}
	if c.ScrollDelayMillis < 0 {
		return fmt.Errorf("scroll_delay_millis cannot be negative")
	}
	if c.ScrollChecks <= 0 {
		return fmt.Errorf("scroll_checks must be positive")
	}
	if c.MaxScrolls < 0 {
		return fmt.Errorf("max_scrolls cannot be negative")
	}
	if c.SpidersBufferSize <= 0 {
		return fmt.Errorf("spiders_buffer_size must be positive")
	}
	if c.CrawlersBufferSize <= 0 {
		return fmt.Errorf("crawlers_buffer_size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RetryBackoffMillis < 0 {
		return fmt.Errorf("retry_backoff_millis cannot be negative")
	}
	if c.RetryBackoffMaxMillis < 0 {
		return fmt.Errorf("retry_backoff_max_millis cannot be negative")
	}
	if c.RetryBackoffMaxMillis > 0 && c.RetryBackoffMillis > c.RetryBackoffMaxMillis {
		return fmt.Errorf("retry_backoff_millis (%d) cannot exceed retry_backoff_max_millis (%d)",
			c.RetryBackoffMillis, c.RetryBackoffMaxMillis)
	}
	if c.PageCacheSize < 0 {
		return fmt.Errorf("page_cache_size cannot be negative")
	}
	if len(c.Spiders) == 0 {
		return fmt.Errorf("at least one spider must be configured")
	}

	seen := make(map[string]struct{}, len(c.Spiders))
	for i, sp := range c.Spiders {
		if err := validateSpider(sp); err != nil {
			return fmt.Errorf("spider %d (%s): %w", i, sp.Name, err)
		}
		if _, dup := seen[sp.Name]; dup {
			return fmt.Errorf("duplicate spider name %q", sp.Name)
		}
		seen[sp.Name] = struct{}{}
	}
	return nil
}

func validateSpider(sp SpiderConfig) error {
	if sp.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if sp.Kind != KindListing && sp.Kind != KindScroll {
		return fmt.Errorf("kind must be %q or %q", KindListing, KindScroll)
	}
	parsed, err := url.Parse(sp.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base_url must include a host")
	}
	if len(sp.Subroutes) == 0 {
		return fmt.Errorf("subroutes cannot be empty")
	}
	if sp.Selector == "" {
		return fmt.Errorf("selector cannot be empty")
	}
	return nil
}

// Delay is the inter-subroute pacing delay.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelayMillis) * time.Millisecond
}

// Timeout is the HTTP request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// WaitTimeout bounds the wait for the first matching node.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMillis) * time.Millisecond
}

// ScrollDelay is the settle delay between scroll and height read.
func (c *Config) ScrollDelay() time.Duration {
	return time.Duration(c.ScrollDelayMillis) * time.Millisecond
}

// RetryBackoff is the initial fetch retry backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

// RetryBackoffMax caps the fetch retry backoff.
func (c *Config) RetryBackoffMax() time.Duration {
	return time.Duration(c.RetryBackoffMaxMillis) * time.Millisecond
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	return value, ok
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}
