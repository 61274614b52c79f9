package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// SourceConfig describes how to reach one upstream source.
type SourceConfig struct {
	BaseURL   string
	SiteURL   string
	ImageHost string
	APIKey    string
	PageSize  int
	UserAgent string
	Timeout   time.Duration
}

// Config holds aggregator configuration.
type Config struct {
	AmiAmi SourceConfig
	HLJ    SourceConfig

	MaxPages     int
	Parallelism  int
	MaxAttempts  int
	RetryBackoff time.Duration

	StoreBackend string // memory, sqlite, postgres, or redis
	StoreDSN     string

	OutputFile   string
	OutputFormat string // csv, json, or dual; empty disables export

	HTTPAddr     string
	MetricsAddr  string
	ScheduleFile string
	CacheSize    int
	CacheTTL     time.Duration

	Verbose bool
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// DefaultConfig returns defaults pointing at the public sources.
func DefaultConfig() *Config {
	return &Config{
		AmiAmi: SourceConfig{
			BaseURL:   "https://api.amiami.com",
			SiteURL:   "https://www.amiami.com",
			ImageHost: "https://img.amiami.com",
			APIKey:    "amiami_dev",
			PageSize:  30,
			UserAgent: defaultUserAgent,
			Timeout:   15 * time.Second,
		},
		HLJ: SourceConfig{
			BaseURL:   "https://www.hlj.com",
			SiteURL:   "https://www.hlj.com",
			ImageHost: "https://www.hlj.com",
			PageSize:  24,
			UserAgent: defaultUserAgent,
			Timeout:   10 * time.Second,
		},
		MaxPages:     20,
		Parallelism:  4,
		MaxAttempts:  3,
		RetryBackoff: 500 * time.Millisecond,
		StoreBackend: "sqlite",
		StoreDSN:     "output/figures.db",
		OutputFile:   "",
		OutputFormat: "json",
		HTTPAddr:     ":8000",
		MetricsAddr:  "",
		CacheSize:    256,
		CacheTTL:     5 * time.Minute,
		Verbose:      false,
	}
}

// Source returns the connection settings for a source kind. The item detail
// endpoint lives on the AmiAmi API host.
func (c *Config) Source(kind models.SourceKind) (SourceConfig, error) {
	switch kind {
	case models.SourceAmiAmi, models.SourceAmiAmiItem:
		return c.AmiAmi, nil
	case models.SourceHLJ:
		return c.HLJ, nil
	default:
		return SourceConfig{}, fmt.Errorf("no configuration for source %q", kind)
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := c.AmiAmi.validate("amiami"); err != nil {
		return err
	}
	if err := c.HLJ.validate("hlj"); err != nil {
		return err
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	switch c.StoreBackend {
	case "memory":
	case "sqlite", "postgres", "redis":
		if c.StoreDSN == "" {
			return fmt.Errorf("store DSN cannot be empty for %s backend", c.StoreBackend)
		}
	default:
		return fmt.Errorf("store backend must be memory, sqlite, postgres, or redis")
	}
	if c.OutputFile != "" && c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	return nil
}

func (s SourceConfig) validate(name string) error {
	if s.BaseURL == "" {
		return fmt.Errorf("%s: base URL cannot be empty", name)
	}
	parsedURL, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid base URL: %w", name, err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s: base URL must include a host", name)
	}
	for _, host := range []string{s.SiteURL, s.ImageHost} {
		if host == "" {
			continue
		}
		if u, err := url.Parse(host); err != nil || u.Host == "" {
			return fmt.Errorf("%s: site and image hosts must be absolute URLs", name)
		}
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("%s: page size must be positive", name)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive", name)
	}
	if s.UserAgent == "" {
		return fmt.Errorf("%s: user agent cannot be empty", name)
	}
	return nil
}
