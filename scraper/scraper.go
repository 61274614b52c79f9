// Package scraper holds the source adapters. Each adapter owns the wire
// details of one upstream (URLs, headers, markup selectors) and returns pages
// of raw records.
package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-figures/config"
	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
)

// Adapter fetches one page of raw results for a query. Results must be
// deterministic with respect to pageIndex for a stable query.
type Adapter interface {
	FetchPage(ctx context.Context, q models.Query, pageIndex int) (*models.PageResult, error)
	WithTransport(rt http.RoundTripper)
}

// New builds the adapter for kind.
func New(kind models.SourceKind, sc config.SourceConfig, m *metrics.Metrics) (Adapter, error) {
	switch kind {
	case models.SourceAmiAmi:
		return NewAmiAmi(sc, m)
	case models.SourceHLJ:
		return NewHLJ(sc, m)
	case models.SourceAmiAmiItem:
		return NewAmiAmiItem(sc, m)
	default:
		return nil, fmt.Errorf("no adapter for source %q", kind)
	}
}

// NewAll builds one adapter per known source kind.
func NewAll(cfg *config.Config, m *metrics.Metrics) (map[models.SourceKind]Adapter, error) {
	kinds := []models.SourceKind{models.SourceAmiAmi, models.SourceHLJ, models.SourceAmiAmiItem}
	out := make(map[models.SourceKind]Adapter, len(kinds))
	for _, kind := range kinds {
		sc, err := cfg.Source(kind)
		if err != nil {
			return nil, err
		}
		a, err := New(kind, sc, m)
		if err != nil {
			return nil, fmt.Errorf("%s adapter: %w", kind, err)
		}
		out[kind] = a
	}
	return out, nil
}

// collector wraps a synchronous colly collector. Every fetch runs on a clone
// so concurrent sessions never share callbacks; clones share the HTTP backend.
type collector struct {
	source  models.SourceKind
	cfg     config.SourceConfig
	base    *colly.Collector
	headers map[string]string
	metrics *metrics.Metrics
}

func newCollector(source models.SourceKind, sc config.SourceConfig, m *metrics.Metrics) (*collector, error) {
	parsed, err := url.Parse(sc.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	c := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(sc.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(sc.Timeout)
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   sc.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &collector{
		source:  source,
		cfg:     sc,
		base:    c,
		headers: make(map[string]string),
		metrics: m,
	}, nil
}

// WithTransport swaps the HTTP transport of the shared backend.
func (c *collector) WithTransport(rt http.RoundTripper) {
	c.base.WithTransport(rt)
}

func (c *collector) endpoint(path string, params url.Values) string {
	target := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return target
}

// visit performs one GET on a fresh clone. register attaches the
// adapter-specific extraction callbacks.
func (c *collector) visit(ctx context.Context, target string, register func(*colly.Collector)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cl := c.base.Clone()
	var (
		status      int
		callbackErr error
	)
	cl.OnRequest(func(r *colly.Request) {
		for k, v := range c.headers {
			r.Headers.Set(k, v)
		}
		r.Ctx.Put("start", time.Now())
	})
	cl.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			c.metrics.ObserveDuration(string(c.source), time.Since(start))
		}
	})
	cl.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		callbackErr = err
	})
	register(cl)

	err := cl.Visit(target)
	if err == nil {
		err = callbackErr
	}
	if classified := classifyError(c.source, target, err, status); classified != nil {
		c.metrics.IncRequest(string(c.source), "error")
		c.metrics.IncError(string(c.source), ErrorLabel(classified))
		return classified
	}
	c.metrics.IncRequest(string(c.source), "ok")
	return nil
}
