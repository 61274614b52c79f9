// Package api exposes the aggregator over HTTP: live searches against the
// sources and read access to the store.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/pipeline"
	"github.com/aluiziolira/go-scrape-figures/store"
)

const version = "1.0.0"

// Searcher runs one ingestion session. *pipeline.Ingestor implements it.
type Searcher interface {
	FetchAll(ctx context.Context, q models.Query, limits pipeline.Limits) (*models.SessionResult, error)
}

// Config tunes the HTTP surface.
type Config struct {
	// CacheSize is the number of cached search responses; zero disables the cache.
	CacheSize int
	CacheTTL  time.Duration
	// PageCap bounds the pages one search may fetch.
	PageCap int
}

// Server holds the handlers' dependencies. Store and metrics are optional.
type Server struct {
	searcher Searcher
	store    store.Store
	metrics  *metrics.Metrics
	cache    *expirable.LRU[string, searchResponse]
	pageCap  int
	now      func() time.Time
}

// New builds a Server.
func New(searcher Searcher, st store.Store, m *metrics.Metrics, cfg Config) *Server {
	s := &Server{
		searcher: searcher,
		store:    st,
		metrics:  m,
		pageCap:  cfg.PageCap,
		now:      time.Now,
	}
	if cfg.CacheSize > 0 {
		s.cache = expirable.NewLRU[string, searchResponse](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return s
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())

	router.GET("/", s.root)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/sites", s.sites)
	router.GET("/search", s.search)
	router.GET("/products", s.listProducts)
	router.GET("/products/:id", s.getProduct)
	router.GET("/logs", s.recentLogs)
	router.GET("/stats", s.stats)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		slog.Info("http request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status_code", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
