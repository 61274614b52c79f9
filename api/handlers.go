package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/pipeline"
	"github.com/aluiziolira/go-scrape-figures/store"
)

const (
	defaultSearchLimit = 10
	defaultListLimit   = 20
	maxLimit           = 100
)

type siteInfo struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var siteCatalog = map[models.SourceKind]siteInfo{
	models.SourceHLJ: {
		Name:        "HobbyLink Japan",
		URL:         "https://www.hlj.com",
		Description: "Japanese figure and model kit shop",
	},
	models.SourceAmiAmi: {
		Name:        "AmiAmi",
		URL:         "https://www.amiami.com",
		Description: "Anime and manga figure specialist",
	},
}

type searchMetadata struct {
	Keyword        string    `json:"search_keyword"`
	Site           string    `json:"site"`
	RequestedLimit int       `json:"requested_limit"`
	ActualCount    int       `json:"actual_count"`
	Exhausted      bool      `json:"exhausted"`
	Cached         bool      `json:"cached"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime float64   `json:"processing_time_seconds"`
}

type searchResponse struct {
	Metadata searchMetadata       `json:"metadata"`
	Products []*models.Product    `json:"products"`
	Batch    *pipeline.BatchStats `json:"persisted,omitempty"`
}

func (s *Server) root(c *gin.Context) {
	sites := make([]string, 0, len(models.SourceKinds))
	for _, kind := range models.SourceKinds {
		sites = append(sites, string(kind))
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "Figure listing aggregator",
		"version":         version,
		"available_sites": sites,
		"endpoints": gin.H{
			"search":   "/search?keyword=evangelion&site=hlj&limit=10",
			"products": "/products?source=amiami&limit=20",
			"product":  "/products/{id}",
			"logs":     "/logs?source=amiami&limit=20",
			"stats":    "/stats",
		},
	})
}

func (s *Server) sites(c *gin.Context) {
	out := make(map[string]siteInfo, len(siteCatalog))
	for kind, info := range siteCatalog {
		out[string(kind)] = info
	}
	c.JSON(http.StatusOK, gin.H{"available_sites": out})
}

func (s *Server) search(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		badRequest(c, "keyword is required")
		return
	}
	kind, err := searchableSource(c.Query("site"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := parseLimit(c, defaultSearchLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	key := fmt.Sprintf("%s|%s|%d", kind, strings.ToLower(keyword), limit)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.IncCache(true)
			cached.Metadata.Cached = true
			cached.Batch = nil
			c.JSON(http.StatusOK, cached)
			return
		}
		s.metrics.IncCache(false)
	}

	start := s.now()
	q := models.Query{Keyword: keyword, Source: kind}
	res, err := s.searcher.FetchAll(c.Request.Context(), q, pipeline.Limits{PageCap: s.pageCap, ResultCap: limit})
	if err != nil {
		var aborted *pipeline.AbortedError
		if errors.As(err, &aborted) {
			c.JSON(http.StatusBadGateway, gin.H{
				"detail": fmt.Sprintf("error scraping %s: %v", kind, aborted.Cause),
				"page":   aborted.PageIndex,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("unexpected error: %v", err)})
		return
	}

	products := res.Products
	if products == nil {
		products = []*models.Product{}
	}
	resp := searchResponse{
		Metadata: searchMetadata{
			Keyword:        keyword,
			Site:           string(kind),
			RequestedLimit: limit,
			ActualCount:    len(products),
			Exhausted:      res.Exhausted,
			Timestamp:      start.UTC(),
			ProcessingTime: math.Round(s.now().Sub(start).Seconds()*100) / 100,
		},
		Products: products,
	}

	if s.store != nil {
		batch, err := pipeline.Persist(c.Request.Context(), s.store, res, s.metrics)
		if err != nil {
			slog.Error("persist search results", slog.String("query", q.String()), slog.Any("error", err))
		} else {
			resp.Batch = &batch
		}
	}

	if s.cache != nil {
		s.cache.Add(key, resp)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getProduct(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	p, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "product not found"})
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) listProducts(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit, err := parseLimit(c, defaultListLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	source := strings.ToLower(strings.TrimSpace(c.Query("source")))
	products, err := s.store.ListBySource(c.Request.Context(), source, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	if products == nil {
		products = []*models.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(products), "products": products})
}

func (s *Server) recentLogs(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit, err := parseLimit(c, defaultListLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	source := strings.ToLower(strings.TrimSpace(c.Query("source")))
	logs, err := s.store.RecentLogs(c.Request.Context(), source, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(logs), "logs": logs})
}

func (s *Server) stats(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "no store configured"})
		return false
	}
	return true
}

func searchableSource(site string) (models.SourceKind, error) {
	kind, err := models.ParseSourceKind(site)
	if err != nil || kind == models.SourceAmiAmiItem {
		return "", fmt.Errorf("site must be 'hlj' or 'amiami'")
	}
	return kind, nil
}

func parseLimit(c *gin.Context, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
	}
	return n, nil
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": detail})
}

func internalError(c *gin.Context, err error) {
	slog.Error("request failed", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
}
