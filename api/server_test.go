package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/pipeline"
	"github.com/aluiziolira/go-scrape-figures/store"
)

type stubSearcher struct {
	mu      sync.Mutex
	calls   []pipeline.Limits
	results map[models.SourceKind]*models.SessionResult
	err     error
}

func (s *stubSearcher) FetchAll(_ context.Context, q models.Query, limits pipeline.Limits) (*models.SessionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, limits)
	s.mu.Unlock()
	if s.err != nil {
		return &models.SessionResult{Query: q, State: models.StateAborted}, s.err
	}
	res := *s.results[q.Source]
	res.Query = q
	return &res, nil
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func amiamiResult() *models.SessionResult {
	return &models.SessionResult{
		State:     models.StateDone,
		Exhausted: true,
		PageCount: 1,
		Products: []*models.Product{
			{ID: "FIGURE-1", Source: "amiami", Title: "Asuka 1/7", Currency: "JPY"},
			{ID: "FIGURE-2", Source: "amiami", Title: "Rei 1/7", Currency: "JPY"},
		},
		RawLog: []models.RawRecord{{"gcode": "FIGURE-1"}, {"gcode": "FIGURE-2"}},
	}
}

func setupRouter(t *testing.T, searcher Searcher, st store.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := New(searcher, st, metrics.New(), Config{CacheSize: 8, CacheTTL: time.Minute, PageCap: 5})
	return srv.Router()
}

func doGet(t *testing.T, router *gin.Engine, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", target, err)
		}
	}
	return w, body
}

func TestSearchValidation(t *testing.T) {
	router := setupRouter(t, &stubSearcher{}, nil)

	tests := []struct {
		name   string
		target string
	}{
		{name: "missing keyword", target: "/search?site=hlj"},
		{name: "unknown site", target: "/search?keyword=zaku&site=ebay"},
		{name: "detail source not searchable", target: "/search?keyword=zaku&site=amiami-item"},
		{name: "limit too small", target: "/search?keyword=zaku&site=hlj&limit=0"},
		{name: "limit too large", target: "/search?keyword=zaku&site=hlj&limit=101"},
		{name: "limit not a number", target: "/search?keyword=zaku&site=hlj&limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doGet(t, router, tt.target)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if body["detail"] == nil {
				t.Fatalf("missing detail: %v", body)
			}
		})
	}
}

func TestSearchPersistsAndCaches(t *testing.T) {
	searcher := &stubSearcher{results: map[models.SourceKind]*models.SessionResult{
		models.SourceAmiAmi: amiamiResult(),
	}}
	mem := store.NewMemory()
	router := setupRouter(t, searcher, mem)

	w, body := doGet(t, router, "/search?keyword=Evangelion&site=amiami&limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	meta := body["metadata"].(map[string]any)
	if meta["actual_count"] != float64(2) || meta["requested_limit"] != float64(2) || meta["site"] != "amiami" {
		t.Fatalf("metadata = %v", meta)
	}
	if meta["cached"] != false {
		t.Fatalf("first response must not be cached")
	}
	if got := searcher.calls[0]; got.ResultCap != 2 || got.PageCap != 5 {
		t.Fatalf("limits = %+v", got)
	}
	persisted := body["persisted"].(map[string]any)
	if persisted["inserted"] != float64(2) {
		t.Fatalf("persisted = %v", persisted)
	}

	// Keyword matching on the cache key ignores case.
	w, body = doGet(t, router, "/search?keyword=evangelion&site=amiami&limit=2")
	if w.Code != http.StatusOK || body["metadata"].(map[string]any)["cached"] != true {
		t.Fatalf("second response should come from cache: %s", w.Body.String())
	}
	if searcher.callCount() != 1 {
		t.Fatalf("searcher calls = %d, want 1", searcher.callCount())
	}

	w, body = doGet(t, router, "/products/FIGURE-2")
	if w.Code != http.StatusOK || body["title"] != "Rei 1/7" {
		t.Fatalf("get product: %d %v", w.Code, body)
	}

	w, body = doGet(t, router, "/logs?source=amiami")
	if w.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("logs: %d %v", w.Code, body)
	}
}

func TestSearchUpstreamFailure(t *testing.T) {
	searcher := &stubSearcher{err: &pipeline.AbortedError{
		Query:     models.Query{Keyword: "zaku", Source: models.SourceHLJ},
		PageIndex: 2,
		State:     models.StateFetching,
		Cause:     errors.New("giving up after 3 attempts"),
	}}
	router := setupRouter(t, searcher, nil)

	w, body := doGet(t, router, "/search?keyword=zaku&site=hlj")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if body["page"] != float64(2) {
		t.Fatalf("body = %v", body)
	}

	// Failures are not cached.
	doGet(t, router, "/search?keyword=zaku&site=hlj")
	if searcher.callCount() != 2 {
		t.Fatalf("searcher calls = %d, want 2", searcher.callCount())
	}
}

func TestProductEndpoints(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, p := range []*models.Product{
		{ID: "FIGURE-1", Source: "amiami", Title: "Asuka"},
		{ID: "BANS1", Source: "hlj", Title: "Zaku"},
		{ID: "BANS2", Source: "hlj", Title: "Gouf"},
	} {
		if _, err := mem.Upsert(ctx, p); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	router := setupRouter(t, &stubSearcher{}, mem)

	w, _ := doGet(t, router, "/products/NOPE")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", w.Code)
	}

	w, body := doGet(t, router, "/products?source=hlj&limit=1")
	if w.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("list: %d %v", w.Code, body)
	}

	w, body = doGet(t, router, "/stats")
	if w.Code != http.StatusOK || body["total_products"] != float64(3) {
		t.Fatalf("stats: %d %v", w.Code, body)
	}
}

func TestStoreEndpointsWithoutStore(t *testing.T) {
	router := setupRouter(t, &stubSearcher{}, nil)
	for _, target := range []string{"/products/X", "/products", "/logs", "/stats"} {
		w, _ := doGet(t, router, target)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d, want 503", target, w.Code)
		}
	}
}

func TestInfoEndpoints(t *testing.T) {
	router := setupRouter(t, &stubSearcher{}, nil)

	w, body := doGet(t, router, "/")
	if w.Code != http.StatusOK || body["version"] != version {
		t.Fatalf("root: %d %v", w.Code, body)
	}

	w, body = doGet(t, router, "/sites")
	sites := body["available_sites"].(map[string]any)
	if w.Code != http.StatusOK || len(sites) != 2 || sites["hlj"] == nil || sites["amiami"] == nil {
		t.Fatalf("sites: %d %v", w.Code, body)
	}

	w, _ = doGet(t, router, "/metrics")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("metrics: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
}
