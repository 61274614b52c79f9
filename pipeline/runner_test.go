package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/store"
)

type mockWriter struct {
	mu       sync.Mutex
	batches  [][]*models.Product
	writeErr error
}

func (mw *mockWriter) Write(products []*models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	batch := make([]*models.Product, len(products))
	copy(batch, products)
	mw.batches = append(mw.batches, batch)
	return nil
}

func (mw *mockWriter) Close() error    { return nil }
func (mw *mockWriter) Validate() error { return nil }

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

// failingStore rejects upserts for one id.
type failingStore struct {
	*store.Memory
	badID string
}

func (s *failingStore) Upsert(ctx context.Context, p *models.Product) (store.UpsertResult, error) {
	if p.ID == s.badID {
		return store.UpsertResult{}, errors.New("disk full")
	}
	return s.Memory.Upsert(ctx, p)
}

func TestPersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := &fakeFetcher{pages: amiamiPages(12, 5)}
	in := newTestIngestor(f)

	res, err := in.FetchAll(ctx, amiamiQuery, Limits{})
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	first, err := Persist(ctx, mem, res, nil)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if first.Inserted != 12 || first.Updated != 0 || first.LogID == "" {
		t.Fatalf("first batch = %+v", first)
	}

	second, err := Persist(ctx, mem, res, nil)
	if err != nil {
		t.Fatalf("persist again: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 12 {
		t.Fatalf("second batch = %+v", second)
	}

	stats, err := mem.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Products != 12 || stats.Logs != 2 || stats.BySource["amiami"] != 12 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPersistCountsProductErrors(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{Memory: store.NewMemory(), badID: "FIG-001"}
	res, err := newTestIngestor(&fakeFetcher{pages: amiamiPages(3, 3)}).FetchAll(ctx, amiamiQuery, Limits{})
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}

	batch, err := Persist(ctx, s, res, nil)
	if err != nil {
		t.Fatalf("a product error must not fail the batch: %v", err)
	}
	if batch.Inserted != 2 || len(batch.Errors) != 1 || batch.Errors[0].ProductID != "FIG-001" {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestRunnerRunsIndependentSessions(t *testing.T) {
	ctx := context.Background()
	in := NewIngestor(WithRetry(1, 0))
	in.Register(models.SourceAmiAmi, &fakeFetcher{pages: amiamiPages(25, 10)})
	in.Register(models.SourceHLJ, &fakeFetcher{pages: []*models.PageResult{
		{TotalCount: 1, IsFirstPage: true, Items: []models.RawRecord{{
			"title": "Zaku II", "url": "/bans12345", "code": "BANS12345", "price": "3,800 yen",
		}}},
	}})
	in.Register(models.SourceAmiAmiItem, &fakeFetcher{pages: []*models.PageResult{
		{TotalCount: 2, IsFirstPage: true},
	}})

	mem := store.NewMemory()
	writer := &mockWriter{}
	r := NewRunner(ctx, in, RunnerConfig{Store: mem, Writer: writer})
	r.Start(3)

	err := r.Submit(
		Job{Query: amiamiQuery},
		Job{Query: models.Query{Keyword: "zaku", Source: models.SourceHLJ}},
		Job{Query: models.Query{Keyword: "FIGURE-1", Source: models.SourceAmiAmiItem}},
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	outcomes := r.Outcomes()
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	aborted := 0
	for _, o := range outcomes {
		if o.Err != nil {
			aborted++
			if !errors.Is(o.Err, ErrProtocolViolation) {
				t.Fatalf("unexpected error for %s: %v", o.Job.Query, o.Err)
			}
		}
	}
	if aborted != 1 {
		t.Fatalf("aborted = %d, want 1", aborted)
	}

	if got := writer.totalWritten(); got != 26 {
		t.Fatalf("written products = %d, want 26", got)
	}
	stats, _ := mem.Stats(ctx)
	if stats.Products != 26 || stats.BySource["hlj"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	snap := r.GetMetrics()
	if snap["sessions"].(int64) != 3 || snap["aborted"].(int64) != 1 || snap["inserted"].(int64) != 26 {
		t.Fatalf("metrics = %v", snap)
	}

	if err := r.Submit(Job{Query: amiamiQuery}); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("submit after close = %v, want ErrRunnerClosed", err)
	}
}

func TestRunnerPersistsCancelledSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFetcher{pages: amiamiPages(30, 10)}
	f.onCall = func(pageIndex int) {
		if pageIndex == 0 {
			cancel()
		}
	}
	mem := store.NewMemory()
	r := NewRunner(ctx, newTestIngestor(f), RunnerConfig{Store: mem})
	r.Start(1)
	if err := r.Submit(Job{Query: amiamiQuery}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	outcomes := r.Outcomes()
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, context.Canceled) {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if outcomes[0].Batch.Inserted != 10 {
		t.Fatalf("batch = %+v", outcomes[0].Batch)
	}

	stats, err := mem.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Products != 10 || stats.Logs != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	logs, err := mem.RecentLogs(context.Background(), "amiami", 1)
	if err != nil || len(logs) != 1 || logs[0].State != string(models.StateAborted) {
		t.Fatalf("logs = %+v err = %v", logs, err)
	}
}

func TestRunnerWriterErrorIsFatal(t *testing.T) {
	in := newTestIngestor(&fakeFetcher{pages: amiamiPages(5, 5)})
	writer := &mockWriter{writeErr: errors.New("disk full")}
	r := NewRunner(context.Background(), in, RunnerConfig{Writer: writer})
	r.Start(1)

	if err := r.Submit(Job{Query: amiamiQuery}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.Close(); err == nil {
		t.Fatalf("expected writer error from Close")
	}
}
