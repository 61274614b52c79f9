package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-figures/models"
)

func price(v int64) *int64 { return &v }

func newProduct(id, source, title string) *models.Product {
	return &models.Product{
		ID:           id,
		Source:       source,
		Title:        title,
		URL:          "https://example.test/" + id,
		Price:        price(1000),
		Currency:     "JPY",
		Availability: models.Available,
		Flags:        map[string]bool{"in_stock": true},
	}
}

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("upsert is idempotent per id", func(t *testing.T) {
		first, err := s.Upsert(ctx, newProduct("FIG-1", "amiami", "Rei"))
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if first.Operation != OpInserted {
			t.Fatalf("first operation = %s, want inserted", first.Operation)
		}

		updated := newProduct("FIG-1", "amiami", "Rei (re-run)")
		updated.Price = price(900)
		second, err := s.Upsert(ctx, updated)
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if second.Operation != OpUpdated {
			t.Fatalf("second operation = %s, want updated", second.Operation)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("created_at changed: %v -> %v", first.CreatedAt, second.CreatedAt)
		}
		if second.UpdatedAt.Before(first.UpdatedAt) {
			t.Fatalf("updated_at went backwards: %v -> %v", first.UpdatedAt, second.UpdatedAt)
		}

		got, err := s.Get(ctx, "FIG-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != "Rei (re-run)" || got.Price == nil || *got.Price != 900 {
			t.Fatalf("last write did not win: %+v", got)
		}
		if !got.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("stored created_at = %v, want %v", got.CreatedAt, first.CreatedAt)
		}
		if !got.Flags["in_stock"] {
			t.Fatalf("flags lost: %v", got.Flags)
		}
	})

	t.Run("missing id and unknown id", func(t *testing.T) {
		if _, err := s.Upsert(ctx, &models.Product{Title: "no id"}); !errors.Is(err, ErrMissingID) {
			t.Fatalf("expected ErrMissingID, got %v", err)
		}
		if _, err := s.Get(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list by source", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if _, err := s.Upsert(ctx, newProduct(fmt.Sprintf("HLJ-%d", i), "hlj", "Zaku")); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		hlj, err := s.ListBySource(ctx, "hlj", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(hlj) != 3 {
			t.Fatalf("hlj products = %d, want 3", len(hlj))
		}
		for _, p := range hlj {
			if p.Source != "hlj" {
				t.Fatalf("unexpected source %q", p.Source)
			}
		}
		limited, err := s.ListBySource(ctx, "", 2)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(limited) != 2 {
			t.Fatalf("limited list = %d, want 2", len(limited))
		}
	})

	t.Run("concurrent upserts of one id insert once", func(t *testing.T) {
		const writers = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := s.Upsert(ctx, newProduct("RACE-1", "amiami", fmt.Sprintf("writer %d", i)))
				if err != nil {
					t.Errorf("upsert: %v", err)
					return
				}
				if res.Operation == OpInserted {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		if inserted != 1 {
			t.Fatalf("inserted = %d, want 1", inserted)
		}
	})

	t.Run("log is append only", func(t *testing.T) {
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		entries := []LogEntry{
			{Source: "amiami", Keyword: "rei", State: "done", TotalProducts: 2, PagesProcessed: 1, Exhausted: true,
				Items: []models.RawRecord{{"gcode": "FIG-1"}}, CreatedAt: base},
			{Source: "hlj", Keyword: "zaku", State: "aborted", TotalProducts: 0, CreatedAt: base.Add(time.Minute)},
			{Source: "amiami", Keyword: "asuka", State: "done", TotalProducts: 5, CreatedAt: base.Add(2 * time.Minute)},
		}
		ids := make(map[string]bool)
		for _, e := range entries {
			id, err := s.AppendLog(ctx, e)
			if err != nil {
				t.Fatalf("append log: %v", err)
			}
			if id == "" || ids[id] {
				t.Fatalf("log id %q empty or reused", id)
			}
			ids[id] = true
		}

		logs, err := s.RecentLogs(ctx, "amiami", 10)
		if err != nil {
			t.Fatalf("recent logs: %v", err)
		}
		if len(logs) != 2 {
			t.Fatalf("amiami logs = %d, want 2", len(logs))
		}
		if logs[0].Keyword != "asuka" || logs[1].Keyword != "rei" {
			t.Fatalf("logs not newest first: %q, %q", logs[0].Keyword, logs[1].Keyword)
		}
		if !logs[1].Exhausted || logs[1].TotalProducts != 2 {
			t.Fatalf("log fields lost: %+v", logs[1])
		}
		if logs[0].Items != nil {
			t.Fatalf("recent logs should not carry raw items")
		}

		all, err := s.RecentLogs(ctx, "", 1)
		if err != nil {
			t.Fatalf("recent logs: %v", err)
		}
		if len(all) != 1 || all[0].Keyword != "asuka" {
			t.Fatalf("latest log = %+v", all)
		}
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Products != 5 {
			t.Fatalf("products = %d, want 5", stats.Products)
		}
		if stats.BySource["amiami"] != 2 || stats.BySource["hlj"] != 3 {
			t.Fatalf("by source = %v", stats.BySource)
		}
		if stats.Logs != 3 {
			t.Fatalf("logs = %d, want 3", stats.Logs)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemoryListOrder(t *testing.T) {
	m := NewMemory()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		if _, err := m.Upsert(ctx, newProduct(id, "amiami", id)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	// Touching A makes it the most recent.
	if _, err := m.Upsert(ctx, newProduct("A", "amiami", "A2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := m.ListBySource(ctx, "amiami", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var order []string
	for _, p := range got {
		order = append(order, p.ID)
	}
	if fmt.Sprint(order) != "[A C B]" {
		t.Fatalf("order = %v, want [A C B]", order)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p := newProduct("FIG-9", "amiami", "Rei")
	if _, err := m.Upsert(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p.Flags["in_stock"] = false

	got, _ := m.Get(ctx, "FIG-9")
	got.Title = "mutated"
	again, _ := m.Get(ctx, "FIG-9")
	if again.Title != "Rei" || !again.Flags["in_stock"] {
		t.Fatalf("store shares memory with callers: %+v", again)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
