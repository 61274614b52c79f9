package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aluiziolira/go-scrape-figures/models"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "nested", "figures.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	runStoreSuite(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "figures.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	first, err := s.Upsert(ctx, newProduct("FIG-1", "amiami", "Rei"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer s.Close()
	second, err := s.Upsert(ctx, newProduct("FIG-1", "amiami", "Rei"))
	if err != nil {
		t.Fatalf("upsert after reopen: %v", err)
	}
	if second.Operation != OpUpdated || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("reopen lost state: first=%+v second=%+v", first, second)
	}
}

// The Postgres and Redis suites run only when a server is provided.

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.pool.Exec(ctx, `TRUNCATE products, scraping_logs`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	runStoreSuite(t, s)
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	s := NewRedis(client, "figscrape-test-"+uuid.NewString())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, s.prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		s.Close()
	})
	return s
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, newTestRedis(t))
}

func TestRedisSourceChangeMovesIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	if _, err := s.Upsert(ctx, &models.Product{ID: "X1", Source: "amiami", Title: "first"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := s.Upsert(ctx, &models.Product{ID: "X1", Source: "hlj", Title: "moved"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Operation != OpUpdated {
		t.Fatalf("operation = %s, want updated", res.Operation)
	}

	amiami, err := s.ListBySource(ctx, "amiami", 10)
	if err != nil {
		t.Fatalf("list amiami: %v", err)
	}
	hlj, err := s.ListBySource(ctx, "hlj", 10)
	if err != nil {
		t.Fatalf("list hlj: %v", err)
	}
	if len(amiami) != 0 || len(hlj) != 1 || hlj[0].Title != "moved" {
		t.Fatalf("amiami=%d hlj=%d", len(amiami), len(hlj))
	}
}

func TestRedisKeysShareHashTag(t *testing.T) {
	s := NewRedis(nil, "figs")
	keys := []string{s.productKey("X1"), s.allKey(), s.sourcesKey(), s.sourcePrefix() + "hlj", s.logKey("hlj")}
	for _, key := range keys {
		if !strings.HasPrefix(key, "{figs}:") {
			t.Fatalf("key %q is outside the {figs} hash tag", key)
		}
	}
	if NewRedis(nil, "{custom}").prefix != "{custom}" {
		t.Fatalf("an explicit hash tag must be kept")
	}
}
