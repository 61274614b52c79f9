// Package store persists canonical products idempotently and keeps an
// append-only log of ingestion sessions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("store: not found")

// ErrMissingID is returned by Upsert for a product without an id.
var ErrMissingID = errors.New("store: product has no id")

// Operation tells whether an upsert created or replaced a record.
type Operation string

const (
	OpInserted Operation = "inserted"
	OpUpdated  Operation = "updated"
)

// UpsertResult describes one upsert.
type UpsertResult struct {
	ID        string    `json:"product_id"`
	Operation Operation `json:"operation"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry is one ingestion session as recorded in the log. RecentLogs
// returns entries without Items.
type LogEntry struct {
	ID             string             `json:"id"`
	Source         string             `json:"source"`
	Keyword        string             `json:"search_keyword"`
	State          string             `json:"state"`
	TotalProducts  int                `json:"total_products"`
	PagesProcessed int                `json:"pages_processed"`
	Exhausted      bool               `json:"exhausted"`
	Items          []models.RawRecord `json:"products_data,omitempty"`
	CreatedAt      time.Time          `json:"timestamp"`
}

// Stats summarises store contents.
type Stats struct {
	Products int            `json:"total_products"`
	BySource map[string]int `json:"products_by_source"`
	Logs     int            `json:"total_logs"`
}

// Store is the persistence capability shared by every backend.
//
// Upsert is keyed by Product.ID and must be linearizable per id: the first
// write for an id reports OpInserted, every later one OpUpdated. CreatedAt is
// kept from the first insert and UpdatedAt is refreshed on every write; all
// other fields are replaced by the latest write.
type Store interface {
	Upsert(ctx context.Context, p *models.Product) (UpsertResult, error)
	AppendLog(ctx context.Context, entry LogEntry) (string, error)

	Get(ctx context.Context, id string) (*models.Product, error)
	// ListBySource returns the most recently updated products first. An
	// empty source lists all products.
	ListBySource(ctx context.Context, source string, limit int) ([]*models.Product, error)
	RecentLogs(ctx context.Context, source string, limit int) ([]LogEntry, error)
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Open builds the backend named by backend. dsn is a file path for sqlite
// and a URL for postgres and redis; memory ignores it.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch strings.ToLower(backend) {
	case "memory", "":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "redis":
		return OpenRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// prepareLog fills the generated fields of a new log entry.
func prepareLog(entry LogEntry, now time.Time) LogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry
}

// stripped returns a copy of p without store-owned timestamps, ready for
// serialization into a backend payload column.
func stripped(p *models.Product) *models.Product {
	out := p.Clone()
	out.CreatedAt = time.Time{}
	out.UpdatedAt = time.Time{}
	return out
}
