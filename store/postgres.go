package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-figures/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_source_updated ON products (source, updated_at DESC);

CREATE TABLE IF NOT EXISTS scraping_logs (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	keyword         TEXT NOT NULL,
	state           TEXT NOT NULL,
	total_products  INTEGER NOT NULL,
	pages_processed INTEGER NOT NULL,
	exhausted       BOOLEAN NOT NULL,
	items           JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scraping_logs_source ON scraping_logs (source, created_at DESC);
`

// Postgres stores products in PostgreSQL through a pgx pool. The upsert is a
// single INSERT ... ON CONFLICT statement, atomic per id.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

// Upsert uses the xmax system column: it is zero only for a freshly inserted
// row version.
func (s *Postgres) Upsert(ctx context.Context, p *models.Product) (UpsertResult, error) {
	if p == nil || p.ID == "" {
		return UpsertResult{}, ErrMissingID
	}
	data, err := json.Marshal(stripped(p))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode product %s: %w", p.ID, err)
	}

	now := s.now().UTC()
	var (
		inserted             bool
		createdAt, updatedAt time.Time
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO products (id, source, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			source     = EXCLUDED.source,
			data       = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0), created_at, updated_at`,
		p.ID, p.Source, data, now,
	).Scan(&inserted, &createdAt, &updatedAt)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}

	op := OpUpdated
	if inserted {
		op = OpInserted
	}
	return UpsertResult{ID: p.ID, Operation: op, CreatedAt: createdAt.UTC(), UpdatedAt: updatedAt.UTC()}, nil
}

func (s *Postgres) AppendLog(ctx context.Context, entry LogEntry) (string, error) {
	entry = prepareLog(entry, s.now())
	items, err := json.Marshal(entry.Items)
	if err != nil {
		return "", fmt.Errorf("encode log items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scraping_logs (id, source, keyword, state, total_products, pages_processed, exhausted, items, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Source, entry.Keyword, entry.State, entry.TotalProducts,
		entry.PagesProcessed, entry.Exhausted, items, entry.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("append log: %w", err)
	}
	return entry.ID, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*models.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data, created_at, updated_at FROM products WHERE id = $1`, id)
	p, err := scanPostgresProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (s *Postgres) ListBySource(ctx context.Context, source string, limit int) ([]*models.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data, created_at, updated_at FROM products
		WHERE $1::text = '' OR source = $1
		ORDER BY updated_at DESC, id ASC
		LIMIT $2`, source, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanPostgresProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) RecentLogs(ctx context.Context, source string, limit int) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, keyword, state, total_products, pages_processed, exhausted, created_at
		FROM scraping_logs
		WHERE $1::text = '' OR source = $1
		ORDER BY created_at DESC
		LIMIT $2`, source, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.ID, &entry.Source, &entry.Keyword, &entry.State,
			&entry.TotalProducts, &entry.PagesProcessed, &entry.Exhausted, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{BySource: make(map[string]int)}
	rows, err := s.pool.Query(ctx, `SELECT source, COUNT(*) FROM products GROUP BY source`)
	if err != nil {
		return Stats{}, fmt.Errorf("count products: %w", err)
	}
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan count: %w", err)
		}
		stats.BySource[source] = n
		stats.Products += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scraping_logs`).Scan(&stats.Logs); err != nil {
		return Stats{}, fmt.Errorf("count logs: %w", err)
	}
	return stats, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresProduct(row pgx.Row) (*models.Product, error) {
	var (
		data                 []byte
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var p models.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}
