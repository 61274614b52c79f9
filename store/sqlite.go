package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-figures/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	data       TEXT NOT NULL,
	revision   INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_source_updated ON products(source, updated_at DESC);

CREATE TABLE IF NOT EXISTS scraping_logs (
	id              TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	keyword         TEXT NOT NULL,
	state           TEXT NOT NULL,
	total_products  INTEGER NOT NULL,
	pages_processed INTEGER NOT NULL,
	exhausted       INTEGER NOT NULL,
	items           TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scraping_logs_source ON scraping_logs(source, created_at DESC);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// SQLite stores products in a single database file through the pure-Go
// modernc driver. Writers share one connection, so per-id upserts are
// serialized by SQLite itself.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Upsert relies on the revision counter returned by the conflict clause to
// tell a fresh insert from a replacement in a single statement.
func (s *SQLite) Upsert(ctx context.Context, p *models.Product) (UpsertResult, error) {
	if p == nil || p.ID == "" {
		return UpsertResult{}, ErrMissingID
	}
	data, err := json.Marshal(stripped(p))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode product %s: %w", p.ID, err)
	}

	now := s.now().UTC()
	var revision, createdAt, updatedAt int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, source, data, revision, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source     = excluded.source,
			data       = excluded.data,
			revision   = products.revision + 1,
			updated_at = excluded.updated_at
		RETURNING revision, created_at, updated_at`,
		p.ID, p.Source, string(data), now.UnixNano(), now.UnixNano(),
	).Scan(&revision, &createdAt, &updatedAt)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert product %s: %w", p.ID, err)
	}

	op := OpUpdated
	if revision == 1 {
		op = OpInserted
	}
	return UpsertResult{
		ID:        p.ID,
		Operation: op,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}, nil
}

func (s *SQLite) AppendLog(ctx context.Context, entry LogEntry) (string, error) {
	entry = prepareLog(entry, s.now())
	items, err := json.Marshal(entry.Items)
	if err != nil {
		return "", fmt.Errorf("encode log items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scraping_logs (id, source, keyword, state, total_products, pages_processed, exhausted, items, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Source, entry.Keyword, entry.State, entry.TotalProducts,
		entry.PagesProcessed, entry.Exhausted, string(items), entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("append log: %w", err)
	}
	return entry.ID, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM products WHERE id = ?`, id)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLite) ListBySource(ctx context.Context, source string, limit int) ([]*models.Product, error) {
	query := `SELECT data, created_at, updated_at FROM products`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) RecentLogs(ctx context.Context, source string, limit int) ([]LogEntry, error) {
	query := `SELECT id, source, keyword, state, total_products, pages_processed, exhausted, created_at FROM scraping_logs`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			entry     LogEntry
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Source, &entry.Keyword, &entry.State,
			&entry.TotalProducts, &entry.PagesProcessed, &entry.Exhausted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entry.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{BySource: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM products GROUP BY source`)
	if err != nil {
		return Stats{}, fmt.Errorf("count products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return Stats{}, fmt.Errorf("scan count: %w", err)
		}
		stats.BySource[source] = n
		stats.Products += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraping_logs`).Scan(&stats.Logs); err != nil {
		return Stats{}, fmt.Errorf("count logs: %w", err)
	}
	return stats, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProduct(row rowScanner) (*models.Product, error) {
	var (
		data                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var p models.Product
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}
