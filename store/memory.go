package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-figures/models"
)

const memoryStripes = 64

// Memory is an in-process Store. Writes for one id are serialized by a
// striped lock; the product map itself is guarded by mu.
type Memory struct {
	stripes [memoryStripes]sync.Mutex

	mu       sync.RWMutex
	products map[string]*models.Product

	logMu sync.Mutex
	logs  []LogEntry

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products: make(map[string]*models.Product),
		now:      time.Now,
	}
}

func (m *Memory) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.stripes[h.Sum32()%memoryStripes]
}

func (m *Memory) Upsert(ctx context.Context, p *models.Product) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}
	if p == nil || p.ID == "" {
		return UpsertResult{}, ErrMissingID
	}

	lock := m.stripe(p.ID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	rec := stripped(p)
	rec.UpdatedAt = now

	m.mu.RLock()
	existing, ok := m.products[p.ID]
	m.mu.RUnlock()

	op := OpInserted
	rec.CreatedAt = now
	if ok {
		op = OpUpdated
		rec.CreatedAt = existing.CreatedAt
	}

	m.mu.Lock()
	m.products[p.ID] = rec
	m.mu.Unlock()

	return UpsertResult{ID: p.ID, Operation: op, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}, nil
}

func (m *Memory) AppendLog(ctx context.Context, entry LogEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entry = prepareLog(entry, m.now())
	entry.Items = append([]models.RawRecord(nil), entry.Items...)

	m.logMu.Lock()
	m.logs = append(m.logs, entry)
	m.logMu.Unlock()
	return entry.ID, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *Memory) ListBySource(ctx context.Context, source string, limit int) ([]*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*models.Product, 0, len(m.products))
	for _, p := range m.products {
		if source == "" || p.Source == source {
			out = append(out, p.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RecentLogs(ctx context.Context, source string, limit int) ([]LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	m.logMu.Lock()
	defer m.logMu.Unlock()
	var out []LogEntry
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := m.logs[i]
		if source != "" && entry.Source != source {
			continue
		}
		entry.Items = nil
		out = append(out, entry)
	}
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	stats := Stats{BySource: make(map[string]int)}
	m.mu.RLock()
	for _, p := range m.products {
		stats.Products++
		stats.BySource[p.Source]++
	}
	m.mu.RUnlock()

	m.logMu.Lock()
	stats.Logs = len(m.logs)
	m.logMu.Unlock()
	return stats, nil
}

func (m *Memory) Close() error { return nil }
