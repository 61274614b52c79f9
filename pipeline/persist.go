package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/store"
)

// ProductError records one product that could not be stored.
type ProductError struct {
	ProductID string `json:"product_id"`
	Error     string `json:"error"`
}

// BatchStats summarises one Persist call.
type BatchStats struct {
	LogID    string         `json:"log_id"`
	Inserted int            `json:"inserted"`
	Updated  int            `json:"updated"`
	Errors   []ProductError `json:"errors,omitempty"`
}

// Persist appends the session's raw log and upserts every product. A failed
// product is recorded in the stats and does not stop the batch; only a
// failed log append or a cancelled context is returned as an error.
func Persist(ctx context.Context, s store.Store, res *models.SessionResult, m *metrics.Metrics) (BatchStats, error) {
	var stats BatchStats
	if res == nil {
		return stats, nil
	}

	logID, err := s.AppendLog(ctx, store.LogEntry{
		Source:         res.Query.Source.Catalog(),
		Keyword:        res.Query.Keyword,
		State:          string(res.State),
		TotalProducts:  len(res.Products),
		PagesProcessed: res.PageCount,
		Exhausted:      res.Exhausted,
		Items:          res.RawLog,
	})
	if err != nil {
		return stats, fmt.Errorf("append scraping log: %w", err)
	}
	stats.LogID = logID

	for _, p := range res.Products {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		result, err := s.Upsert(ctx, p)
		if err != nil {
			m.IncUpsert("error")
			stats.Errors = append(stats.Errors, ProductError{ProductID: p.ID, Error: err.Error()})
			slog.Warn("product upsert failed", slog.String("id", p.ID), slog.Any("error", err))
			continue
		}
		m.IncUpsert(string(result.Operation))
		switch result.Operation {
		case store.OpInserted:
			stats.Inserted++
		case store.OpUpdated:
			stats.Updated++
		}
	}

	slog.Info("session persisted",
		slog.String("source", res.Query.Source.Catalog()),
		slog.String("keyword", res.Query.Keyword),
		slog.String("log_id", logID),
		slog.Int("inserted", stats.Inserted),
		slog.Int("updated", stats.Updated),
		slog.Int("errors", len(stats.Errors)),
	)
	return stats, nil
}
