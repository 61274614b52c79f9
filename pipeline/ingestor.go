// Package pipeline drives ingestion sessions: pagination through a source,
// normalization of every raw record, and hand-off to a store or writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/parser"
	"github.com/aluiziolira/go-scrape-figures/scraper"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// PageFetcher is the part of a source adapter the ingestor needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, q models.Query, pageIndex int) (*models.PageResult, error)
}

// Limits bounds one session. Zero means unlimited. Reaching a limit ends the
// session normally; it is not an error.
type Limits struct {
	PageCap   int
	ResultCap int
}

// Ingestor runs FetchAll sessions against registered sources.
type Ingestor struct {
	fetchers     map[models.SourceKind]PageFetcher
	normalizer   *parser.Normalizer
	maxAttempts  int
	retryBackoff time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithNormalizer replaces the built-in normalizer, typically to apply host
// overrides from configuration.
func WithNormalizer(n *parser.Normalizer) Option {
	return func(in *Ingestor) { in.normalizer = n }
}

// WithRetry sets the number of fetch attempts per page and the linear
// backoff step between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(in *Ingestor) {
		if attempts > 0 {
			in.maxAttempts = attempts
		}
		if backoff >= 0 {
			in.retryBackoff = backoff
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingestor) { in.metrics = m }
}

// NewIngestor builds an ingestor with no sources registered.
func NewIngestor(opts ...Option) *Ingestor {
	in := &Ingestor{
		fetchers:     make(map[models.SourceKind]PageFetcher),
		normalizer:   parser.NewNormalizer(nil),
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Register binds a fetcher to a source kind. Not safe to call concurrently
// with FetchAll.
func (in *Ingestor) Register(kind models.SourceKind, f PageFetcher) {
	in.fetchers[kind] = f
}

// Sources lists the registered source kinds.
func (in *Ingestor) Sources() []models.SourceKind {
	out := make([]models.SourceKind, 0, len(in.fetchers))
	for _, kind := range []models.SourceKind{models.SourceAmiAmi, models.SourceHLJ, models.SourceAmiAmiItem} {
		if _, ok := in.fetchers[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// FetchAll consumes the result set of q page by page until the source is
// exhausted or a limit is reached. Products keep source order; a later
// duplicate id replaces the earlier product in its original position.
//
// On abort the partial result is returned together with an *AbortedError.
func (in *Ingestor) FetchAll(ctx context.Context, q models.Query, limits Limits) (*models.SessionResult, error) {
	res := &models.SessionResult{
		Query:     q,
		State:     models.StateIdle,
		StartTime: in.now(),
	}

	fetcher, ok := in.fetchers[q.Source]
	if !ok {
		return in.abort(res, 0, fmt.Errorf("no fetcher registered for source %q", q.Source))
	}

	cursor := NewCursor()
	positions := make(map[string]int)
	truncated := false

	slog.Debug("session started",
		slog.String("source", string(q.Source)),
		slog.String("keyword", q.Keyword),
		slog.Int("page_cap", limits.PageCap),
		slog.Int("result_cap", limits.ResultCap),
	)

	for cursor.HasMore() {
		if limits.PageCap > 0 && cursor.PageIndex() >= limits.PageCap {
			break
		}
		if limits.ResultCap > 0 && len(res.Products) >= limits.ResultCap {
			break
		}

		res.State = models.StateFetching
		pageIndex := cursor.PageIndex()
		page, err := in.fetchPage(ctx, fetcher, q, pageIndex, res)
		if err != nil {
			return in.abort(res, pageIndex, err)
		}
		if err := cursor.RecordPage(page); err != nil {
			return in.abort(res, pageIndex, err)
		}
		res.PageCount++
		res.TotalCount = cursor.Total()
		in.metrics.AddItems(string(q.Source), len(page.Items))

		res.State = models.StateNormalizing
		for _, raw := range page.Items {
			res.RawLog = append(res.RawLog, raw)
			product, err := in.normalizer.Normalize(raw, q.Source)
			if errors.Is(err, parser.ErrUnmappableRecord) {
				res.Unmappable++
				in.metrics.IncUnmappable(string(q.Source))
				slog.Debug("skipping unmappable record",
					slog.String("source", string(q.Source)),
					slog.Int("page", pageIndex),
				)
				continue
			}
			if err != nil {
				return in.abort(res, pageIndex, err)
			}
			if pos, dup := positions[product.ID]; dup {
				res.Products[pos] = product
				res.Duplicates++
				continue
			}
			positions[product.ID] = len(res.Products)
			res.Products = append(res.Products, product)
		}

		slog.Debug("page ingested",
			slog.String("source", string(q.Source)),
			slog.Int("page", pageIndex),
			slog.Int("items", len(page.Items)),
			slog.Int("seen", cursor.Seen()),
			slog.Int("total", cursor.Total()),
		)
	}

	if limits.ResultCap > 0 && len(res.Products) > limits.ResultCap {
		res.Products = res.Products[:limits.ResultCap]
		truncated = true
	}

	res.Exhausted = !cursor.HasMore() && !truncated
	res.State = models.StateDone
	res.EndTime = in.now()
	in.metrics.IncSession(string(q.Source), string(res.State))

	slog.Info("session complete",
		slog.String("source", string(q.Source)),
		slog.String("keyword", q.Keyword),
		slog.Int("products", len(res.Products)),
		slog.Int("pages", res.PageCount),
		slog.Int("total", res.TotalCount),
		slog.Bool("exhausted", res.Exhausted),
		slog.Int("unmappable", res.Unmappable),
	)
	return res, nil
}

// fetchPage fetches one page, retrying FetchFailed errors with linear backoff.
// Cancellation is checked before every attempt.
func (in *Ingestor) fetchPage(ctx context.Context, f PageFetcher, q models.Query, pageIndex int, res *models.SessionResult) (*models.PageResult, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := f.FetchPage(ctx, q, pageIndex)
		if err == nil {
			return page, nil
		}
		if !scraper.IsRetryable(err) {
			return nil, err
		}
		if attempt >= in.maxAttempts {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		res.RetryCount++
		in.metrics.IncRetries(string(q.Source))
		delay := time.Duration(attempt) * in.retryBackoff
		slog.Warn("page fetch failed, retrying",
			slog.String("source", string(q.Source)),
			slog.Int("page", pageIndex),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error_type", scraper.ErrorLabel(err)),
			slog.Any("error", err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (in *Ingestor) abort(res *models.SessionResult, pageIndex int, cause error) (*models.SessionResult, error) {
	state := res.State
	if state == models.StateIdle {
		state = models.StateFetching
	}
	res.State = models.StateAborted
	res.EndTime = in.now()
	in.metrics.IncSession(string(res.Query.Source), string(res.State))

	slog.Error("session aborted",
		slog.String("source", string(res.Query.Source)),
		slog.String("keyword", res.Query.Keyword),
		slog.Int("page", pageIndex),
		slog.String("state", string(state)),
		slog.Int("products", len(res.Products)),
		slog.Any("error", cause),
	)
	return res, &AbortedError{
		Query:     res.Query,
		PageIndex: pageIndex,
		State:     state,
		Cause:     cause,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
