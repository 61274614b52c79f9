// Package scheduler runs the configured recurring queries on a cron spec and
// persists every session.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/aluiziolira/go-scrape-figures/config"
	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/pipeline"
	"github.com/aluiziolira/go-scrape-figures/store"
)

// Scheduler wraps robfig/cron around a pipeline runner.
type Scheduler struct {
	cron     *cron.Cron
	ingestor *pipeline.Ingestor
	store    store.Store
	metrics  *metrics.Metrics
	schedule *config.Schedule
	workers  int
	pageCap  int

	wg   sync.WaitGroup
	mu   sync.Mutex
	runs int
}

// New creates a Scheduler. pageCap applies to entries that do not set one.
func New(ingestor *pipeline.Ingestor, st store.Store, m *metrics.Metrics, sched *config.Schedule, workers, pageCap int) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger))),
		ingestor: ingestor,
		store:    st,
		metrics:  m,
		schedule: sched,
		workers:  workers,
		pageCap:  pageCap,
	}
}

// Start registers the cycle and starts the cron loop. One cycle also runs
// immediately so the store is populated without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule.Spec, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler started", slog.String("spec", s.schedule.Spec), slog.Int("queries", len(s.schedule.Queries)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
	}()
	return nil
}

// Stop halts the cron loop and waits for running cycles to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// RunOnce runs every scheduled query as an independent session and returns
// the outcomes. Failed sessions are logged and do not affect the others.
func (s *Scheduler) RunOnce(ctx context.Context) []pipeline.Outcome {
	slog.Info("scheduled cycle started", slog.Int("queries", len(s.schedule.Queries)))

	runner := pipeline.NewRunner(ctx, s.ingestor, pipeline.RunnerConfig{
		Store:   s.store,
		Metrics: s.metrics,
	})
	runner.Start(s.workers)

	jobs := make([]pipeline.Job, 0, len(s.schedule.Queries))
	for _, entry := range s.schedule.Queries {
		pageCap := entry.PageCap
		if pageCap == 0 {
			pageCap = s.pageCap
		}
		jobs = append(jobs, pipeline.Job{Query: entry.Query(), Limits: pipeline.Limits{PageCap: pageCap}})
	}
	if err := runner.Submit(jobs...); err != nil {
		slog.Error("submit scheduled jobs", slog.Any("error", err))
	}
	if err := runner.Close(); err != nil {
		slog.Error("scheduled cycle failed", slog.Any("error", err))
	}

	outcomes := runner.Outcomes()
	for _, o := range outcomes {
		if o.Err != nil {
			slog.Warn("scheduled session failed", slog.String("query", o.Job.Query.String()), slog.Any("error", o.Err))
		}
	}

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	slog.Info("scheduled cycle complete", slog.Any("stats", runner.GetMetrics()))
	return outcomes
}

// Runs reports how many cycles have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
