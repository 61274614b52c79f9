package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/store"
)

const persistTimeout = 30 * time.Second

var (
	// ErrRunnerClosed is returned when Submit is called after shutdown.
	ErrRunnerClosed = errors.New("pipeline: runner closed")
)

// OutputWriter defines the interface for file export.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Job is one session to run.
type Job struct {
	Query  models.Query
	Limits Limits
}

// Outcome is the result of one job. Err is the abort or persist error, if any;
// Result is set even for aborted sessions.
type Outcome struct {
	Job    Job
	Result *models.SessionResult
	Batch  BatchStats
	Err    error
}

// RunnerConfig wires the optional sinks of a Runner.
type RunnerConfig struct {
	Store   store.Store
	Writer  OutputWriter
	Metrics *metrics.Metrics
	Buffer  int
}

// Runner runs independent sessions on a pool of workers. Sessions never share
// state; the store and the writer are the only shared sinks.
type Runner struct {
	ctx      context.Context
	ingestor *Ingestor
	store    store.Store
	writer   OutputWriter
	metrics  *metrics.Metrics

	jobCh chan Job
	wg    sync.WaitGroup

	counters counters

	mu       sync.Mutex // guards closed/err/outcomes
	closed   bool
	err      error
	outcomes []Outcome

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewRunner builds a runner. ctx bounds every session it runs.
func NewRunner(ctx context.Context, ingestor *Ingestor, cfg RunnerConfig) *Runner {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Runner{
		ctx:      ctx,
		ingestor: ingestor,
		store:    cfg.Store,
		writer:   cfg.Writer,
		metrics:  cfg.Metrics,
		jobCh:    make(chan Job, buffer),
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (r *Runner) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Submit enqueues jobs. It blocks while the buffer is full.
func (r *Runner) Submit(jobs ...Job) error {
	closed, err := r.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrRunnerClosed
	}
	for _, job := range jobs {
		if err := r.enqueue(job); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting jobs, waits for queued ones to finish and returns the
// first fatal error.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.closeOnce.Do(func() {
		close(r.jobCh)
	})
	r.wg.Wait()
	r.signalShutdown()
	return r.Err()
}

// Err returns the first fatal error. Aborted sessions are not fatal; they
// are reported in their Outcome.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Outcomes returns the finished jobs in completion order.
func (r *Runner) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// GetMetrics returns a snapshot of the internal counters.
func (r *Runner) GetMetrics() map[string]interface{} {
	return r.counters.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (r *Runner) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := r.GetMetrics()
				slog.Info("runner progress",
					slog.Int64("sessions", snap["sessions"].(int64)),
					slog.Int64("aborted", snap["aborted"].(int64)),
					slog.Int64("products", snap["products"].(int64)),
				)
			case <-r.shutdown:
				return
			}
		}
	}()
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for job := range r.jobCh {
		if _, err := r.state(); err != nil {
			continue
		}
		outcome := r.run(job)

		r.mu.Lock()
		r.outcomes = append(r.outcomes, outcome)
		r.mu.Unlock()
	}
}

func (r *Runner) run(job Job) Outcome {
	outcome := Outcome{Job: job}
	res, err := r.ingestor.FetchAll(r.ctx, job.Query, job.Limits)
	outcome.Result = res
	outcome.Err = err
	r.counters.addSession(res, err)
	if res == nil || (len(res.Products) == 0 && len(res.RawLog) == 0) {
		return outcome
	}

	if r.store != nil {
		// A cancelled session still stores what it fetched.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), persistTimeout)
		batch, perr := Persist(persistCtx, r.store, res, r.metrics)
		cancel()
		outcome.Batch = batch
		r.counters.addBatch(batch)
		if perr != nil && outcome.Err == nil {
			outcome.Err = perr
		}
	}
	if r.writer != nil && len(res.Products) > 0 {
		if werr := r.writer.Write(res.Products); werr != nil {
			r.setErr(fmt.Errorf("write products: %w", werr))
		}
	}
	return outcome
}

func (r *Runner) enqueue(job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ErrRunnerClosed
		}
	}()

	select {
	case <-r.shutdown:
		return ErrRunnerClosed
	case r.jobCh <- job:
		return nil
	}
}

// setErr records a fatal error. Queued jobs are drained without running.
func (r *Runner) setErr(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *Runner) state() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed, r.err
}

func (r *Runner) signalShutdown() {
	r.shutdownOnce.Do(func() {
		close(r.shutdown)
	})
}

type counters struct {
	mu       sync.Mutex
	sessions int64
	aborted  int64
	products int64
	inserted int64
	updated  int64
	failed   int64
}

func (c *counters) addSession(res *models.SessionResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions++
	if err != nil {
		c.aborted++
	}
	if res != nil {
		c.products += int64(len(res.Products))
	}
}

func (c *counters) addBatch(b BatchStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserted += int64(b.Inserted)
	c.updated += int64(b.Updated)
	c.failed += int64(len(b.Errors))
}

func (c *counters) snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"sessions":      c.sessions,
		"aborted":       c.aborted,
		"products":      c.products,
		"inserted":      c.inserted,
		"updated":       c.updated,
		"upsert_errors": c.failed,
	}
}
