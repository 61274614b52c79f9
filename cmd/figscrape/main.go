package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-figures/api"
	"github.com/aluiziolira/go-scrape-figures/config"
	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
	"github.com/aluiziolira/go-scrape-figures/parser"
	"github.com/aluiziolira/go-scrape-figures/pipeline"
	"github.com/aluiziolira/go-scrape-figures/scheduler"
	"github.com/aluiziolira/go-scrape-figures/scraper"
	"github.com/aluiziolira/go-scrape-figures/store"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	source := flag.String("source", "all", "Source to search: amiami, hlj, or all")
	keyword := flag.String("keyword", "", "Search keyword")
	item := flag.String("item", "", "Refresh a single AmiAmi item by gcode")
	limit := flag.Int("limit", 0, "Maximum products per session (0 for no limit)")
	flag.IntVar(&cfg.MaxPages, "pages", cfg.MaxPages, "Maximum pages per session")
	flag.IntVar(&cfg.Parallelism, "parallel", cfg.Parallelism, "Number of concurrent sessions")
	flag.IntVar(&cfg.MaxAttempts, "attempts", cfg.MaxAttempts, "Fetch attempts per page")
	flag.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base delay between fetch attempts")
	flag.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "Store backend: memory, sqlite, postgres, or redis")
	flag.StringVar(&cfg.StoreDSN, "dsn", cfg.StoreDSN, "Store path or connection URL")
	flag.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Export file path (empty disables export)")
	flag.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Export format: csv, json, or dual")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP API listen address in serve mode")
	flag.StringVar(&cfg.ScheduleFile, "schedule", cfg.ScheduleFile, "YAML schedule of recurring queries for serve mode")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	serve := flag.Bool("serve", false, "Run the HTTP API and the schedule")

	flag.Parse()

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	ingestor, err := newIngestor(cfg, m)
	if err != nil {
		slog.Error("initialising adapters", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg.StoreBackend, cfg.StoreDSN)
	if err != nil {
		slog.Error("opening store", slog.String("backend", cfg.StoreBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	if *serve {
		if err := runServer(ctx, cfg, ingestor, st, m); err != nil {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	jobs, err := buildJobs(*source, *keyword, *item, cfg.MaxPages, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if err := runOnce(ctx, cfg, ingestor, st, m, jobs); err != nil {
		slog.Error("ingestion failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newIngestor(cfg *config.Config, m *metrics.Metrics) (*pipeline.Ingestor, error) {
	adapters, err := scraper.NewAll(cfg, m)
	if err != nil {
		return nil, err
	}
	normalizer := parser.NewNormalizer(map[models.SourceKind]parser.Hosts{
		models.SourceAmiAmi:     {SiteURL: cfg.AmiAmi.SiteURL, ImageHost: cfg.AmiAmi.ImageHost},
		models.SourceAmiAmiItem: {SiteURL: cfg.AmiAmi.SiteURL, ImageHost: cfg.AmiAmi.ImageHost},
		models.SourceHLJ:        {SiteURL: cfg.HLJ.SiteURL, ImageHost: cfg.HLJ.ImageHost},
	})
	ingestor := pipeline.NewIngestor(
		pipeline.WithNormalizer(normalizer),
		pipeline.WithRetry(cfg.MaxAttempts, cfg.RetryBackoff),
		pipeline.WithMetrics(m),
	)
	for kind, adapter := range adapters {
		ingestor.Register(kind, adapter)
	}
	return ingestor, nil
}

func buildJobs(source, keyword, item string, pageCap, resultCap int) ([]pipeline.Job, error) {
	limits := pipeline.Limits{PageCap: pageCap, ResultCap: resultCap}
	if item = strings.TrimSpace(item); item != "" {
		return []pipeline.Job{{
			Query:  models.Query{Keyword: item, Source: models.SourceAmiAmiItem},
			Limits: limits,
		}}, nil
	}

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, errors.New("-keyword or -item is required")
	}
	if resultCap < 0 {
		return nil, errors.New("-limit cannot be negative")
	}

	var kinds []models.SourceKind
	if strings.EqualFold(source, "all") {
		kinds = models.SourceKinds
	} else {
		kind, err := models.ParseSourceKind(source)
		if err != nil {
			return nil, err
		}
		if kind == models.SourceAmiAmiItem {
			return nil, errors.New("use -item for single item refreshes")
		}
		kinds = []models.SourceKind{kind}
	}

	jobs := make([]pipeline.Job, 0, len(kinds))
	for _, kind := range kinds {
		jobs = append(jobs, pipeline.Job{Query: models.Query{Keyword: keyword, Source: kind}, Limits: limits})
	}
	return jobs, nil
}

func runOnce(ctx context.Context, cfg *config.Config, ingestor *pipeline.Ingestor, st store.Store, m *metrics.Metrics, jobs []pipeline.Job) error {
	var writer pipeline.OutputWriter
	if cfg.OutputFile != "" {
		w, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("creating writer: %w", err)
		}
		writer = w
		defer func() {
			if err := writer.Close(); err != nil {
				slog.Error("close writer", slog.Any("error", err))
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting ingestion",
		slog.Int("sessions", len(jobs)),
		slog.Int("pages", cfg.MaxPages),
		slog.String("store", cfg.StoreBackend),
	)

	runner := pipeline.NewRunner(ctx, ingestor, pipeline.RunnerConfig{
		Store:   st,
		Writer:  writer,
		Metrics: m,
	})
	runner.Start(cfg.Parallelism)
	if cfg.Verbose {
		runner.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	if err := runner.Submit(jobs...); err != nil {
		return err
	}
	if err := runner.Close(); err != nil {
		return fmt.Errorf("runner shutdown: %w", err)
	}
	if writer != nil {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation: %w", err)
		}
	}

	outcomes := runner.Outcomes()
	printSummary(outcomes, time.Since(startTime), cfg.OutputFile, runner.GetMetrics())

	for _, o := range outcomes {
		if o.Err == nil {
			return nil
		}
	}
	return errors.New("every session failed")
}

func runServer(ctx context.Context, cfg *config.Config, ingestor *pipeline.Ingestor, st store.Store, m *metrics.Metrics) error {
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	var sched *scheduler.Scheduler
	if cfg.ScheduleFile != "" {
		schedule, err := config.LoadSchedule(cfg.ScheduleFile)
		if err != nil {
			return err
		}
		sched = scheduler.New(ingestor, st, m, schedule, cfg.Parallelism, cfg.MaxPages)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	server := api.New(ingestor, st, m, api.Config{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
		PageCap:   cfg.MaxPages,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight requests to finish")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func printSummary(outcomes []pipeline.Outcome, duration time.Duration, outputFile string, snapshot map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Ingestion complete")

	for _, o := range outcomes {
		fmt.Printf("  %s\n", o.Job.Query)
		if res := o.Result; res != nil {
			fmt.Printf("    State:       %s (exhausted=%v)\n", res.State, res.Exhausted)
			fmt.Printf("    Products:    %d of %d reported\n", len(res.Products), res.TotalCount)
			fmt.Printf("    Pages:       %d\n", res.PageCount)
			fmt.Printf("    Retries:     %d\n", res.RetryCount)
			if res.Unmappable > 0 || res.Duplicates > 0 {
				fmt.Printf("    Skipped:     %d unmappable, %d duplicates\n", res.Unmappable, res.Duplicates)
			}
		}
		if o.Batch.LogID != "" {
			fmt.Printf("    Stored:      %d inserted, %d updated, %d failed\n", o.Batch.Inserted, o.Batch.Updated, len(o.Batch.Errors))
		}
		if o.Err != nil {
			fmt.Printf("    Error:       %v\n", o.Err)
		}
	}

	totalItems := int64(0)
	if products, ok := snapshot["products"].(int64); ok {
		totalItems = products
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(totalItems) / duration.Seconds()
	}

	fmt.Printf("  Total items:   %d\n", totalItems)
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	if outputFile != "" {
		fmt.Printf("  Output file:   %s\n", outputFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
