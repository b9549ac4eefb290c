package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/database"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/registry"
	"github.com/nao1215/proxyscan/internal/report"
)

// Job names as stored in the task history.
const (
	TaskFetch    = "fetch"
	TaskValidate = "validate"
	TaskCleanup  = "cleanup"
	TaskReport   = "report"
)

// Scheduler drives the periodic pool maintenance jobs.
type Scheduler struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *database.Store
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithNotifier replaces the default log-based notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// New creates a Scheduler over the given registry and store.
func New(cfg *config.Config, reg *registry.Registry, store *database.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		registry: reg,
		store:    store,
		logger:   slog.Default(),
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// Run executes the job loop until the context is cancelled. Each job
// fires on its own interval; a failing job is recorded and the loop
// continues.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("fetch_interval", s.cfg.FetchInterval),
		slog.Duration("validate_interval", s.cfg.ValidateInterval),
		slog.Duration("cleanup_interval", s.cfg.CleanupInterval),
		slog.Duration("report_interval", s.cfg.ReportInterval))

	fetchTicker := time.NewTicker(s.cfg.FetchInterval)
	defer fetchTicker.Stop()
	validateTicker := time.NewTicker(s.cfg.ValidateInterval)
	defer validateTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()
	reportTicker := time.NewTicker(s.cfg.ReportInterval)
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-fetchTicker.C:
			s.dispatch(ctx, TaskFetch)
		case <-validateTicker.C:
			s.dispatch(ctx, TaskValidate)
		case <-cleanupTicker.C:
			s.dispatch(ctx, TaskCleanup)
		case <-reportTicker.C:
			s.dispatch(ctx, TaskReport)
		}
	}
}

// RunNow executes one job immediately and records its outcome. It
// returns the job error, or an error for an unknown task name.
func (s *Scheduler) RunNow(ctx context.Context, task string) error {
	switch task {
	case TaskFetch, TaskValidate, TaskCleanup, TaskReport:
		return s.runTask(ctx, task)
	default:
		return fmt.Errorf("unknown task %q (want %s, %s, %s or %s)",
			task, TaskFetch, TaskValidate, TaskCleanup, TaskReport)
	}
}

// dispatch runs a job in the background so a slow job never blocks the
// other tickers.
func (s *Scheduler) dispatch(ctx context.Context, task string) {
	go func() {
		if err := s.runTask(ctx, task); err != nil {
			s.logger.Error("scheduled task failed",
				slog.String("task", task), slog.String("error", err.Error()))
		}
	}()
}

// runTask runs one job with overlap protection and records its outcome
// in the task history.
func (s *Scheduler) runTask(ctx context.Context, task string) error {
	if !s.tryAcquire(task) {
		s.logger.Debug("task already running, skipping", slog.String("task", task))
		return nil
	}
	defer s.release(task)

	started := time.Now()
	detail, err := s.execute(ctx, task)
	record := &model.TaskRecord{
		Task:     task,
		Started:  started,
		Duration: time.Since(started),
		Success:  err == nil,
		Detail:   detail,
	}
	if err != nil {
		record.Detail = err.Error()
		if s.cfg.NotifyOnErrors {
			if nerr := s.notifier.Notify(ctx, "task failed: "+task, err.Error()); nerr != nil {
				s.logger.Warn("notification failed", slog.String("error", nerr.Error()))
			}
		}
	}
	if herr := s.store.InsertTaskRecord(ctx, record); herr != nil {
		s.logger.Warn("cannot record task outcome",
			slog.String("task", task), slog.String("error", herr.Error()))
	}
	return err
}

func (s *Scheduler) execute(ctx context.Context, task string) (string, error) {
	switch task {
	case TaskFetch:
		return s.runFetch(ctx)
	case TaskValidate:
		return s.runValidate(ctx)
	case TaskCleanup:
		return s.runCleanup(ctx)
	case TaskReport:
		return s.runReport(ctx)
	default:
		return "", fmt.Errorf("unknown task %q", task)
	}
}

func (s *Scheduler) runFetch(ctx context.Context) (string, error) {
	summary, err := s.registry.FetchFromSources(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fetched %d (new %d, duplicates %d, source errors %d)",
		summary.Fetched, summary.New, summary.Duplicates, summary.SourceErrors), nil
}

// runValidate re-queues cooled-down temp-invalid records first so the
// batch that follows can pick them up.
func (s *Scheduler) runValidate(ctx context.Context) (string, error) {
	requeued, err := s.registry.RetryTempInvalid(ctx)
	if err != nil {
		return "", err
	}
	summary, err := s.registry.ValidateBatch(ctx)
	if err != nil {
		return "", err
	}
	if err := s.checkValidPool(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("validated %d (valid %d, failed %d, errors %d, re-queued %d)",
		summary.Validated, summary.Valid, summary.Failed, summary.Errors, requeued), nil
}

func (s *Scheduler) runCleanup(ctx context.Context) (string, error) {
	removed, err := s.registry.CleanupStale(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("removed %d stale proxies", removed), nil
}

// runReport persists a statistics snapshot and refreshes the pool and
// lifecycle-analytics export files in the data directory. The
// analytics window matches the cleanup retention so the two views
// cover the same events.
func (s *Scheduler) runReport(ctx context.Context) (string, error) {
	stats, err := s.registry.Statistics(ctx)
	if err != nil {
		return "", err
	}
	valid, err := s.registry.ListByStatus(ctx, model.StatusValid, 0)
	if err != nil {
		return "", err
	}
	if err := report.ExportPool(model.NewPoolReport(valid), s.cfg.DataDir); err != nil {
		return "", err
	}

	window := time.Duration(s.cfg.CleanupMaxAgeDays) * 24 * time.Hour
	analytics, err := s.registry.Lifecycle().Analyze(ctx, time.Now().Add(-window))
	if err != nil {
		return "", err
	}
	if err := report.ExportAnalytics(analytics, s.cfg.DataDir); err != nil {
		return "", err
	}

	if err := s.checkValidPool(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("pool %d (valid %d, avg response %.2fs), %d lifecycle events, exported to %s",
		stats.Total, stats.ByStatus[model.StatusValid], stats.AvgResponseTime,
		analytics.TotalEvents, s.cfg.DataDir), nil
}

// checkValidPool raises a notification when the valid pool has shrunk
// below the configured minimum.
func (s *Scheduler) checkValidPool(ctx context.Context) error {
	if !s.cfg.NotifyOnLowValid {
		return nil
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to check valid pool size: %w", err)
	}
	valid := counts[model.StatusValid]
	if valid >= s.cfg.MinValidProxies {
		return nil
	}
	detail := fmt.Sprintf("valid pool has %d proxies, minimum is %d", valid, s.cfg.MinValidProxies)
	if err := s.notifier.Notify(ctx, "valid pool below minimum", detail); err != nil {
		s.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Scheduler) tryAcquire(task string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[task] {
		return false
	}
	s.running[task] = true
	return true
}

func (s *Scheduler) release(task string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[task] = false
}
