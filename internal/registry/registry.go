package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/database"
	"github.com/nao1215/proxyscan/internal/lifecycle"
	"github.com/nao1215/proxyscan/internal/model"
	"github.com/nao1215/proxyscan/internal/source"
	"github.com/nao1215/proxyscan/internal/validator"
)

// Validator runs a full validation pass on one record.
type Validator interface {
	Validate(ctx context.Context, record *model.ProxyRecord) (*model.ComprehensiveResult, error)
}

// Registry coordinates the proxy pool: fetching from sources, batch
// validation, retry re-queueing, and statistics.
type Registry struct {
	cfg       *config.Config
	store     *database.Store
	fetchers  []source.Fetcher
	validator Validator
	lifecycle *lifecycle.Manager
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFetchers overrides the fetchers built from the configured
// sources.
func WithFetchers(fetchers []source.Fetcher) Option {
	return func(r *Registry) {
		r.fetchers = fetchers
	}
}

// WithValidator overrides the default comprehensive validator.
func WithValidator(v Validator) Option {
	return func(r *Registry) {
		r.validator = v
	}
}

// New creates a Registry over the given store. Fetchers default to one
// per configured source; sources that fail to construct are skipped
// with a warning.
func New(cfg *config.Config, store *database.Store, opts ...Option) *Registry {
	r := &Registry{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validator == nil {
		r.validator = validator.NewComprehensive(cfg, validator.WithLogger(r.logger))
	}
	if r.lifecycle == nil {
		r.lifecycle = lifecycle.NewManager(store, lifecycle.WithLogger(r.logger))
	}
	if r.fetchers == nil {
		for _, src := range cfg.Sources {
			fetcher, err := source.New(src, source.WithUserAgent(cfg.UserAgent))
			if err != nil {
				r.logger.Warn("skipping misconfigured source",
					slog.String("source", src.Name), slog.String("error", err.Error()))
				continue
			}
			r.fetchers = append(r.fetchers, fetcher)
		}
	}
	return r
}

// Lifecycle exposes the registry's lifecycle manager so callers can
// share its event log and analytics.
func (r *Registry) Lifecycle() *lifecycle.Manager { return r.lifecycle }

// FetchSummary reports the outcome of one fetch pass.
type FetchSummary struct {
	// Fetched is the total number of records the sources produced.
	Fetched int `json:"fetched"`

	// New is how many records entered the pool for the first time.
	New int `json:"new"`

	// Duplicates counts records already known to the pool, including
	// duplicates across sources within the same pass.
	Duplicates int `json:"duplicates"`

	// SourceErrors is how many sources failed entirely.
	SourceErrors int `json:"source_errors"`
}

// FetchFromSources pulls candidate records from every source in
// parallel and upserts them into the pool. A failing source is logged
// and skipped; the pass only fails when every source fails.
func (r *Registry) FetchFromSources(ctx context.Context) (*FetchSummary, error) {
	if len(r.fetchers) == 0 {
		return nil, fmt.Errorf("no proxy sources configured")
	}

	summary := &FetchSummary{}
	var mu sync.Mutex
	var fetched []*model.ProxyRecord

	g, gctx := errgroup.WithContext(ctx)
	for _, fetcher := range r.fetchers {
		g.Go(func() error {
			records, err := fetcher.Fetch(gctx)
			if err != nil {
				r.logger.Warn("source fetch failed",
					slog.String("source", fetcher.Name()), slog.String("error", err.Error()))
				mu.Lock()
				summary.SourceErrors++
				mu.Unlock()
				return nil
			}
			r.logger.Debug("source fetch finished",
				slog.String("source", fetcher.Name()), slog.Int("records", len(records)))
			mu.Lock()
			fetched = append(fetched, records...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if summary.SourceErrors == len(r.fetchers) {
		return nil, fmt.Errorf("all %d proxy sources failed", len(r.fetchers))
	}

	summary.Fetched = len(fetched)

	seen := make(map[string]struct{}, len(fetched))
	stored := 0
	for _, record := range fetched {
		if stored >= r.cfg.MaxProxiesPerFetch {
			break
		}
		key := record.Key()
		if _, dup := seen[key]; dup {
			summary.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		inserted, err := r.store.UpsertProxy(ctx, record)
		if err != nil {
			return summary, fmt.Errorf("failed to store fetched proxy %s: %w", key, err)
		}
		stored++
		if inserted {
			summary.New++
			r.lifecycle.LogFetched(ctx, record)
		} else {
			summary.Duplicates++
		}
	}

	r.logger.Info("fetch pass finished",
		slog.Int("fetched", summary.Fetched),
		slog.Int("new", summary.New),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("source_errors", summary.SourceErrors))
	return summary, nil
}

// ValidationSummary reports the outcome of one validation pass.
type ValidationSummary struct {
	// Validated is how many records completed a validation pass.
	Validated int `json:"validated"`

	// Valid is how many of those were marked valid.
	Valid int `json:"valid"`

	// Failed is how many were marked temp-invalid or invalid.
	Failed int `json:"failed"`

	// Errors is how many records could not be validated at all.
	Errors int `json:"errors"`
}

// minimum overall score for a connectable proxy to count as valid.
const validScoreThreshold = 50.0

// ValidateBatch validates one batch of untested records concurrently
// and persists the verdicts. A record that errors out is logged and
// skipped; the pass itself only fails on storage errors.
func (r *Registry) ValidateBatch(ctx context.Context) (*ValidationSummary, error) {
	records, err := r.store.ListByStatus(ctx, model.StatusUntested, r.cfg.ValidationBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load validation batch: %w", err)
	}

	summary := &ValidationSummary{}
	if len(records) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrentValidations)

	for _, record := range records {
		g.Go(func() error {
			result, err := r.validator.Validate(gctx, record)
			if err != nil {
				r.logger.Warn("validation error",
					slog.String("proxy", record.Key()), slog.String("error", err.Error()))
				mu.Lock()
				summary.Errors++
				mu.Unlock()
				return nil
			}

			previous := record.Status
			now := time.Now()
			if result.Connectivity.Passed() && result.OverallScore >= validScoreThreshold {
				responseTime := result.Connectivity.HTTPTime
				if responseTime <= 0 {
					responseTime = result.Connectivity.HTTPSTime
				}
				if err := record.MarkSuccess(responseTime, now); err != nil {
					r.logger.Warn("cannot mark success",
						slog.String("proxy", record.Key()), slog.String("error", err.Error()))
				}
			} else {
				if err := record.MarkFailure(now, r.cfg.MaxFailCount); err != nil {
					r.logger.Warn("cannot mark failure",
						slog.String("proxy", record.Key()), slog.String("error", err.Error()))
				}
			}

			// The store serializes writes; keep validation itself
			// outside the lock.
			mu.Lock()
			defer mu.Unlock()
			if err := r.store.SaveProxy(ctx, record); err != nil {
				return fmt.Errorf("failed to save proxy %s: %w", record.Key(), err)
			}
			if err := r.store.SaveResult(ctx, result); err != nil {
				return fmt.Errorf("failed to save result for %s: %w", record.Key(), err)
			}
			r.lifecycle.LogValidated(ctx, record, previous, result.OverallScore)

			summary.Validated++
			if record.Status == model.StatusValid {
				summary.Valid++
			} else {
				summary.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	r.logger.Info("validation pass finished",
		slog.Int("validated", summary.Validated),
		slog.Int("valid", summary.Valid),
		slog.Int("failed", summary.Failed),
		slog.Int("errors", summary.Errors))
	return summary, nil
}

// RetryTempInvalid re-queues temp-invalid records whose cooldown has
// elapsed as untested. It returns how many records were re-queued.
// The pass is a no-op when retrying is disabled in the configuration.
func (r *Registry) RetryTempInvalid(ctx context.Context) (int, error) {
	if !r.cfg.RetryInvalidProxies {
		r.logger.Debug("temp-invalid retry pass disabled")
		return 0, nil
	}

	now := time.Now()
	records, err := r.store.ListRetryEligible(ctx, now.Add(-r.cfg.TempInvalidRetry), r.cfg.ValidationBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load retry candidates: %w", err)
	}

	requeued := 0
	for _, record := range records {
		if !record.RetryEligible(now, r.cfg.TempInvalidRetry) {
			continue
		}
		if err := record.MarkRetry(); err != nil {
			r.logger.Warn("cannot retry proxy",
				slog.String("proxy", record.Key()), slog.String("error", err.Error()))
			continue
		}
		if err := r.store.SaveProxy(ctx, record); err != nil {
			return requeued, fmt.Errorf("failed to save proxy %s: %w", record.Key(), err)
		}
		r.lifecycle.LogRetried(ctx, record)
		requeued++
	}

	if requeued > 0 {
		r.logger.Info("re-queued temp-invalid proxies", slog.Int("count", requeued))
	}
	return requeued, nil
}

// CleanupStale removes records whose last activity is older than the
// configured maximum age.
func (r *Registry) CleanupStale(ctx context.Context) (int, error) {
	maxAge := time.Duration(r.cfg.CleanupMaxAgeDays) * 24 * time.Hour
	return r.lifecycle.CleanupOlderThan(ctx, maxAge)
}

// ListByStatus returns pool records in the given status, newest tested
// first.
func (r *Registry) ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.ProxyRecord, error) {
	return r.store.ListByStatus(ctx, status, limit)
}
