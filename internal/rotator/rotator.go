package rotator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nao1215/proxyscan/internal/config"
	"github.com/nao1215/proxyscan/internal/model"
)

// Failure kinds reported by callers through RecordFailure.
const (
	// FailureTimeout is a request that timed out through the proxy.
	FailureTimeout = "timeout"

	// FailureConnection is a refused or dropped connection.
	FailureConnection = "connection"

	// FailureBlocked is a target-side block (captcha, 403, rate limit).
	// A blocked proxy is demoted to temp-invalid immediately.
	FailureBlocked = "blocked"
)

// recentUseWindow is how long after a hand-out a proxy is penalized in
// candidate scoring, spreading load across the pool.
const recentUseWindow = time.Minute

// Store is the persistence the rotator needs: loading the valid pool
// and saving demotions.
type Store interface {
	ListByStatus(ctx context.Context, status model.Status, limit int) ([]*model.ProxyRecord, error)
	SaveProxy(ctx context.Context, record *model.ProxyRecord) error
}

// Rotator hands out proxies from the valid pool and tracks their
// request-level behavior. All methods are safe for concurrent use.
type Rotator struct {
	cfg    *config.Config
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	pool  map[string]*model.ProxyRecord
	stats map[string]*model.UsageStats

	currentKey string
	handOuts   int
	rotatedAt  time.Time

	now func() time.Time
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rotator) {
		r.logger = logger
	}
}

// New creates a Rotator over the given store. Call Refresh (or Next,
// which refreshes lazily) before handing out proxies.
func New(cfg *config.Config, store Store, opts ...Option) *Rotator {
	r := &Rotator{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
		pool:   make(map[string]*model.ProxyRecord),
		stats:  make(map[string]*model.UsageStats),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh reloads the valid pool from the store. Usage stats of
// proxies that left the pool are kept; the counters are cumulative for
// the process lifetime.
func (r *Rotator) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *Rotator) refreshLocked(ctx context.Context) error {
	records, err := r.store.ListByStatus(ctx, model.StatusValid, 0)
	if err != nil {
		return fmt.Errorf("failed to load valid pool: %w", err)
	}
	r.pool = make(map[string]*model.ProxyRecord, len(records))
	for _, record := range records {
		r.pool[record.Key()] = record
	}
	if _, ok := r.pool[r.currentKey]; !ok {
		r.currentKey = ""
	}
	r.logger.Debug("rotation pool refreshed", slog.Int("size", len(r.pool)))
	return nil
}

// Next returns the proxy to route the next request through. It keeps
// handing out the current proxy until a rotation condition is met,
// then switches to the best-scoring candidate. A nil record with a nil
// error means no candidate is worth using and the caller should
// connect directly.
func (r *Rotator) Next(ctx context.Context) (*model.ProxyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		if err := r.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}

	if r.currentKey != "" && !r.shouldRotate() {
		r.handOuts++
		return r.pool[r.currentKey], nil
	}

	best := r.selectLocked()
	if best == nil {
		r.currentKey = ""
		return nil, nil
	}
	if best.Key() != r.currentKey {
		r.logger.Debug("rotated proxy",
			slog.String("from", r.currentKey), slog.String("to", best.Key()))
	}
	r.currentKey = best.Key()
	r.rotatedAt = r.now()
	r.handOuts = 1
	return best, nil
}

// shouldRotate reports whether the current proxy has to be replaced:
// it served the configured number of requests, held the slot past the
// cooldown, accumulated too many consecutive failures, or left the
// pool.
func (r *Rotator) shouldRotate() bool {
	record, ok := r.pool[r.currentKey]
	if !ok || record == nil {
		return true
	}
	if r.handOuts >= r.cfg.RotationInterval {
		return true
	}
	if r.now().Sub(r.rotatedAt) > r.cfg.RotationCooldown {
		return true
	}
	if stats, ok := r.stats[r.currentKey]; ok &&
		stats.ConsecutiveFailures >= r.cfg.MaxConsecutiveFailures {
		return true
	}
	return false
}

// selectLocked returns the best-scoring pool candidate, or nil when no
// candidate scores above zero.
func (r *Rotator) selectLocked() *model.ProxyRecord {
	var best *model.ProxyRecord
	bestScore := 0.0
	for key, record := range r.pool {
		if score := r.scoreLocked(key, record); score > bestScore {
			best = record
			bestScore = score
		}
	}
	return best
}

// scoreLocked rates one candidate. Never-used proxies get a fixed
// fresh score so the pool cycles through newcomers; observed behavior
// takes over once a proxy has served requests.
func (r *Rotator) scoreLocked(key string, record *model.ProxyRecord) float64 {
	stats := r.stats[key]

	score := r.cfg.RotationFreshScore
	if stats != nil && stats.TotalRequests > 0 {
		score = stats.SuccessRate() * 100
	}
	if stats != nil {
		score -= 20 * float64(stats.ConsecutiveFailures)
		if !stats.LastUsed.IsZero() && r.now().Sub(stats.LastUsed) < recentUseWindow {
			score -= 30
		}
	}
	switch {
	case record.ResponseTime <= 0:
		// No measurement yet; no adjustment.
	case record.ResponseTime < 2:
		score += 20
	case record.ResponseTime < 5:
		score += 10
	default:
		score -= 10
	}
	return score
}

// RecordSuccess reports a request served successfully through the
// proxy. A positive responseTime updates the in-memory latency used
// for candidate scoring.
func (r *Rotator) RecordSuccess(key string, responseTime float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.statsLocked(key)
	stats.TotalRequests++
	stats.SuccessfulRequests++
	stats.ConsecutiveFailures = 0
	stats.LastUsed = r.now()

	if record, ok := r.pool[key]; ok && responseTime > 0 {
		record.ResponseTime = responseTime
	}
}

// RecordFailure reports a failed request through the proxy. A blocked
// proxy is demoted to temp-invalid at once; a proxy whose failure
// streak reaches the configured maximum is demoted to invalid. Demoted
// proxies leave the rotation pool immediately.
func (r *Rotator) RecordFailure(ctx context.Context, key, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.statsLocked(key)
	stats.TotalRequests++
	stats.FailedRequests++
	stats.ConsecutiveFailures++
	stats.LastUsed = r.now()
	if kind == FailureBlocked {
		stats.BlockedRequests++
	}

	record, ok := r.pool[key]
	if !ok {
		return nil
	}

	switch {
	case kind == FailureBlocked:
		// maxFailCount above any reachable streak keeps the demotion
		// at temp-invalid; the cooldown retry gives it another chance.
		return r.demoteLocked(ctx, record, math.MaxInt, kind)
	case stats.ConsecutiveFailures >= r.cfg.MaxConsecutiveFailures:
		// Force the terminal transition.
		return r.demoteLocked(ctx, record, record.FailCount+1, kind)
	default:
		return nil
	}
}

func (r *Rotator) demoteLocked(ctx context.Context, record *model.ProxyRecord, maxFailCount int, kind string) error {
	key := record.Key()
	if err := record.MarkFailure(r.now(), maxFailCount); err != nil {
		return fmt.Errorf("cannot demote proxy %s: %w", key, err)
	}
	if err := r.store.SaveProxy(ctx, record); err != nil {
		return fmt.Errorf("failed to save demoted proxy %s: %w", key, err)
	}
	delete(r.pool, key)
	if r.currentKey == key {
		r.currentKey = ""
	}
	r.logger.Info("demoted proxy",
		slog.String("proxy", key),
		slog.String("kind", kind),
		slog.String("status", record.Status.String()))
	return nil
}

// statsLocked returns the usage stats entry for key, creating it on
// first use.
func (r *Rotator) statsLocked(key string) *model.UsageStats {
	stats, ok := r.stats[key]
	if !ok {
		stats = &model.UsageStats{ProxyKey: key}
		r.stats[key] = stats
	}
	return stats
}

// UsageStats returns a copy of the usage stats for key, or nil when
// the proxy has never been used.
func (r *Rotator) UsageStats(key string) *model.UsageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.stats[key]
	if !ok {
		return nil
	}
	clone := *stats
	return &clone
}

// PoolSize returns the number of proxies currently in rotation.
func (r *Rotator) PoolSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}
