package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/proxyscan/internal/database"
	"github.com/nao1215/proxyscan/internal/model"
)

// Manager records lifecycle events and runs age-based cleanup.
//
// Design decision: Event recording never fails the caller. The event
// log is observability, not bookkeeping the pool depends on; a proxy
// validation must not be rolled back because an audit row could not be
// written. Failures are logged and dropped.
type Manager struct {
	// store persists the event log and the proxy records.
	store *database.Store

	// logger receives recording failures and cleanup progress.
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a lifecycle manager backed by the given store.
func NewManager(store *database.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LogEvent appends one event to the log. Errors are swallowed after
// logging; see the Manager doc.
func (m *Manager) LogEvent(ctx context.Context, event *model.LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := m.store.InsertLifecycleEvent(ctx, event); err != nil {
		m.logger.Warn("failed to record lifecycle event",
			"proxy", event.ProxyKey, "kind", string(event.Kind), "error", err)
	}
}

// LogFetched records a new record entering the pool from a source.
func (m *Manager) LogFetched(ctx context.Context, record *model.ProxyRecord) {
	m.LogEvent(ctx, &model.LifecycleEvent{
		ProxyKey: record.Key(),
		Kind:     model.EventFetched,
		Details: map[string]any{
			"source":   record.Source,
			"protocol": record.Protocol.String(),
		},
	})
}

// LogValidated records a completed validation pass of a record, plus
// the status transition event when the status changed.
func (m *Manager) LogValidated(ctx context.Context, record *model.ProxyRecord, previous model.Status, score float64) {
	m.LogEvent(ctx, &model.LifecycleEvent{
		ProxyKey:       record.Key(),
		Kind:           model.EventValidated,
		PreviousStatus: previous,
		NewStatus:      record.Status,
		Details: map[string]any{
			"source":   record.Source,
			"protocol": record.Protocol.String(),
			"score":    score,
		},
	})

	if kind, ok := model.TransitionEvent(previous, record.Status); ok {
		m.LogEvent(ctx, &model.LifecycleEvent{
			ProxyKey:       record.Key(),
			Kind:           kind,
			PreviousStatus: previous,
			NewStatus:      record.Status,
			Details: map[string]any{
				"source":   record.Source,
				"protocol": record.Protocol.String(),
			},
		})
	}
}

// LogRetried records a temp-invalid record being re-queued as untested.
func (m *Manager) LogRetried(ctx context.Context, record *model.ProxyRecord) {
	m.LogEvent(ctx, &model.LifecycleEvent{
		ProxyKey:       record.Key(),
		Kind:           model.EventRetried,
		PreviousStatus: model.StatusTempInvalid,
		NewStatus:      model.StatusUntested,
	})
}

// CleanupOlderThan removes records whose last activity is older than
// maxAge and logs a cleanup event per removed record. It returns how
// many records were removed.
func (m *Manager) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	keys, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		m.LogEvent(ctx, &model.LifecycleEvent{
			ProxyKey: key,
			Kind:     model.EventCleanedUp,
			Details:  map[string]any{"max_age_hours": maxAge.Hours()},
		})
	}

	m.logger.Info("cleanup finished", "removed", len(keys), "cutoff", cutoff)
	return len(keys), nil
}
