package scheduler

import (
	"context"
	"log/slog"
)

// Notifier receives operational alerts: job failures and a shrinking
// valid pool. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, subject, detail string) error
}

// LogNotifier writes alerts to a structured logger. It is the default
// notifier; deployments that want mail or chat hooks wrap their own.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger falls back to
// slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at warning level.
func (n *LogNotifier) Notify(_ context.Context, subject, detail string) error {
	n.logger.Warn("notification",
		slog.String("subject", subject), slog.String("detail", detail))
	return nil
}
