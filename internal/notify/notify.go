// Package notify defines the outbound notification contract used by workflow
// notification steps. Delivery is fire-and-forget from the engine's point of
// view; the collaborator owns channels, templates and recipients.
package notify

import (
	"context"
	"time"

	"b2b-reconciliation-engine/pkg/logger"

	"github.com/pkg/errors"
)

// Event is one notification payload addressed to a set of roles.
type Event struct {
	WorkflowID string            `json:"workflow_id"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Roles      []string          `json:"roles"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers events to the external notification system.
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log. It is the default sink
// for CLI runs and tests, where no delivery system is wired.
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.GetGlobalLogger().WithComponent("notify")}
}

// Notify implements Notifier.
func (ln *LogNotifier) Notify(ctx context.Context, event Event) error {
	ln.logger.WithFields(map[string]interface{}{
		"workflow_id": event.WorkflowID,
		"kind":        event.Kind,
		"roles":       event.Roles,
	}).Info(event.Message)
	return nil
}

// RetryConfig bounds the delivery retry loop.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryConfig retries twice after the initial attempt with a short
// linear backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 200 * time.Millisecond}
}

// NotifyWithRetry delivers the event, retrying transient failures up to the
// configured attempt count. Context cancellation stops the loop early.
func NotifyWithRetry(ctx context.Context, n Notifier, event Event, cfg RetryConfig) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = n.Notify(ctx, event)
		if lastErr == nil {
			return nil
		}

		if attempt < cfg.Attempts {
			select {
			case <-time.After(time.Duration(attempt) * cfg.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return errors.Wrapf(lastErr, "notification failed after %d attempts", cfg.Attempts)
}
