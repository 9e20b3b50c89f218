package service

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

const defaultNotifyTimeout = 10 * time.Second

// NotificationDispatcher delivers notifications off the request path. Role
// targets are expanded to their members before delivery. Failures are logged
// and counted, never retried.
type NotificationDispatcher struct {
	notifier workflow.Notifier
	roles    workflow.RoleDirectory
	metrics  *metrics.Workflow
	log      *logger.Logger
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotificationDispatcher creates a dispatcher. A zero timeout means 10s.
func NewNotificationDispatcher(
	notifier workflow.Notifier,
	roles workflow.RoleDirectory,
	m *metrics.Workflow,
	timeout time.Duration,
	log *logger.Logger,
) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &NotificationDispatcher{
		notifier: notifier,
		roles:    roles,
		metrics:  m,
		log:      log,
		timeout:  timeout,
	}
}

// Dispatch delivers notes in the background and returns immediately.
func (d *NotificationDispatcher) Dispatch(notes []workflow.Notification) {
	if len(notes) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		for _, n := range notes {
			d.metrics.NotificationFailed(n.EventType)
			d.log.Warn().Str("request_id", n.RequestID).Str("event_type", n.EventType).Msg("Dispatcher closed; notification dropped")
		}
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		// Detached from the request context, which ends with the response.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		for _, n := range notes {
			d.deliver(ctx, n)
		}
	}()
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n workflow.Notification) {
	recipients, err := d.recipients(ctx, n.Target)
	if err != nil {
		d.metrics.NotificationFailed(n.EventType)
		d.log.Warn().Err(err).
			Str("request_id", n.RequestID).
			Str("role", n.Target.Role).
			Msg("Could not resolve notification recipients")
		return
	}
	if len(recipients) == 0 {
		d.metrics.NotificationFailed(n.EventType)
		d.log.Warn().
			Str("request_id", n.RequestID).
			Str("event_type", n.EventType).
			Str("role", n.Target.Role).
			Msg("No recipients for notification")
		return
	}

	if err := d.notifier.Notify(ctx, n, recipients); err != nil {
		d.metrics.NotificationFailed(n.EventType)
		d.log.Warn().Err(err).
			Str("request_id", n.RequestID).
			Str("event_type", n.EventType).
			Msg("Failed to deliver notification")
		return
	}
	d.metrics.NotificationSent(n.EventType)
}

func (d *NotificationDispatcher) recipients(ctx context.Context, t workflow.Target) ([]string, error) {
	if t.UserID != "" {
		return []string{t.UserID}, nil
	}
	return d.roles.MembersOf(ctx, t.Role)
}

// Wait blocks until every dispatched batch has been delivered.
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting batches and waits for in-flight ones until ctx ends.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
