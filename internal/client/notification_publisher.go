package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

// SubjectPrefix is prepended to every event type to form the NATS subject.
const SubjectPrefix = "notifications.approvals."

// Publisher sends raw messages. *nats.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes workflow notifications to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: <kind>_approval_required, <kind>_<terminal_action>, <kind>_rejected
type NotificationPublisher struct {
	pub Publisher
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by pub.
func NewNotificationPublisher(pub Publisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{pub: pub, log: log}
}

// Notify publishes one event addressed to recipients. Role targets become
// actionable events; owner updates are informational.
func (p *NotificationPublisher) Notify(ctx context.Context, n workflow.Notification, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	actionable := n.Target.Role != ""
	severity := "info"
	if n.State == workflow.StateRejected {
		severity = "warning"
	}
	payload := map[string]any{
		"kind":   n.Kind,
		"title":  n.Title,
		"amount": n.Amount,
		"state":  string(n.State),
	}
	if n.Target.Role != "" {
		payload["role"] = n.Target.Role
	}

	data, err := json.Marshal(&NotificationEvent{
		EventType:    n.EventType,
		ActorID:      n.ActorID,
		Recipients:   recipients,
		ResourceType: n.Kind,
		ResourceID:   n.RequestID,
		IsActionable: actionable,
		Severity:     severity,
		Category:     "approvals",
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := SubjectPrefix + n.EventType
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		return err
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", n.RequestID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
	return nil
}

// LogNotifier writes notifications to the log instead of a broker. It is
// used when no NATS URL is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n workflow.Notification, recipients []string) error {
	l.log.Info().
		Str("event_type", n.EventType).
		Str("request_id", n.RequestID).
		Strs("recipients", recipients).
		Msg("notification: broker disabled, logged only")
	return nil
}

var (
	_ workflow.Notifier = (*NotificationPublisher)(nil)
	_ workflow.Notifier = (*LogNotifier)(nil)
)
