// Package metrics defines the Prometheus collectors for the approval workflow.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Workflow holds workflow counters.
type Workflow struct {
	Transitions          *prometheus.CounterVec
	Conflicts            *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
}

// NewWorkflow creates the collectors and registers them with reg.
func NewWorkflow(reg prometheus.Registerer, serviceName string) *Workflow {
	labels := prometheus.Labels{"service": serviceName}
	m := &Workflow{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "approval_transitions_total",
			Help:        "Successful workflow transitions by request kind and audit action.",
			ConstLabels: labels,
		}, []string{"kind", "action", "escalated"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "approval_version_conflicts_total",
			Help:        "Compare-and-swap writes that lost to a concurrent transition.",
			ConstLabels: labels,
		}, []string{"kind"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "approval_precondition_failures_total",
			Help:        "Transition attempts refused before any write, by reason.",
			ConstLabels: labels,
		}, []string{"kind", "reason"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "approval_notifications_sent_total",
			Help:        "Notification events handed to the notifier successfully.",
			ConstLabels: labels,
		}, []string{"event_type"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "approval_notification_failures_total",
			Help:        "Notification deliveries that failed and were dropped.",
			ConstLabels: labels,
		}, []string{"event_type"}),
	}

	reg.MustRegister(m.Transitions, m.Conflicts, m.Rejections, m.NotificationsSent, m.NotificationFailures)
	return m
}

// Transition records a committed transition.
func (m *Workflow) Transition(kind, action string, escalated bool) {
	m.Transitions.WithLabelValues(kind, action, strconv.FormatBool(escalated)).Inc()
}

// Conflict records a lost compare-and-swap.
func (m *Workflow) Conflict(kind string) {
	m.Conflicts.WithLabelValues(kind).Inc()
}

// Refused records a precondition failure.
func (m *Workflow) Refused(kind, reason string) {
	m.Rejections.WithLabelValues(kind, reason).Inc()
}

// NotificationSent records a delivered notification.
func (m *Workflow) NotificationSent(eventType string) {
	m.NotificationsSent.WithLabelValues(eventType).Inc()
}

// NotificationFailed records a dropped notification.
func (m *Workflow) NotificationFailed(eventType string) {
	m.NotificationFailures.WithLabelValues(eventType).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
