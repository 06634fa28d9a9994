// Package metrics exposes the provisioning service's Prometheus
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's collectors. One instance is shared by the
// consumer and the orchestrator.
type Metrics struct {
	// ProvisionAttempts counts provisioning runs by operation
	// (up/destroy) and outcome (success/failure).
	ProvisionAttempts *prometheus.CounterVec

	// NotifyFailures counts outcome events that could not be published.
	NotifyFailures prometheus.Counter

	// MessagesProcessed counts consumed queue messages by result
	// (handled/failed/rejected).
	MessagesProcessed *prometheus.CounterVec
}

// New registers the service collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProvisionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_infra_provision_attempts_total",
			Help: "Provisioning runs by operation and outcome.",
		}, []string{"operation", "outcome"}),
		NotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenant_infra_notify_failures_total",
			Help: "Outcome events that could not be published.",
		}),
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenant_infra_messages_processed_total",
			Help: "Consumed queue messages by result.",
		}, []string{"result"}),
	}
}
