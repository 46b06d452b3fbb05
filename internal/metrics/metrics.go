// Package metrics registers the Prometheus instruments for the workflow
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine counters. A nil *Metrics is safe to call.
type Metrics struct {
	workflowsCreated prometheus.Counter
	stepsApproved    prometheus.Counter
	stepsRejected    prometheus.Counter
	guardFailures    prometheus.Counter
}

// New registers the counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		workflowsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "esg_workflows_created_total",
			Help: "Approval workflows created.",
		}),
		stepsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "esg_steps_approved_total",
			Help: "Approval steps approved.",
		}),
		stepsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "esg_steps_rejected_total",
			Help: "Approval steps rejected.",
		}),
		guardFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "esg_workflow_guard_failures_total",
			Help: "Approve/reject calls refused by a level or terminal-state guard.",
		}),
	}
}

func (m *Metrics) WorkflowCreated() {
	if m != nil {
		m.workflowsCreated.Inc()
	}
}

func (m *Metrics) StepApproved() {
	if m != nil {
		m.stepsApproved.Inc()
	}
}

func (m *Metrics) StepRejected() {
	if m != nil {
		m.stepsRejected.Inc()
	}
}

func (m *Metrics) GuardFailure() {
	if m != nil {
		m.guardFailures.Inc()
	}
}
