package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	workflowMetricsOnce sync.Once
	workflowRegistry    *WorkflowMetrics
)

// LedgerMetrics wraps collectors tracking gateway traffic against the node.
type LedgerMetrics struct {
	reads        *prometheus.CounterVec
	readLatency  *prometheus.HistogramVec
	writes       *prometheus.CounterVec
	confirmation *prometheus.HistogramVec
}

// Ledger returns the lazily-initialised ledger gateway metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			reads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "ledger",
				Name:      "reads_total",
				Help:      "Contract reads segmented by contract, method, and outcome.",
			}, []string{"contract", "method", "outcome"}),
			readLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendvault",
				Subsystem: "ledger",
				Name:      "read_duration_seconds",
				Help:      "Latency distribution for contract reads.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"contract"}),
			writes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "ledger",
				Name:      "writes_total",
				Help:      "Transaction submissions segmented by contract, method, and outcome.",
			}, []string{"contract", "method", "outcome"}),
			confirmation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendvault",
				Subsystem: "ledger",
				Name:      "confirmation_wait_seconds",
				Help:      "Time spent waiting for transaction confirmation segmented by outcome.",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.reads,
			ledgerRegistry.readLatency,
			ledgerRegistry.writes,
			ledgerRegistry.confirmation,
		)
	})
	return ledgerRegistry
}

// ObserveRead records a contract read.
func (m *LedgerMetrics) ObserveRead(contract, method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	contract = label(contract)
	m.reads.WithLabelValues(contract, label(method), label(outcome)).Inc()
	m.readLatency.WithLabelValues(contract).Observe(d.Seconds())
}

// ObserveWrite records a transaction submission attempt.
func (m *LedgerMetrics) ObserveWrite(contract, method, outcome string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(label(contract), label(method), label(outcome)).Inc()
}

// ObserveConfirmation records how long a confirmation wait took.
func (m *LedgerMetrics) ObserveConfirmation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmation.WithLabelValues(label(outcome)).Observe(d.Seconds())
}

// WorkflowMetrics bundles collectors for transaction workflows.
type WorkflowMetrics struct {
	outcomes    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
}

// Workflow returns the lazily-initialised workflow metrics registry.
func Workflow() *WorkflowMetrics {
	workflowMetricsOnce.Do(func() {
		workflowRegistry = &WorkflowMetrics{
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "workflow",
				Name:      "outcomes_total",
				Help:      "Terminal workflow outcomes segmented by action and reason.",
			}, []string{"action", "outcome", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendvault",
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "End-to-end workflow latency including confirmation waits.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			}, []string{"action"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "workflow",
				Name:      "transitions_total",
				Help:      "Workflow state transitions segmented by action and entered state.",
			}, []string{"action", "state"}),
		}
		prometheus.MustRegister(
			workflowRegistry.outcomes,
			workflowRegistry.latency,
			workflowRegistry.transitions,
		)
	})
	return workflowRegistry
}

// ObserveOutcome records a terminal workflow outcome. Reason should be empty
// for successes.
func (m *WorkflowMetrics) ObserveOutcome(action, reason string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if strings.TrimSpace(reason) != "" {
		outcome = "failure"
	} else {
		reason = "none"
	}
	m.outcomes.WithLabelValues(label(action), outcome, reason).Inc()
	m.latency.WithLabelValues(label(action)).Observe(d.Seconds())
}

// RecordTransition counts a workflow entering state.
func (m *WorkflowMetrics) RecordTransition(action, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(action), label(state)).Inc()
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
