// Package metrics exposes saga and settlement counters for Prometheus.
//
// All recording methods are safe on a nil *Collector so components can run
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// Collector owns a private registry so several services can share a process in tests.
type Collector struct {
	registry *prometheus.Registry

	sagaOperations   *prometheus.CounterVec
	handlerMessages  *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	delayedPayments  *prometheus.CounterVec
	charges          *prometheus.CounterVec
	settlementCost   prometheus.Histogram
	statusTransition *prometheus.CounterVec
}

// NewCollector creates a collector for service, which is attached as a constant label.
func NewCollector(service string) *Collector {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	c := &Collector{
		registry: registry,
		sagaOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "solveq_saga_operations_total",
			Help:        "Commit-or-revert operations by outcome",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		handlerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "solveq_handler_messages_total",
			Help:        "Consumed messages by topic and outcome",
			ConstLabels: labels,
		}, []string{"topic", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "solveq_settlements_total",
			Help:        "Result settlements by outcome (charged, locked)",
			ConstLabels: labels,
		}, []string{"outcome"}),
		delayedPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "solveq_delayed_payments_total",
			Help:        "Delayed payment attempts by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "solveq_credit_charges_total",
			Help:        "Charge requests processed by the credit service",
			ConstLabels: labels,
		}, []string{"outcome"}),
		settlementCost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "solveq_settlement_cost_credits",
			Help:        "Cost of settled executions in credits",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		statusTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "solveq_problem_transitions_total",
			Help:        "Persisted problem status transitions",
			ConstLabels: labels,
		}, []string{"from", "to"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.sagaOperations,
		c.handlerMessages,
		c.settlements,
		c.delayedPayments,
		c.charges,
		c.settlementCost,
		c.statusTransition,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordSaga(operation, outcome string) {
	if c == nil {
		return
	}
	c.sagaOperations.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) RecordMessage(topic, outcome string) {
	if c == nil {
		return
	}
	c.handlerMessages.WithLabelValues(topic, outcome).Inc()
}

func (c *Collector) RecordSettlement(outcome string, cost int64) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(outcome).Inc()
	c.settlementCost.Observe(float64(cost))
}

func (c *Collector) RecordDelayedPayment(outcome string) {
	if c == nil {
		return
	}
	c.delayedPayments.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordCharge(outcome string) {
	if c == nil {
		return
	}
	c.charges.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.statusTransition.WithLabelValues(from, to).Inc()
}
