// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the orchestrator.
//
// # Description
//
// Prometheus metrics cover the conversation turn lifecycle:
//   - Turn counters by outcome and state transition counters
//   - Latency histograms for the whole turn, retrieval, and composition
//   - Citation and redaction counters from the composer
//   - Access gate decisions and store operation outcomes
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "truthwindow"

const conversationSubsystem = "conversation"

// Metrics holds every Prometheus collector the service records to.
//
// # Fields
//
//   - TurnsTotal: Finished turns by outcome (done, or the error kind).
//   - StateTransitions: Turn state machine transitions by from/to state.
//   - TurnDuration: Wall time of a whole turn by outcome.
//   - RetrievalDuration: Wall time of the retrieval step.
//   - CompositionDuration: Wall time of the composition step.
//   - CitationsDropped: Citation markers removed for lack of a passage.
//   - Redactions: Sensitive matches removed from answers.
//   - GateDecisions: Access gate outcomes by decision and reason.
//   - StoreOps: Session store operations by op and result.
type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	RetrievalDuration   prometheus.Histogram
	CompositionDuration prometheus.Histogram
	CitationsDropped    prometheus.Counter
	Redactions          prometheus.Counter
	GateDecisions       *prometheus.CounterVec
	StoreOps            *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg.
//
// # Description
//
// Production passes prometheus.DefaultRegisterer; tests pass a fresh
// prometheus.NewRegistry() so each test gets isolated counters. A nil reg
// creates unregistered collectors.
//
// # Limitations
//
//   - Panics if the same registerer is used twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "turns_total",
				Help:      "Finished conversation turns by outcome",
			},
			[]string{"outcome"},
		),

		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "turn_state_transitions_total",
				Help:      "Turn state machine transitions",
			},
			[]string{"from", "to"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Wall time of a conversation turn",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		RetrievalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Wall time of passage retrieval including retries",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		CompositionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "composition_duration_seconds",
				Help:      "Wall time of answer composition",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),

		CitationsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "citations_dropped_total",
				Help:      "Citation markers removed because no passage matched",
			},
		),

		Redactions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "redactions_total",
				Help:      "Sensitive patterns redacted from answers",
			},
		),

		GateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Access gate decisions by outcome and reason",
			},
			[]string{"decision", "reason"},
		),

		StoreOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Session store operations by op and result",
			},
			[]string{"op", "result"},
		),
	}
}

// =============================================================================
// Outcomes
// =============================================================================

// Outcome labels a finished turn.
type Outcome string

const (
	OutcomeDone                 Outcome = "done"
	OutcomeValidation           Outcome = "validation"
	OutcomeNotFound             Outcome = "not_found"
	OutcomeRetrievalUnavailable Outcome = "retrieval_unavailable"
	OutcomeCompositionTimeout   Outcome = "composition_timeout"
	OutcomeCompositionUpstream  Outcome = "composition_upstream"
	OutcomePersistence          Outcome = "persistence"
	OutcomeInternal             Outcome = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTransition counts one state machine transition.
func (m *Metrics) RecordTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTurn records a finished turn and its duration.
func (m *Metrics) RecordTurn(outcome Outcome, d time.Duration) {
	m.TurnsTotal.WithLabelValues(string(outcome)).Inc()
	m.TurnDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

// RecordRetrieval observes retrieval latency.
func (m *Metrics) RecordRetrieval(d time.Duration) {
	m.RetrievalDuration.Observe(d.Seconds())
}

// RecordComposition observes composition latency and composer counters.
func (m *Metrics) RecordComposition(d time.Duration, droppedCitations, redactions int) {
	m.CompositionDuration.Observe(d.Seconds())
	if droppedCitations > 0 {
		m.CitationsDropped.Add(float64(droppedCitations))
	}
	if redactions > 0 {
		m.Redactions.Add(float64(redactions))
	}
}

// RecordGateDecision counts one access gate decision.
func (m *Metrics) RecordGateDecision(allowed bool, reason string) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}
	m.GateDecisions.WithLabelValues(decision, reason).Inc()
}

// RecordStoreOp counts one store operation.
func (m *Metrics) RecordStoreOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreOps.WithLabelValues(op, result).Inc()
}
