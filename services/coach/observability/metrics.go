// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the coaching service.
//
// # Description
//
// Metrics cover the streaming coach exchange (requests, tokens, latency,
// active streams, errors), framework-state write conflicts, research
// captures, artefact parse outcomes and dropped analytics events.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics, so handlers built without
// metrics need no guards.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "frontera"

const coachSubsystem = "coach"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// RequestsTotal counts exchanges by endpoint and status (success, error).
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts tokens by direction (input, output) and agent type.
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first streamed byte.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total exchange duration.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks responses currently streaming.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by endpoint and error_code.
	ErrorsTotal *prometheus.CounterVec

	// StateConflictsTotal counts optimistic-concurrency conflicts on the
	// framework state by outcome (retried, exhausted).
	StateConflictsTotal *prometheus.CounterVec

	// CapturesTotal counts research captures by source (tool, marker).
	CapturesTotal *prometheus.CounterVec

	// ArtefactsTotal counts generated artefacts by type and outcome
	// (structured, incomplete, raw).
	ArtefactsTotal *prometheus.CounterVec

	// AnalyticsDroppedTotal counts analytics events dropped by the sink.
	AnalyticsDroppedTotal prometheus.Counter
}

var (
	// DefaultMetrics is registered with the default Prometheus registry by
	// InitMetrics.
	DefaultMetrics *Metrics
	initOnce       sync.Once
)

// InitMetrics registers DefaultMetrics with the default registry. Later
// calls return the same instance.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewMetrics creates and registers collectors with reg.
//
// # Limitations
//
//   - Panics on duplicate registration with the same registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "requests_total",
				Help:      "Total number of coaching exchanges by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and agent type",
			},
			[]string{"direction", "agent_type"},
		),

		TimeToFirstTokenSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total exchange duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "active_streams",
				Help:      "Number of responses currently streaming",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		StateConflictsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "state_conflicts_total",
				Help:      "Framework state version conflicts by outcome",
			},
			[]string{"outcome"},
		),

		CapturesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "research_captures_total",
				Help:      "Research answers captured from model output by source",
			},
			[]string{"source"},
		),

		ArtefactsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coachSubsystem,
				Name:      "artefacts_total",
				Help:      "Generated artefacts by type and parse outcome",
			},
			[]string{"type", "outcome"},
		),

		AnalyticsDroppedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "analytics",
				Name:      "dropped_total",
				Help:      "Analytics events dropped because the buffer was full or closed",
			},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeLLMError         ErrorCode = "llm_error"
	ErrorCodeStorage          ErrorCode = "storage"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint labels an instrumented route.
type Endpoint string

const (
	EndpointMessages   Endpoint = "messages"
	EndpointArtefacts  Endpoint = "artefacts"
	EndpointSynthesis  Endpoint = "synthesis"
	EndpointSuggestion Endpoint = "coach_suggestion"
)

// =============================================================================
// Helper Methods
// =============================================================================

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status(success)).Inc()
}

// RecordError records an error by code.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokens records token usage for one exchange.
func (m *Metrics) RecordTokens(inputTokens, outputTokens int, agentType string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", agentType).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", agentType).Add(float64(outputTokens))
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records first-token latency in seconds.
func (m *Metrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records total duration in seconds.
func (m *Metrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status(success)).Observe(seconds)
}

// RecordStateConflict records a framework-state conflict. exhausted is true
// when retries ran out and the state update was abandoned.
func (m *Metrics) RecordStateConflict(exhausted bool) {
	if m == nil {
		return
	}
	outcome := "retried"
	if exhausted {
		outcome = "exhausted"
	}
	m.StateConflictsTotal.WithLabelValues(outcome).Inc()
}

// RecordCaptures records n research captures from source.
func (m *Metrics) RecordCaptures(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CapturesTotal.WithLabelValues(source).Add(float64(n))
}

// RecordArtefact records how an artefact completion parsed.
func (m *Metrics) RecordArtefact(artefactType string, structured bool, missing int) {
	if m == nil {
		return
	}
	outcome := "structured"
	switch {
	case !structured:
		outcome = "raw"
	case missing > 0:
		outcome = "incomplete"
	}
	m.ArtefactsTotal.WithLabelValues(artefactType, outcome).Inc()
}

// RecordAnalyticsDrop increments the dropped analytics counter.
func (m *Metrics) RecordAnalyticsDrop() {
	if m == nil {
		return
	}
	m.AnalyticsDroppedTotal.Inc()
}
