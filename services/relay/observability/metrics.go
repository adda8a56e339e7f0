// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the relay.
//
// # Description
//
// Metrics cover the whole request pipeline:
//   - Request counters (by endpoint and status)
//   - Enrichment outcomes (enriched, degraded, skipped) and gate verdicts
//   - Retrieval latency and cache hits
//   - Stream latency (time to first delta, total duration), deltas and keep-alives
//
// # Integration
//
// Metrics are exposed on /metrics. Handlers read DefaultMetrics and treat a
// nil value as "metrics disabled".
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "ella"
	relaySubsystem   = "relay"
)

// RelayMetrics holds all Prometheus metrics emitted by the relay.
//
// # Description
//
// Create with NewRelayMetrics for an explicit registry (tests) or InitMetrics
// for the process-wide default registry.
//
// # Thread Safety
//
// All operations are thread-safe.
type RelayMetrics struct {
	// RequestsTotal counts chat requests.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts failures by category.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// EnrichmentTotal counts enrichment outcomes.
	// Labels: outcome (enriched, degraded, skipped)
	EnrichmentTotal *prometheus.CounterVec

	// GateDecisionsTotal counts relevance gate verdicts.
	// Labels: relevant (true, false)
	GateDecisionsTotal *prometheus.CounterVec

	// RetrievalDurationSeconds measures semantic index latency.
	// Labels: backend
	RetrievalDurationSeconds *prometheus.HistogramVec

	// RetrievalCacheTotal counts retrieval cache lookups.
	// Labels: result (hit, miss)
	RetrievalCacheTotal *prometheus.CounterVec

	// DeltasTotal counts token frames forwarded downstream.
	// Labels: endpoint
	DeltasTotal *prometheus.CounterVec

	// TimeToFirstDeltaSeconds measures latency to the first token frame.
	// Labels: endpoint
	TimeToFirstDeltaSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open downstream streams.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// KeepAlivesTotal counts keep-alive comments sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts streams cancelled by the client.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance. Nil until InitMetrics runs.
var DefaultMetrics *RelayMetrics

// InitMetrics registers the relay metrics on the default Prometheus
// registry and stores them in DefaultMetrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *RelayMetrics {
	DefaultMetrics = NewRelayMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewRelayMetrics creates and registers all metrics on reg.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	return &RelayMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		EnrichmentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "enrichment_total",
				Help:      "Enrichment outcomes per request",
			},
			[]string{"outcome"},
		),
		GateDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "gate_decisions_total",
				Help:      "Relevance gate verdicts",
			},
			[]string{"relevant"},
		),
		RetrievalDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Semantic index query latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"backend"},
		),
		RetrievalCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "retrieval_cache_total",
				Help:      "Retrieval cache lookups by result",
			},
			[]string{"result"},
		),
		DeltasTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "deltas_total",
				Help:      "Token frames forwarded downstream",
			},
			[]string{"endpoint"},
		),
		TimeToFirstDeltaSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from request to first token frame in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "active_streams",
				Help:      "Number of open downstream streams",
			},
			[]string{"endpoint"},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "keepalives_total",
				Help:      "Keep-alive comments sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Streams cancelled by the client",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Labels
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates an invalid inbound request.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUpstream indicates the engine refused or failed the call.
	ErrorCodeUpstream ErrorCode = "upstream"

	// ErrorCodeRetrieval indicates a degraded enrichment.
	ErrorCodeRetrieval ErrorCode = "retrieval"

	// ErrorCodeStream indicates a failure after streaming started.
	ErrorCodeStream ErrorCode = "stream"

	// ErrorCodeRateLimited indicates a request rejected by the limiter.
	ErrorCodeRateLimited ErrorCode = "rate_limited"
)

// Endpoint represents a relay endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is POST /v1/chat/stream and its alias.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointCitations is GET /api/citations/:filename.
	EndpointCitations Endpoint = "citations"
)

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
func (m *RelayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a categorized failure.
func (m *RelayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordEnrichment records the outcome of one enrichment attempt.
func (m *RelayMetrics) RecordEnrichment(outcome string) {
	m.EnrichmentTotal.WithLabelValues(outcome).Inc()
}

// RecordGateDecision records a gate verdict.
func (m *RelayMetrics) RecordGateDecision(relevant bool) {
	label := "false"
	if relevant {
		label = "true"
	}
	m.GateDecisionsTotal.WithLabelValues(label).Inc()
}

// RecordRetrievalDuration records one semantic index query.
func (m *RelayMetrics) RecordRetrievalDuration(backend string, seconds float64) {
	m.RetrievalDurationSeconds.WithLabelValues(backend).Observe(seconds)
}

// RecordCacheLookup records a retrieval cache hit or miss.
func (m *RelayMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RetrievalCacheTotal.WithLabelValues(result).Inc()
}

// RecordDelta counts one forwarded token frame.
func (m *RelayMetrics) RecordDelta(endpoint Endpoint) {
	m.DeltasTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordTimeToFirstDelta records the time to the first token frame.
func (m *RelayMetrics) RecordTimeToFirstDelta(endpoint Endpoint, seconds float64) {
	m.TimeToFirstDeltaSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *RelayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// StreamStarted increments the active streams gauge.
func (m *RelayMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *RelayMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordKeepAlive increments the keep-alive counter.
func (m *RelayMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *RelayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
