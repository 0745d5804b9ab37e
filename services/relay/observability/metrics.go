// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the relay.
//
// # Description
//
// This package implements Prometheus metrics for monitoring relay
// operations. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Upstream latency histograms (time spent inside the inference platform)
//   - Citation resolution counters and signed URL issuance totals
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
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

// Namespace for all metrics
const metricsNamespace = "amp"

// Subsystem for relay metrics
const relaySubsystem = "relay"

// RelayMetrics holds all Prometheus metrics for relay operations.
//
// # Description
//
// Provides counters and histograms for monitoring the request path and the
// upstream inference platform. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of relay requests by endpoint and status
//   - UpstreamLatencySeconds: Histogram of time spent waiting on the platform
//   - ErrorsTotal: Counter of errors by endpoint and type
//   - CitationResolutionsTotal: Counter of citation resolution passes by outcome
//   - SignedURLsIssuedTotal: Counter of signed document URLs handed out
//
// # Thread Safety
//
// All operations are thread-safe.
type RelayMetrics struct {
	// RequestsTotal counts relay requests by endpoint and status.
	// Labels: endpoint (agent_query, retrieve_query), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// UpstreamLatencySeconds measures time spent inside the inference
	// platform, excluding relay-side validation and marshaling.
	// Labels: endpoint (agent_query, retrieve_query)
	UpstreamLatencySeconds *prometheus.HistogramVec

	// ErrorsTotal counts errors by endpoint and type.
	// Labels: endpoint, error_code (validation, upstream_error, timeout, etc.)
	ErrorsTotal *prometheus.CounterVec

	// CitationResolutionsTotal counts citation resolution passes by outcome.
	// Labels: outcome (resolved, failed)
	CitationResolutionsTotal *prometheus.CounterVec

	// SignedURLsIssuedTotal counts signed document URLs handed out to
	// callers across all retrieval responses.
	SignedURLsIssuedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of RelayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RelayMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *RelayMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *RelayMetrics {
	DefaultMetrics = &RelayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total number of relay requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		UpstreamLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "upstream_latency_seconds",
				Help:      "Time spent waiting on the inference platform in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "errors_total",
				Help:      "Total relay errors by endpoint and type",
			},
			[]string{"endpoint", "error_code"},
		),

		CitationResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "citation_resolutions_total",
				Help:      "Total citation resolution passes by outcome",
			},
			[]string{"outcome"},
		),

		SignedURLsIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "signed_urls_issued_total",
				Help:      "Total signed document URLs issued to callers",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUpstreamError indicates the inference platform reported
	// a failure.
	ErrorCodeUpstreamError ErrorCode = "upstream_error"

	// ErrorCodeUpstreamProtocol indicates the platform answered with a
	// shape the relay could not interpret.
	ErrorCodeUpstreamProtocol ErrorCode = "upstream_protocol"

	// ErrorCodeCitationResolution indicates a cited document could not
	// be turned into a signed URL.
	ErrorCodeCitationResolution ErrorCode = "citation_resolution"

	// ErrorCodeTimeout indicates the upstream call exceeded its deadline.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates an internal relay error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a relay endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointAgentQuery is the conversational agent endpoint.
	EndpointAgentQuery Endpoint = "agent_query"

	// EndpointRetrieveQuery is the retrieval-augmented generation endpoint.
	EndpointRetrieveQuery Endpoint = "retrieve_query"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed relay request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
func (m *RelayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a relay error.
//
// # Inputs
//
//   - endpoint: The endpoint where the error occurred.
//   - code: The error type code.
func (m *RelayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordUpstreamLatency records time spent waiting on the platform.
//
// # Inputs
//
//   - endpoint: The endpoint that made the upstream call.
//   - seconds: Upstream round-trip time in seconds.
func (m *RelayMetrics) RecordUpstreamLatency(endpoint Endpoint, seconds float64) {
	m.UpstreamLatencySeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordCitationResolution records one citation resolution pass.
//
// # Inputs
//
//   - success: Whether every cited reference resolved to a signed URL.
func (m *RelayMetrics) RecordCitationResolution(success bool) {
	outcome := "resolved"
	if !success {
		outcome = "failed"
	}
	m.CitationResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSignedURLs adds to the running total of issued signed URLs.
//
// # Inputs
//
//   - count: Number of URLs issued in one response.
func (m *RelayMetrics) RecordSignedURLs(count int) {
	m.SignedURLsIssuedTotal.Add(float64(count))
}
