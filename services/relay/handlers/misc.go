// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the relay's HTTP endpoints.
//
// Handlers are factories taking their upstream dependencies as interfaces
// and returning gin.HandlerFunc, so routes stay declarative and tests can
// substitute doubles without a network. Provider identifiers, credentials,
// and wire shapes never appear in a response: callers see only the
// normalized relay contract.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/spencercrose/amp-search-tool/services/inference"
	"github.com/spencercrose/amp-search-tool/services/relay/citations"
	"github.com/spencercrose/amp-search-tool/services/relay/middleware"
	"github.com/spencercrose/amp-search-tool/services/relay/observability"
)

var tracer = otel.Tracer("amprelay.handlers")

// Response messages are part of the public contract; clients match on them.
const (
	msgPromptRequired = "Prompt is required"
	msgInvalidSession = "Invalid session identifier"
	msgNotFound       = "Not Found"
	msgInternalError  = "Internal Server Error"
)

// =============================================================================
// Plumbing Handlers
// =============================================================================

// HealthCheck reports liveness for load balancers and uptime probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// NotFound answers every unmatched route with the relay's JSON error shape.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
}

// PanicRecovery is the gin.CustomRecovery hook. The panic is logged with
// the request id; the caller sees only the opaque 500 body.
func PanicRecovery(c *gin.Context, recovered any) {
	slog.Error("Handler panic recovered",
		"request_id", middleware.GetRequestID(c),
		"path", c.Request.URL.Path,
		"panic", recovered,
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
}

// =============================================================================
// Shared Helpers
// =============================================================================

// recordRequest bumps the request counter when metrics are initialized.
func recordRequest(endpoint observability.Endpoint, success bool) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, success)
	}
}

// recordError bumps the error counter when metrics are initialized.
func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}

// recordUpstreamLatency observes platform round-trip time when metrics are
// initialized.
func recordUpstreamLatency(endpoint observability.Endpoint, seconds float64) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordUpstreamLatency(endpoint, seconds)
	}
}

// classifyErrorCode maps an upstream failure onto a metrics error code.
func classifyErrorCode(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return observability.ErrorCodeTimeout
	case citations.IsMalformedReferenceError(err):
		return observability.ErrorCodeCitationResolution
	case inference.IsUpstreamProtocolError(err):
		return observability.ErrorCodeUpstreamProtocol
	case inference.IsUpstreamServiceError(err):
		return observability.ErrorCodeUpstreamError
	default:
		return observability.ErrorCodeInternal
	}
}
