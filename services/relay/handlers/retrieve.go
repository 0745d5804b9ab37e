// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spencercrose/amp-search-tool/pkg/sanitize"
	"github.com/spencercrose/amp-search-tool/services/inference"
	"github.com/spencercrose/amp-search-tool/services/relay/datatypes"
	"github.com/spencercrose/amp-search-tool/services/relay/middleware"
	"github.com/spencercrose/amp-search-tool/services/relay/observability"
)

// HandleRetrieveQuery proxies one prompt to the retrieval-augmented
// generation endpoint and returns the normalized answer with signed
// citations. A caller-supplied session id is sanitized and validated before
// it is propagated; structured upstream failures keep their status code,
// everything else collapses to an opaque 500.
func HandleRetrieveQuery(retriever inference.RetrievalGenerator, upstreamTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleRetrieveQuery")
		defer span.End()
		requestID := middleware.GetRequestID(c)

		var query datatypes.RetrievalQuery
		if err := c.ShouldBindJSON(&query); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind retrieval query", "request_id", requestID, "error", err)
			recordError(observability.EndpointRetrieveQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgPromptRequired})
			return
		}
		if strings.TrimSpace(query.Message) == "" {
			recordError(observability.EndpointRetrieveQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgPromptRequired})
			return
		}

		rawSession := query.SessionID
		query.SessionID = sanitize.SessionID(rawSession)
		if rawSession != "" && query.SessionID == "" {
			recordError(observability.EndpointRetrieveQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidSession})
			return
		}
		// Message is non-empty by now, so only the session rules can fail.
		if err := query.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Rejected session identifier", "request_id", requestID, "error", err)
			recordError(observability.EndpointRetrieveQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidSession})
			return
		}

		prompt, err := sanitize.Prompt(query.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Rejected retrieval prompt", "request_id", requestID, "error", err)
			recordError(observability.EndpointRetrieveQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.Bool("session_provided", query.SessionID != ""),
			attribute.Int("prompt_length", len(prompt)),
		)

		ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
		defer cancel()

		upstreamStart := time.Now()
		result, err := retriever.RetrieveAndGenerate(ctx, prompt, query.SessionID)
		recordUpstreamLatency(observability.EndpointRetrieveQuery, time.Since(upstreamStart).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Retrieval query failed",
				"request_id", requestID,
				"session_provided", query.SessionID != "",
				"error", err,
			)
			recordError(observability.EndpointRetrieveQuery, classifyErrorCode(err))
			recordRequest(observability.EndpointRetrieveQuery, false)

			status, message := upstreamErrorStatus(err)
			c.JSON(status, gin.H{"error": message})
			return
		}

		slog.Info("Retrieval query completed",
			"request_id", requestID,
			"session_id", result.SessionID,
			"citations", len(result.Response.Citations),
		)
		recordRequest(observability.EndpointRetrieveQuery, true)
		c.JSON(http.StatusOK, result)
	}
}

// upstreamErrorStatus picks the response status and body for a failed
// retrieval. Structured platform errors keep their status code and message
// so callers can react to throttling or guardrail refusals; anything else
// is opaque.
func upstreamErrorStatus(err error) (int, string) {
	var serviceErr *inference.UpstreamServiceError
	if errors.As(err, &serviceErr) && serviceErr.StatusCode >= http.StatusBadRequest {
		message := serviceErr.Message
		if message == "" {
			message = http.StatusText(serviceErr.StatusCode)
		}
		return serviceErr.StatusCode, message
	}
	return http.StatusInternalServerError, msgInternalError
}
