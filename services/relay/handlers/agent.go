// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
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

// sessionTokenBytes is the entropy behind each agent conversation id.
const sessionTokenBytes = 16

// newSessionToken mints the hex session identifier for one agent exchange.
// Every request gets a fresh token, so the platform never links two relay
// calls into one conversation.
func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HandleAgentQuery proxies one prompt to the conversational agent and
// returns the assembled completion as plain text. Upstream failures are
// logged with the request id and surface as an opaque 500; the platform's
// own error text never reaches the caller.
func HandleAgentQuery(agent inference.AgentInvoker, upstreamTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAgentQuery")
		defer span.End()
		requestID := middleware.GetRequestID(c)

		var query datatypes.AgentQuery
		if err := c.ShouldBindJSON(&query); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind agent query", "request_id", requestID, "error", err)
			recordError(observability.EndpointAgentQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgPromptRequired})
			return
		}
		if err := query.Validate(); err != nil || strings.TrimSpace(query.Message) == "" {
			recordError(observability.EndpointAgentQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": msgPromptRequired})
			return
		}

		prompt, err := sanitize.Prompt(query.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Rejected agent prompt", "request_id", requestID, "error", err)
			recordError(observability.EndpointAgentQuery, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sessionID, err := newSessionToken()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to generate session token", "request_id", requestID, "error", err)
			recordError(observability.EndpointAgentQuery, observability.ErrorCodeInternal)
			recordRequest(observability.EndpointAgentQuery, false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
			return
		}
		span.SetAttributes(
			attribute.String("session_id", sessionID),
			attribute.Int("prompt_length", len(prompt)),
		)

		ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
		defer cancel()

		upstreamStart := time.Now()
		result, err := agent.Invoke(ctx, prompt, sessionID)
		recordUpstreamLatency(observability.EndpointAgentQuery, time.Since(upstreamStart).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Agent invocation failed",
				"request_id", requestID,
				"session_id", sessionID,
				"error", err,
			)
			recordError(observability.EndpointAgentQuery, classifyErrorCode(err))
			recordRequest(observability.EndpointAgentQuery, false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
			return
		}

		slog.Info("Agent query completed",
			"request_id", requestID,
			"session_id", sessionID,
			"completion_length", len(result.Completion),
		)
		recordRequest(observability.EndpointAgentQuery, true)
		c.String(http.StatusOK, result.Completion)
	}
}
