// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Request Correlation
// =============================================================================

// RequestIDHeader carries the correlation id between client, relay, and logs.
const RequestIDHeader = "X-Request-Id"

// requestIDKey is the context key for the correlation id.
// Using a namespaced key prevents collisions with other context values.
const requestIDKey = "amp_relay_request_id"

// maxRequestIDLength bounds client-supplied ids so log lines stay sane.
const maxRequestIDLength = 128

// RequestID creates middleware that attaches a correlation id to every
// request.
//
// # Description
//
// An incoming X-Request-Id is honored so callers can trace a request
// through their own infrastructure; ids that are absent or oversized are
// replaced with a fresh UUID. The id is stored in the Gin context for
// handlers to log and echoed back on the response.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID retrieves the correlation id from the Gin context.
// Returns empty string if RequestID middleware did not run.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(requestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
