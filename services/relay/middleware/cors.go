// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the relay service.
//
// This package contains middleware for cross-origin access, response
// hardening, and request correlation. Every middleware is a factory
// returning a gin.HandlerFunc so the service wires them explicitly at
// router construction time.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// CORS Middleware
// =============================================================================

// CORS creates middleware that authorizes the configured web origin.
//
// # Description
//
// The relay fronts a single web client, so exactly one origin is allowed
// (or "*" to disable the check entirely, useful in local development).
// Preflight OPTIONS requests are answered with 204 before any handler runs.
//
// # Inputs
//
//   - allowedOrigin: Origin granted access, e.g. "https://search.example.ca".
//     Empty string disables CORS headers entirely.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin.
func CORS(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowedOrigin == "*" || (allowedOrigin != "" && origin == allowedOrigin) {
			c.Header("Access-Control-Allow-Origin", allowedOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// =============================================================================
// Security Headers
// =============================================================================

// SecurityHeaders creates middleware that applies response hardening
// headers. The relay serves JSON only, so framing and content sniffing
// are both denied outright.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'")
		c.Next()
	}
}
