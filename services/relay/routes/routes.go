// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spencercrose/amp-search-tool/services/inference"
	"github.com/spencercrose/amp-search-tool/services/relay/handlers"
)

// SetupRoutes wires the relay's endpoints onto router. The inference
// clients arrive as interfaces so tests can register the full surface with
// doubles. Paths are flat (no version group): the relay is the only thing
// its web client talks to.
func SetupRoutes(router *gin.Engine, agent inference.AgentInvoker,
	retriever inference.RetrievalGenerator, upstreamTimeout time.Duration) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/agent", handlers.HandleAgentQuery(agent, upstreamTimeout))
	router.POST("/retrieve", handlers.HandleRetrieveQuery(retriever, upstreamTimeout))

	// Everything else gets the relay's JSON 404 instead of gin's default.
	router.NoRoute(handlers.NotFound)
}
