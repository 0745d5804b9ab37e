// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command relay starts the amp search relay HTTP server.
//
// This is the main entry point for the containerized relay service. It
// reads configuration from environment variables, optionally overlays a
// YAML config file, and starts the server.
//
// # Environment Variables
//
//   - RELAY_PORT: HTTP server port (default: 8080)
//   - INFERENCE_ENDPOINT: base URL of the managed inference platform (required)
//   - INFERENCE_API_KEY: bearer token for the platform (optional)
//   - AGENT_ID: agent identity behind POST /agent (required)
//   - AGENT_ALIAS_ID: agent alias behind POST /agent (required)
//   - KNOWLEDGE_BASE_ID: knowledge base behind POST /retrieve (required)
//   - MODEL_REF: generation model behind POST /retrieve (required)
//   - ALLOWED_ORIGIN: CORS origin; empty disables, "*" allows any
//   - GCS_CREDENTIALS_FILE: service account key for URL signing (optional)
//   - UPSTREAM_TIMEOUT_SECONDS: per-request upstream budget (default: 60)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//   - ENABLE_TRACING: export spans over OTLP (default: false)
//   - GIN_MODE: gin framework mode (default: release)
//   - RELAY_CONFIG_FILE: optional YAML file overlaying the env config
//
// # Usage
//
//	# Build
//	go build -o relay ./cmd/relay
//
//	# Run
//	./relay
//
//	# Or via container
//	podman-compose up relay
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spencercrose/amp-search-tool/services/relay"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := relay.Config{
		Port:              getEnvInt("RELAY_PORT", 8080),
		InferenceEndpoint: os.Getenv("INFERENCE_ENDPOINT"),
		InferenceAPIKey:   os.Getenv("INFERENCE_API_KEY"),
		AgentID:           os.Getenv("AGENT_ID"),
		AgentAliasID:      os.Getenv("AGENT_ALIAS_ID"),
		KnowledgeBaseID:   os.Getenv("KNOWLEDGE_BASE_ID"),
		ModelRef:          os.Getenv("MODEL_REF"),
		AllowedOrigin:     os.Getenv("ALLOWED_ORIGIN"),
		CredentialsFile:   os.Getenv("GCS_CREDENTIALS_FILE"),
		UpstreamTimeout:   getEnvSeconds("UPSTREAM_TIMEOUT_SECONDS", 60*time.Second),
		OTelEndpoint:      getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		EnableTracing:     getEnvBool("ENABLE_TRACING", false),
		GinMode:           getEnvString("GIN_MODE", "release"),
	}

	// Overlay the optional config file; file values win over env values
	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		if err := relay.LoadConfigFile(path, &cfg); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		slog.Info("Loaded config file", "path", path)
	}

	slog.Info("Starting relay",
		"port", cfg.Port,
		"inference_endpoint", cfg.InferenceEndpoint,
		"agent_id", cfg.AgentID,
		"knowledge_base_id", cfg.KnowledgeBaseID,
	)

	svc, err := relay.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create relay: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Relay error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvSeconds returns the environment variable, read as a whole number
// of seconds, or a default.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
