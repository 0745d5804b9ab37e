// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference contains the clients for the managed inference
// platform: the conversational agent endpoint and the knowledge-base
// retrieve-and-generate endpoint.
//
// Both clients hold their collaborators from construction time; nothing is
// rebuilt per request. Credentials never leave this package: callers see
// normalized results and typed errors only.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spencercrose/amp-search-tool/services/relay/datatypes"
	"go.opentelemetry.io/otel"
)

// tracer is the OpenTelemetry tracer for inference platform calls.
var tracer = otel.Tracer("amprelay.inference")

// maxErrorBodyBytes caps how much of an upstream error body is read.
const maxErrorBodyBytes = 64 * 1024

// AgentInvoker is the surface of the conversational agent endpoint.
//
// Invoke sends one sanitized prompt under the given session identifier and
// returns the fully reassembled completion. Implementations must honor ctx
// cancellation while the completion stream is still being consumed.
type AgentInvoker interface {
	Invoke(ctx context.Context, prompt, sessionID string) (*AgentResult, error)
}

// RetrievalGenerator is the surface of the retrieve-and-generate endpoint.
//
// RetrieveAndGenerate answers one sanitized prompt from the configured
// knowledge base. sessionID may be empty; the platform then mints one and
// returns it in the normalized response.
type RetrievalGenerator interface {
	RetrieveAndGenerate(ctx context.Context, prompt, sessionID string) (*datatypes.RetrievalResponse, error)
}

// AgentResult is the reassembled output of one agent invocation.
type AgentResult struct {
	SessionID  string
	Completion string
}

// SearchModeHybrid requests combined semantic and keyword retrieval.
const SearchModeHybrid = "HYBRID"

// SearchParams configure knowledge-base retrieval.
type SearchParams struct {
	NumberOfResults int    `json:"numberOfResults"`
	SearchMode      string `json:"searchMode"`
}

// GenerationParams configure answer generation.
type GenerationParams struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"topP"`
	TopK        int     `json:"topK"`
	MaxTokens   int     `json:"maxTokens"`
}

// DefaultSearchParams returns the retrieval settings the relay always
// sends: five results, hybrid mode.
func DefaultSearchParams() SearchParams {
	return SearchParams{NumberOfResults: 5, SearchMode: SearchModeHybrid}
}

// DefaultGenerationParams returns the deterministic generation settings
// the relay always sends.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{Temperature: 0, TopP: 1.0, TopK: 250, MaxTokens: 2048}
}

// newPlatformRequest builds an authenticated JSON POST to the platform.
func newPlatformRequest(ctx context.Context, url, apiKey string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal platform request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create platform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// platformErrorBody is the structured error shape the platform returns on
// non-200 responses.
type platformErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodeUpstreamError turns a non-200 platform response into an
// UpstreamServiceError, keeping the structured code and message when the
// body carries them and the raw body text otherwise.
func decodeUpstreamError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &UpstreamServiceError{StatusCode: resp.StatusCode}
	}

	var parsed platformErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != "" || parsed.Message != "") {
		return &UpstreamServiceError{
			StatusCode: resp.StatusCode,
			Code:       parsed.Code,
			Message:    parsed.Message,
		}
	}

	return &UpstreamServiceError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
