// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spencercrose/amp-search-tool/services/relay/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// retrieveAndGeneratePath is the platform route for knowledge-base
// retrieval-augmented generation.
const retrieveAndGeneratePath = "/v1/retrieve-and-generate"

// Platform wire structures for retrieve-and-generate.
type retrieveAndGenerateRequest struct {
	Input           queryInput       `json:"input"`
	SessionID       string           `json:"sessionId,omitempty"`
	KnowledgeBaseID string           `json:"knowledgeBaseId"`
	ModelRef        string           `json:"modelRef"`
	Retrieval       SearchParams     `json:"retrieval"`
	Generation      GenerationParams `json:"generation"`
}

type queryInput struct {
	Text string `json:"text"`
}

type retrieveAndGenerateResponse struct {
	SessionID       string               `json:"sessionId"`
	Output          datatypes.OutputText `json:"output"`
	GuardrailAction string               `json:"guardrailAction,omitempty"`
	Citations       []datatypes.Citation `json:"citations,omitempty"`
}

// CitationResolver enriches retrieved references with fetchable URLs.
// Defined here, at the point of use; satisfied by citations.Resolver.
type CitationResolver interface {
	ResolveAll(ctx context.Context, cits []datatypes.Citation) ([]datatypes.Citation, error)
}

// RetrievalConfig holds everything a RetrievalClient needs at
// construction time.
type RetrievalConfig struct {
	// BaseURL is the platform endpoint.
	BaseURL string

	// APIKey authenticates the relay against the platform. Optional.
	APIKey string

	// KnowledgeBaseID and ModelRef select the fixed knowledge base and
	// generation model. Both are required.
	KnowledgeBaseID string
	ModelRef        string

	// HTTPClient is injected so transports and tests control dialing.
	HTTPClient *http.Client
}

// RetrievalClient answers prompts from the configured knowledge base and
// normalizes the platform response, resolving citation references into
// signed URLs on the way out.
type RetrievalClient struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	knowledgeBaseID string
	modelRef        string
	resolver        CitationResolver
}

// Compile-time interface implementation check.
var _ RetrievalGenerator = (*RetrievalClient)(nil)

// NewRetrievalClient validates the configuration and builds a client.
func NewRetrievalClient(cfg RetrievalConfig, resolver CitationResolver) (*RetrievalClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("retrieval client requires a base URL")
	}
	if cfg.KnowledgeBaseID == "" || cfg.ModelRef == "" {
		return nil, fmt.Errorf("retrieval client requires a knowledge base id and model ref")
	}
	if resolver == nil {
		return nil, fmt.Errorf("retrieval client requires a citation resolver")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &RetrievalClient{
		httpClient:      httpClient,
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		knowledgeBaseID: cfg.KnowledgeBaseID,
		modelRef:        cfg.ModelRef,
		resolver:        resolver,
	}, nil
}

// RetrieveAndGenerate performs one retrieval-augmented generation call.
//
// Every call carries the same fixed parameters: five results in hybrid
// search mode, temperature 0, top-p 1.0, top-k 250, 2048 max tokens.
// A non-empty sessionID is propagated for conversational continuity; an
// empty one is omitted so the platform mints a fresh session and returns
// its identifier. Structured platform failures come back as
// *UpstreamServiceError with the upstream status and code; transport
// failures are wrapped and otherwise passed through unchanged.
func (c *RetrievalClient) RetrieveAndGenerate(ctx context.Context, prompt, sessionID string) (*datatypes.RetrievalResponse, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.RetrieveAndGenerate")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.knowledge_base_id", c.knowledgeBaseID),
		attribute.String("retrieval.model_ref", c.modelRef),
	)
	slog.Debug("Calling retrieve-and-generate",
		"knowledge_base_id", c.knowledgeBaseID,
		"session_provided", sessionID != "",
	)

	payload := retrieveAndGenerateRequest{
		Input:           queryInput{Text: prompt},
		SessionID:       sessionID,
		KnowledgeBaseID: c.knowledgeBaseID,
		ModelRef:        c.modelRef,
		Retrieval:       DefaultSearchParams(),
		Generation:      DefaultGenerationParams(),
	}

	req, err := newPlatformRequest(ctx, c.baseURL+retrieveAndGeneratePath, c.apiKey, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Retrieve-and-generate call failed", "error", err)
		return nil, fmt.Errorf("retrieve-and-generate failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := decodeUpstreamError(resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Retrieve-and-generate returned error status", "status_code", resp.StatusCode)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read retrieve-and-generate response: %w", err)
	}

	var decoded retrieveAndGenerateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		protoErr := &UpstreamProtocolError{
			Reason: fmt.Sprintf("unparseable retrieve-and-generate response: %v", err),
		}
		span.RecordError(protoErr)
		span.SetStatus(codes.Error, protoErr.Error())
		return nil, protoErr
	}

	citations := decoded.Citations
	if len(citations) > 0 {
		citations, err = c.resolver.ResolveAll(ctx, citations)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.AddEvent("citations_resolved", trace.WithAttributes(
			attribute.Int("citation.count", len(citations))))
	}
	if citations == nil {
		citations = []datatypes.Citation{}
	}

	span.SetAttributes(attribute.Int("retrieval.citations_count", len(citations)))
	return &datatypes.RetrievalResponse{
		SessionID: decoded.SessionID,
		Response: datatypes.GeneratedAnswer{
			Output:          decoded.Output,
			Citations:       citations,
			GuardrailAction: decoded.GuardrailAction,
		},
	}, nil
}
