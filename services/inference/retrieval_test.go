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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spencercrose/amp-search-tool/services/relay/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubResolver records calls and lets each test decide what resolution does.
type stubResolver struct {
	calls       int
	resolveFunc func(ctx context.Context, cits []datatypes.Citation) ([]datatypes.Citation, error)
}

func (s *stubResolver) ResolveAll(ctx context.Context, cits []datatypes.Citation) ([]datatypes.Citation, error) {
	s.calls++
	if s.resolveFunc != nil {
		return s.resolveFunc(ctx, cits)
	}
	return cits, nil
}

// newTestRetrievalClient builds a RetrievalClient pointed at a test server.
func newTestRetrievalClient(t *testing.T, baseURL string, resolver CitationResolver) *RetrievalClient {
	t.Helper()
	client, err := NewRetrievalClient(RetrievalConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		KnowledgeBaseID: "kb-1",
		ModelRef:        "model-ref-1",
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
	}, resolver)
	if err != nil {
		t.Fatalf("NewRetrievalClient returned error: %v", err)
	}
	return client
}

// retrievalPayload is a canned upstream answer with one cited reference.
const retrievalPayload = `{
	"sessionId": "upstream-session-42",
	"output": {"text": "amps amplify signals"},
	"guardrailAction": "NONE",
	"citations": [
		{
			"generatedResponsePart": {"textResponsePart": {"text": "amps amplify", "span": {"start": 0, "end": 12}}},
			"retrievedReferences": [
				{
					"content": {"text": "An amplifier increases signal power."},
					"location": {"type": "GCS", "uri": "gcs://amp-docs/guides/amps.pdf"}
				}
			]
		}
	]
}`

// =============================================================================
// RetrieveAndGenerate Tests
// =============================================================================

func TestRetrievalClient_RetrieveAndGenerate_NormalizesResponse(t *testing.T) {
	t.Parallel()

	var gotRequest retrieveAndGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("failed to decode retrieval request: %v", err)
		}
		fmt.Fprint(w, retrievalPayload)
	}))
	defer server.Close()

	resolver := &stubResolver{
		resolveFunc: func(_ context.Context, cits []datatypes.Citation) ([]datatypes.Citation, error) {
			resolved := make([]datatypes.Citation, len(cits))
			copy(resolved, cits)
			for i := range resolved {
				for j := range resolved[i].RetrievedReferences {
					resolved[i].RetrievedReferences[j].SignedURL = "https://signed.example/doc"
				}
			}
			return resolved, nil
		},
	}

	client := newTestRetrievalClient(t, server.URL, resolver)
	result, err := client.RetrieveAndGenerate(context.Background(), "what do amps do", "caller-session")
	if err != nil {
		t.Fatalf("RetrieveAndGenerate returned error: %v", err)
	}

	if result.SessionID != "upstream-session-42" {
		t.Errorf("SessionID = %q, want the upstream session", result.SessionID)
	}
	if result.Response.Output.Text != "amps amplify signals" {
		t.Errorf("Output.Text = %q, want the generated answer", result.Response.Output.Text)
	}
	if result.Response.GuardrailAction != "NONE" {
		t.Errorf("GuardrailAction = %q, want NONE", result.Response.GuardrailAction)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.calls)
	}
	if len(result.Response.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(result.Response.Citations))
	}
	refs := result.Response.Citations[0].RetrievedReferences
	if len(refs) != 1 || refs[0].SignedURL != "https://signed.example/doc" {
		t.Errorf("references = %+v, want one reference carrying the signed URL", refs)
	}

	// The relay decides every tuning knob; the caller only supplies text.
	if gotRequest.Input.Text != "what do amps do" {
		t.Errorf("request Input.Text = %q, want the prompt", gotRequest.Input.Text)
	}
	if gotRequest.SessionID != "caller-session" {
		t.Errorf("request SessionID = %q, want caller-session", gotRequest.SessionID)
	}
	if gotRequest.KnowledgeBaseID != "kb-1" || gotRequest.ModelRef != "model-ref-1" {
		t.Errorf("request targets = %q/%q, want kb-1/model-ref-1", gotRequest.KnowledgeBaseID, gotRequest.ModelRef)
	}
	wantSearch := SearchParams{NumberOfResults: 5, SearchMode: SearchModeHybrid}
	if gotRequest.Retrieval != wantSearch {
		t.Errorf("request Retrieval = %+v, want %+v", gotRequest.Retrieval, wantSearch)
	}
	wantGeneration := GenerationParams{Temperature: 0, TopP: 1.0, TopK: 250, MaxTokens: 2048}
	if gotRequest.Generation != wantGeneration {
		t.Errorf("request Generation = %+v, want %+v", gotRequest.Generation, wantGeneration)
	}
}

func TestRetrievalClient_RetrieveAndGenerate_OmitsEmptySession(t *testing.T) {
	t.Parallel()

	var rawBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"sessionId":"fresh-session","output":{"text":"answer"}}`)
	}))
	defer server.Close()

	client := newTestRetrievalClient(t, server.URL, &stubResolver{})
	result, err := client.RetrieveAndGenerate(context.Background(), "prompt", "")
	if err != nil {
		t.Fatalf("RetrieveAndGenerate returned error: %v", err)
	}

	if strings.Contains(string(rawBody), "sessionId") {
		t.Errorf("request body = %s, want no sessionId field when the caller has none", rawBody)
	}
	if result.SessionID != "fresh-session" {
		t.Errorf("SessionID = %q, want the upstream-minted session", result.SessionID)
	}
}

func TestRetrievalClient_RetrieveAndGenerate_NoCitations(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sessionId":"s","output":{"text":"uncited answer"}}`)
	}))
	defer server.Close()

	resolver := &stubResolver{}
	client := newTestRetrievalClient(t, server.URL, resolver)
	result, err := client.RetrieveAndGenerate(context.Background(), "prompt", "")
	if err != nil {
		t.Fatalf("RetrieveAndGenerate returned error: %v", err)
	}

	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0 when nothing was cited", resolver.calls)
	}
	if result.Response.Citations == nil {
		t.Error("Citations is nil, want an empty slice so the JSON shape stays stable")
	}
	if len(result.Response.Citations) != 0 {
		t.Errorf("citations = %d, want 0", len(result.Response.Citations))
	}
}

func TestRetrievalClient_RetrieveAndGenerate_UpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":"ThrottlingException","message":"too many requests"}`)
	}))
	defer server.Close()

	client := newTestRetrievalClient(t, server.URL, &stubResolver{})
	_, err := client.RetrieveAndGenerate(context.Background(), "prompt", "")

	serviceErr, ok := err.(*UpstreamServiceError)
	if !ok {
		t.Fatalf("RetrieveAndGenerate error = %T, want *UpstreamServiceError", err)
	}
	if serviceErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", serviceErr.StatusCode)
	}
	if serviceErr.Code != "ThrottlingException" {
		t.Errorf("Code = %q, want ThrottlingException", serviceErr.Code)
	}
	if serviceErr.Message != "too many requests" {
		t.Errorf("Message = %q, want the upstream message", serviceErr.Message)
	}
}

func TestRetrievalClient_RetrieveAndGenerate_UnparseableBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>definitely not json</html>`)
	}))
	defer server.Close()

	client := newTestRetrievalClient(t, server.URL, &stubResolver{})
	_, err := client.RetrieveAndGenerate(context.Background(), "prompt", "")
	if !IsUpstreamProtocolError(err) {
		t.Fatalf("RetrieveAndGenerate error = %v, want *UpstreamProtocolError", err)
	}
}

func TestRetrievalClient_RetrieveAndGenerate_ResolverError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, retrievalPayload)
	}))
	defer server.Close()

	resolverErr := errors.New("signing backend unavailable")
	resolver := &stubResolver{
		resolveFunc: func(context.Context, []datatypes.Citation) ([]datatypes.Citation, error) {
			return nil, resolverErr
		},
	}

	client := newTestRetrievalClient(t, server.URL, resolver)
	_, err := client.RetrieveAndGenerate(context.Background(), "prompt", "")
	if !errors.Is(err, resolverErr) {
		t.Fatalf("RetrieveAndGenerate error = %v, want the resolver error", err)
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewRetrievalClient_Validation(t *testing.T) {
	t.Parallel()

	valid := RetrievalConfig{
		BaseURL:         "http://platform",
		KnowledgeBaseID: "kb-1",
		ModelRef:        "model-ref-1",
	}

	tests := []struct {
		name     string
		cfg      RetrievalConfig
		resolver CitationResolver
	}{
		{"missing base URL", RetrievalConfig{KnowledgeBaseID: "kb", ModelRef: "m"}, &stubResolver{}},
		{"missing knowledge base", RetrievalConfig{BaseURL: "http://platform", ModelRef: "m"}, &stubResolver{}},
		{"missing model ref", RetrievalConfig{BaseURL: "http://platform", KnowledgeBaseID: "kb"}, &stubResolver{}},
		{"nil resolver", valid, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRetrievalClient(tt.cfg, tt.resolver); err == nil {
				t.Errorf("NewRetrievalClient(%+v) expected error, got nil", tt.cfg)
			}
		})
	}
}
