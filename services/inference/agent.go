// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// agentInvokePath is the platform route for agent invocations.
	agentInvokePath = "/v1/agent/invoke"

	// contentTypeNDJSON is the content type of a completion stream.
	contentTypeNDJSON = "application/x-ndjson"

	// maxStreamLineBytes caps a single NDJSON line of the completion
	// stream. Generous: a line carries one base64 fragment.
	maxStreamLineBytes = 1024 * 1024
)

// Platform wire structures for agent invocation.
type agentInvokeRequest struct {
	AgentID      string `json:"agentId"`
	AgentAliasID string `json:"agentAliasId"`
	SessionID    string `json:"sessionId"`
	InputText    string `json:"inputText"`
}

// agentStreamChunk is one NDJSON line of the completion stream. Bytes is a
// base64-encoded text fragment; the final line carries done=true. A line
// may instead report a platform-side error.
type agentStreamChunk struct {
	Bytes string `json:"bytes,omitempty"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// AgentConfig holds everything an AgentClient needs at construction time.
type AgentConfig struct {
	// BaseURL is the platform endpoint, e.g. "https://inference.internal".
	BaseURL string

	// APIKey authenticates the relay against the platform. Optional for
	// deployments that authenticate at the network layer.
	APIKey string

	// AgentID and AgentAliasID select the fixed agent identity the relay
	// speaks to. Both are required.
	AgentID      string
	AgentAliasID string

	// HTTPClient is injected so transports and tests control dialing.
	// When nil a plain client is used; deadlines come from the request
	// context, never from the client, because completions stream.
	HTTPClient *http.Client
}

// AgentClient invokes the platform's conversational agent and reassembles
// its streamed completion into a single string.
type AgentClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	agentID      string
	agentAliasID string
}

// Compile-time interface implementation check.
var _ AgentInvoker = (*AgentClient)(nil)

// NewAgentClient validates the configuration and builds a client.
func NewAgentClient(cfg AgentConfig) (*AgentClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent client requires a base URL")
	}
	if cfg.AgentID == "" || cfg.AgentAliasID == "" {
		return nil, fmt.Errorf("agent client requires an agent id and alias id")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &AgentClient{
		httpClient:   httpClient,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		agentID:      cfg.AgentID,
		agentAliasID: cfg.AgentAliasID,
	}, nil
}

// Invoke sends the prompt to the agent and consumes the completion stream.
//
// The platform answers with an NDJSON stream of base64 text fragments in
// generation order; Invoke concatenates the decoded fragments and returns
// the whole completion. A response that carries no completion stream, a
// malformed chunk, or a stream that ends without its done marker is an
// *UpstreamProtocolError. Errors are always returned to the caller, never
// logged-and-dropped here.
func (c *AgentClient) Invoke(ctx context.Context, prompt, sessionID string) (*AgentResult, error) {
	ctx, span := tracer.Start(ctx, "AgentClient.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", c.agentID),
		attribute.String("agent.alias_id", c.agentAliasID),
	)
	slog.Debug("Invoking agent", "agent_id", c.agentID, "session_id", sessionID)

	payload := agentInvokeRequest{
		AgentID:      c.agentID,
		AgentAliasID: c.agentAliasID,
		SessionID:    sessionID,
		InputText:    prompt,
	}

	req, err := newPlatformRequest(ctx, c.baseURL+agentInvokePath, c.apiKey, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Accept", contentTypeNDJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Agent invocation call failed", "error", err)
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := decodeUpstreamError(resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Agent returned error status", "status_code", resp.StatusCode)
		return nil, err
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, contentTypeNDJSON) {
		err := &UpstreamProtocolError{
			Reason: fmt.Sprintf("expected completion stream, got content type %q", ct),
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	completion, err := readCompletionStream(ctx, resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("agent.completion_length", len(completion)))
	return &AgentResult{SessionID: sessionID, Completion: completion}, nil
}

// readCompletionStream consumes NDJSON chunks in arrival order and
// concatenates their decoded text.
func readCompletionStream(ctx context.Context, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	var completion strings.Builder
	var sawLine, finished bool

	for scanner.Scan() {
		// Check for cancellation between chunks
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		sawLine = true

		chunk, err := parseAgentChunk(line)
		if err != nil {
			return "", err
		}

		if chunk.Error != "" {
			return "", &UpstreamServiceError{Message: chunk.Error}
		}

		if chunk.Bytes != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk.Bytes)
			if err != nil {
				return "", &UpstreamProtocolError{
					Reason: fmt.Sprintf("undecodable completion chunk: %v", err),
				}
			}
			completion.Write(decoded)
		}

		if chunk.Done {
			finished = true
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan completion stream: %w", err)
	}
	if !sawLine {
		return "", &UpstreamProtocolError{Reason: "response contained no completion stream"}
	}
	if !finished {
		return "", &UpstreamProtocolError{Reason: "completion stream ended without a done marker"}
	}

	return completion.String(), nil
}

// parseAgentChunk decodes one NDJSON line of the completion stream.
func parseAgentChunk(line []byte) (agentStreamChunk, error) {
	var chunk agentStreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return agentStreamChunk{}, &UpstreamProtocolError{
			Reason: fmt.Sprintf("malformed stream chunk: %v", err),
		}
	}
	return chunk, nil
}
