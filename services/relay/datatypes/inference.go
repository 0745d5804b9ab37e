// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the relay service.
//
// This file contains the request and response types for the inference
// endpoints. For citation and reference types, see citation.go.
package datatypes

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MinSessionIDLength is the shortest session identifier the relay
	// forwards upstream after sanitization.
	MinSessionIDLength = 2

	// MaxSessionIDLength is the longest session identifier the relay
	// forwards upstream after sanitization.
	MaxSessionIDLength = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// relayValidate is the validator instance for relay datatypes.
// Initialized in init() with custom validators.
var relayValidate *validator.Validate

// sessionTokenPattern is the alphabet a session identifier must match
// after sanitization.
var sessionTokenPattern = regexp.MustCompile(`^[0-9A-Za-z._:-]+$`)

func init() {
	relayValidate = validator.New()

	_ = relayValidate.RegisterValidation("session_token", validateSessionToken)
}

// validateSessionToken checks that a field contains only session
// identifier characters. Length bounds are enforced separately by the
// min/max tags.
func validateSessionToken(fl validator.FieldLevel) bool {
	return sessionTokenPattern.MatchString(fl.Field().String())
}

// =============================================================================
// Request Types
// =============================================================================

// AgentQuery is the request body for POST /agent.
//
// # Validation
//
//   - Message: required, non-empty
type AgentQuery struct {
	Message string `json:"message" validate:"required"`
}

// Validate checks the query against its validation tags.
func (q *AgentQuery) Validate() error {
	if err := relayValidate.Struct(q); err != nil {
		return fmt.Errorf("agent query validation failed: %w", err)
	}
	return nil
}

// RetrievalQuery is the request body for POST /retrieve.
//
// # Fields
//
//   - Message: Required. The user prompt to answer from the knowledge base.
//   - SessionID: Optional. A prior conversation token for continuity.
//     Callers that omit it receive a platform-minted one in the response.
//
// # Validation
//
//   - Message: required, non-empty
//   - SessionID: when present, 2-100 characters from [0-9A-Za-z._:-]
//     (sanitize.SessionID is applied by the handler before validation)
type RetrievalQuery struct {
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,session_token,min=2,max=100"`
}

// Validate checks the query against its validation tags.
func (q *RetrievalQuery) Validate() error {
	if err := relayValidate.Struct(q); err != nil {
		return fmt.Errorf("retrieval query validation failed: %w", err)
	}
	return nil
}

// =============================================================================
// Response Types
// =============================================================================

// RetrievalResponse is the normalized reply returned to callers of
// POST /retrieve. The shape is relay-owned: provider response fields are
// mapped into it so provider changes never leak to clients.
type RetrievalResponse struct {
	SessionID string          `json:"sessionId"`
	Response  GeneratedAnswer `json:"response"`
}

// GeneratedAnswer carries the generated text with its supporting evidence.
type GeneratedAnswer struct {
	Output          OutputText `json:"output"`
	Citations       []Citation `json:"citations"`
	GuardrailAction string     `json:"guardrailAction,omitempty"`
}

// OutputText wraps the generated answer text.
type OutputText struct {
	Text string `json:"text"`
}
