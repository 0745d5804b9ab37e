// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// UpstreamServiceError wraps a structured failure reported by the
// inference platform.
//
// # Fields
//
//   - StatusCode: HTTP status from the platform, or 0 when the failure was
//     signaled mid-stream without one.
//   - Code: Platform error code (e.g. "ThrottlingException"), when present.
//   - Message: Platform error message, when present.
//
// The relay never retries these; the façade maps StatusCode >= 400 back to
// the caller and everything else to 500.
type UpstreamServiceError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface for UpstreamServiceError.
func (e *UpstreamServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("inference platform error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("inference platform error (status %d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("inference platform error: %s", e.Message)
	}
}

// IsUpstreamServiceError checks if an error is an UpstreamServiceError.
func IsUpstreamServiceError(err error) bool {
	var serviceErr *UpstreamServiceError
	return errors.As(err, &serviceErr)
}

// UpstreamProtocolError reports a platform reply that violated the
// expected wire contract, most commonly an invocation response that
// carried no completion stream.
type UpstreamProtocolError struct {
	Reason string
}

// Error implements the error interface for UpstreamProtocolError.
func (e *UpstreamProtocolError) Error() string {
	return fmt.Sprintf("inference platform protocol violation: %s", e.Reason)
}

// IsUpstreamProtocolError checks if an error is an UpstreamProtocolError.
func IsUpstreamProtocolError(err error) bool {
	var protocolErr *UpstreamProtocolError
	return errors.As(err, &protocolErr)
}
