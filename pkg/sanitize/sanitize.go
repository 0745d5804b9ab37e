// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sanitize normalizes caller-supplied text before it is forwarded
// to the inference platform.
//
// This package contains the transforms applied to every prompt and session
// identifier that crosses the relay boundary. Prompts are normalized and
// stripped of shell/markup metacharacters to prevent injection into the
// upstream platform; session identifiers are reduced to a safe alphabet.
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxPromptLength is the maximum prompt size, in characters, accepted
// after normalization. Longer prompts are rejected rather than truncated.
const MaxPromptLength = 2048

// sessionIDPattern matches every character outside the session identifier
// alphabet: letters, digits, dot, underscore, colon, hyphen.
var sessionIDPattern = regexp.MustCompile(`[^0-9A-Za-z._:-]`)

// entityReplacer escapes the markup-significant characters that survive
// the strip step. It runs after the strip, so its targets are normally
// already gone; the step stays in the pipeline so the escape applies even
// if the strip set ever narrows.
var entityReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// ValidationError reports caller input that the relay refuses to forward.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// Prompt normalizes free-form user text for the inference platform.
//
// The pipeline, in order:
//  1. Trim surrounding whitespace.
//  2. Lowercase.
//  3. Strip every '<', '>', ';', '&', '|'.
//  4. Entity-escape any remaining '&', '<', '>'.
//  5. Reject prompts longer than MaxPromptLength characters.
//
// The result may be empty; an empty prompt is not an error here. The
// transform is idempotent, so already-sanitized text passes through
// unchanged.
//
// Example:
//
//	prompt, err := sanitize.Prompt(query.Message)
//	if err != nil {
//	    // caller sent something unforwardable; answer 4xx
//	}
func Prompt(input string) (string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(input))
	cleaned = strings.Map(dropHostileRune, cleaned)
	cleaned = entityReplacer.Replace(cleaned)

	if utf8.RuneCountInString(cleaned) > MaxPromptLength {
		return "", &ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxPromptLength),
		}
	}
	return cleaned, nil
}

// SessionID strips every character outside the session identifier
// alphabet. It never fails: unusable input simply shrinks, possibly to the
// empty string, and the caller decides whether the remainder is acceptable.
//
// Example:
//
//	query.SessionID = sanitize.SessionID(query.SessionID)
func SessionID(input string) string {
	return sessionIDPattern.ReplaceAllString(input, "")
}

// dropHostileRune removes the shell/markup metacharacters the relay never
// forwards upstream.
func dropHostileRune(r rune) rune {
	switch r {
	case '<', '>', ';', '&', '|':
		return -1
	}
	return r
}
