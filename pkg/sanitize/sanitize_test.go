// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sanitize

import (
	"strings"
	"testing"
)

func TestPrompt(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		// Normalization
		{"passthrough", "what is an administrative penalty", "what is an administrative penalty", false},
		{"trimmed", "  hello world  ", "hello world", false},
		{"lowercased", "What Is The PENALTY", "what is the penalty", false},
		{"interior whitespace kept", "a  b\tc", "a  b\tc", false},

		// Strip set - injection attempts
		{"markup stripped", "<script>alert(1)</script>", "scriptalert(1)/script", false},
		{"shell chars stripped", "run; rm | cat & done", "run rm  cat  done", false},
		{"ampersand stripped", "penalties & appeals", "penalties  appeals", false},
		{"only stripped chars", "<<>>;;&&||", "", false},
		{"empty input", "", "", false},
		{"whitespace only", "   \t\n", "", false},

		// Multibyte input survives
		{"unicode kept", "pénalité à Montréal", "pénalité à montréal", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prompt(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Prompt(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Prompt(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPromptLengthBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"exactly at limit", strings.Repeat("a", MaxPromptLength), false},
		{"one over limit", strings.Repeat("a", MaxPromptLength+1), true},
		{"multibyte at limit", strings.Repeat("é", MaxPromptLength), false},
		{"multibyte over limit", strings.Repeat("é", MaxPromptLength+1), true},
		{"trim rescues overflow", strings.Repeat("a", MaxPromptLength) + " ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prompt(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Prompt(len=%d) error = %v, wantErr %v", len(tt.input), err, tt.wantErr)
			}
			if tt.wantErr && !IsValidationError(err) {
				t.Errorf("Prompt() error = %T, want *ValidationError", err)
			}
		})
	}
}

func TestPromptIdempotent(t *testing.T) {
	inputs := []string{
		"What <is> an AMP; penalty | fine & fee?",
		"  Mixed CASE with   gaps  ",
		"already clean text",
		"",
		"<<>>;;&&||",
		"entités héritées &amp; more",
	}

	for _, input := range inputs {
		once, err := Prompt(input)
		if err != nil {
			t.Fatalf("Prompt(%q) unexpected error: %v", input, err)
		}
		twice, err := Prompt(once)
		if err != nil {
			t.Fatalf("Prompt(Prompt(%q)) unexpected error: %v", input, err)
		}
		if once != twice {
			t.Errorf("Prompt not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestSessionID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean input unchanged", "session-1.2_3:abc", "session-1.2_3:abc"},
		{"spaces removed", "abc 123", "abc123"},
		{"shell chars removed", "abc;rm|def&", "abcrmdef"},
		{"unicode removed", "séssion", "ssion"},
		{"empty stays empty", "", ""},
		{"everything removed", "@#$%^*()", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionID(tt.input); got != tt.want {
				t.Errorf("SessionID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// SessionID must be a pure filter: running it twice changes nothing.
func TestSessionIDIdempotent(t *testing.T) {
	inputs := []string{"abc-123", "a b c", "@@@", "kb.session:42"}
	for _, input := range inputs {
		once := SessionID(input)
		if twice := SessionID(once); once != twice {
			t.Errorf("SessionID not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}
