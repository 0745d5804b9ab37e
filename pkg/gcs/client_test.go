// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gcs

import (
	"context"
	"strings"
	"testing"
)

func TestNewClientMissingKeyFile(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "/nonexistent/sa-key.json")
	if err == nil {
		t.Fatal("NewClient() expected error for missing key file, got nil")
	}
	if !strings.Contains(err.Error(), "service account key not found") {
		t.Errorf("NewClient() error = %v, want missing-key message", err)
	}
}
