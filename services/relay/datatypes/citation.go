// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Citation groups one generated answer segment with the retrieved source
// documents that support it.
type Citation struct {
	GeneratedResponsePart *GeneratedResponsePart `json:"generatedResponsePart,omitempty"`
	RetrievedReferences   []Reference            `json:"retrievedReferences"`
}

type GeneratedResponsePart struct {
	TextResponsePart *TextResponsePart `json:"textResponsePart,omitempty"`
}

type TextResponsePart struct {
	Text string    `json:"text"`
	Span *TextSpan `json:"span,omitempty"`
}

type TextSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Reference is one retrieved source document pointer. SignedURL is empty
// until the citation resolver attaches a time-limited fetchable URL.
type Reference struct {
	Content   ReferenceContent  `json:"content"`
	Location  ReferenceLocation `json:"location"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	SignedURL string            `json:"signedUrl,omitempty"`
}

type ReferenceContent struct {
	Text string `json:"text"`
}

// ReferenceLocation holds the object-storage URI of a retrieved document,
// in scheme://bucket/key form.
type ReferenceLocation struct {
	Type string `json:"type,omitempty"`
	URI  string `json:"uri"`
}
