// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package citations turns the object-storage pointers inside retrieval
// citations into time-limited signed URLs a browser can fetch.
//
// The inference platform cites documents by their storage location
// (scheme://bucket/key). Callers cannot read those buckets directly, so the
// relay signs each location before the response leaves the service. All
// references in a response are signed concurrently; if any single one fails
// the whole response fails, so callers never see a half-resolved answer.
package citations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/spencercrose/amp-search-tool/services/relay/datatypes"
	"github.com/spencercrose/amp-search-tool/services/relay/observability"
)

var tracer = otel.Tracer("amprelay.citations")

// SignedURLTTL is how long an issued document URL stays valid. One hour
// keeps links usable for a reading session without leaving long-lived
// access tokens in chat transcripts.
const SignedURLTTL = time.Hour

// =============================================================================
// Errors
// =============================================================================

// MalformedReferenceError reports a citation whose location URI does not
// have the scheme://bucket/key shape and therefore cannot be signed.
type MalformedReferenceError struct {
	URI string
}

func (e *MalformedReferenceError) Error() string {
	return fmt.Sprintf("malformed reference location URI: %q", e.URI)
}

// IsMalformedReferenceError reports whether err is a *MalformedReferenceError.
func IsMalformedReferenceError(err error) bool {
	var target *MalformedReferenceError
	return errors.As(err, &target)
}

// =============================================================================
// Resolver
// =============================================================================

// URLSigner issues a time-limited URL for one stored object. Satisfied by
// gcs.Client.
type URLSigner interface {
	SignObjectURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// Resolver signs citation references against an object store.
type Resolver struct {
	signer URLSigner
}

// NewResolver returns a Resolver backed by the given signer.
func NewResolver(signer URLSigner) (*Resolver, error) {
	if signer == nil {
		return nil, fmt.Errorf("citation resolver requires a URL signer")
	}
	return &Resolver{signer: signer}, nil
}

// ResolveAll returns a copy of cits in which every retrieved reference
// carries a signed URL. Signing runs concurrently across all references.
// The first failure cancels the remaining work and is returned; the input
// slice is never mutated and no partial result is returned.
func (r *Resolver) ResolveAll(ctx context.Context, cits []datatypes.Citation) ([]datatypes.Citation, error) {
	ctx, span := tracer.Start(ctx, "citations.ResolveAll")
	defer span.End()
	span.SetAttributes(attribute.Int("citations.count", len(cits)))

	resolved := make([]datatypes.Citation, len(cits))
	for i, cit := range cits {
		resolved[i] = cit
		resolved[i].RetrievedReferences = make([]datatypes.Reference, len(cit.RetrievedReferences))
		copy(resolved[i].RetrievedReferences, cit.RetrievedReferences)
	}

	g, gCtx := errgroup.WithContext(ctx)
	signedCount := 0
	for i := range resolved {
		for j := range resolved[i].RetrievedReferences {
			signedCount++
			ref := &resolved[i].RetrievedReferences[j]
			g.Go(func() error {
				signedURL, err := r.resolveReference(gCtx, ref.Location.URI)
				if err != nil {
					return err
				}
				ref.SignedURL = signedURL
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m := observability.DefaultMetrics; m != nil {
			m.RecordCitationResolution(false)
		}
		return nil, err
	}

	slog.Debug("Resolved citation references", "citations", len(cits), "references", signedCount)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCitationResolution(true)
		m.RecordSignedURLs(signedCount)
	}
	return resolved, nil
}

// resolveReference signs one storage location.
func (r *Resolver) resolveReference(ctx context.Context, uri string) (string, error) {
	bucket, object, err := parseStorageURI(uri)
	if err != nil {
		return "", err
	}
	signedURL, err := r.signer.SignObjectURL(ctx, bucket, object, SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign reference %q: %w", uri, err)
	}
	return signedURL, nil
}

// parseStorageURI splits a scheme://bucket/key location into bucket and
// key. The scheme is validated but otherwise ignored so that rehosted
// buckets (gcs://, s3://) keep resolving without code changes.
func parseStorageURI(uri string) (bucket, object string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", &MalformedReferenceError{URI: uri}
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", &MalformedReferenceError{URI: uri}
	}
	return bucket, object, nil
}
