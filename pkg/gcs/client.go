// Copyright (C) 2026 Spencer Rose
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gcs

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Client wraps the Cloud Storage SDK with the operations the relay needs.
type Client struct {
	storageClient *storage.Client
}

// NewClient builds a storage client. When saKeyPath is empty, Application
// Default Credentials are used.
func NewClient(ctx context.Context, saKeyPath string) (*Client, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Client{storageClient: storageClient}, nil
}

// SignObjectURL issues a V4-signed GET URL for one object. Signing happens
// locally with the client credentials; ctx is accepted for interface
// symmetry with remote signers.
func (c *Client) SignObjectURL(_ context.Context, bucket, object string, expiry time.Duration) (string, error) {
	url, err := c.storageClient.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for gs://%s/%s: %w", bucket, object, err)
	}
	return url, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}
