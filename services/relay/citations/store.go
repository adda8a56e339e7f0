// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citations serves the documents that answers cite.
//
// # Description
//
// A Store maps a filename to its bytes plus {contentType, filename}
// metadata. Populating the store is done out of band; Put exists for local
// seeding and tests.
package citations

import (
	"context"
	"errors"
	"io"
)

// DefaultContentType is used when an asset carries no content type.
const DefaultContentType = "application/octet-stream"

// ErrNotFound is returned when no asset exists under a name.
var ErrNotFound = errors.New("citation asset not found")

// Metadata describes a stored asset.
type Metadata struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
}

// Normalize fills defaults: the content type falls back to
// DefaultContentType and the filename to key.
func (m Metadata) Normalize(key string) Metadata {
	if m.ContentType == "" {
		m.ContentType = DefaultContentType
	}
	if m.Filename == "" {
		m.Filename = key
	}
	return m
}

// Store is a citation asset backend.
type Store interface {
	// Open returns the asset body and metadata. The caller closes the body.
	// A missing asset yields ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, Metadata, error)

	// Put stores an asset under key.
	Put(ctx context.Context, key string, meta Metadata, data []byte) error

	// Close releases the backend.
	Close() error
}
