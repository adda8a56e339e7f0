// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval queries a semantic document index and turns the matches
// into a context blob plus a source list.
package retrieval

import (
	"context"
	"errors"

	"github.com/AleutianAI/ella/services/relay/datatypes"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ella.relay.retrieval")

// ErrNotConfigured is returned by constructors whose index is not set up.
var ErrNotConfigured = errors.New("retrieval index not configured")

// Retriever searches a semantic index.
//
// # Description
//
// Search returns datatypes.EmptyRetrieval() together with any error, so a
// caller that ignores the error still gets a usable (empty) result.
// A retriever whose index is not configured returns the empty result and
// a nil error without touching the network.
type Retriever interface {
	// Search returns the top matches for query.
	Search(ctx context.Context, query string) (datatypes.RetrievalResult, error)

	// Name labels the backend in metrics and cache keys.
	Name() string
}

// Disabled is a Retriever that never searches.
type Disabled struct{}

func (Disabled) Search(context.Context, string) (datatypes.RetrievalResult, error) {
	return datatypes.EmptyRetrieval(), nil
}

func (Disabled) Name() string { return "disabled" }

var _ Retriever = Disabled{}
