// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm talks to the streaming generation engine.
//
// The relay never interprets the engine's stream here; OpenStream hands the
// raw body to the transcoder, which owns line splitting and record dispatch.
package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/AleutianAI/ella/services/relay/datatypes"
)

// Tool is an engine-side tool declaration, e.g. {"type":"file_search"}.
type Tool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

// ResponsesRequest is the body of a streaming generation call.
type ResponsesRequest struct {
	Model        string           `json:"model"`
	Input        []datatypes.Turn `json:"input"`
	Instructions string           `json:"instructions"`
	Stream       bool             `json:"stream"`
	Tools        []Tool           `json:"tools,omitempty"`
	Include      []string         `json:"include,omitempty"`
}

// StreamOpener opens a streaming generation request.
//
// Implementations return an *UpstreamError when the engine answers with a
// non-success status or without a body; this is the only failure the relay
// reports before streaming starts.
type StreamOpener interface {
	OpenStream(ctx context.Context, req ResponsesRequest) (io.ReadCloser, error)
}

// UpstreamError carries the engine's status code and raw error text.
// Status is 0 when the request never produced a response.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
