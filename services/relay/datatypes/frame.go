// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// FrameEvent is the SSE event name of a downstream frame.
type FrameEvent string

const (
	// FrameToken carries one incremental text fragment.
	FrameToken FrameEvent = "token"

	// FrameMetadata carries the citation sources and retrieved context.
	FrameMetadata FrameEvent = "metadata"

	// FrameDone terminates the stream.
	FrameDone FrameEvent = "done"
)

// TokenPayload is the data of a token frame.
type TokenPayload struct {
	Delta string `json:"delta"`
}

// MetadataPayload is the data of a metadata frame. Sources is always
// encoded as an array, never null.
type MetadataPayload struct {
	Sources []string `json:"sources"`
	Context string   `json:"context,omitempty"`
}

// DonePayload is the data of a done frame.
type DonePayload struct{}
