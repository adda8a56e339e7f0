// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transcoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/AleutianAI/ella/services/relay/datatypes"
)

// ErrWriterClosed is returned by every write after Close.
var ErrWriterClosed = errors.New("frame writer closed")

// =============================================================================
// Interface Definition
// =============================================================================

// FrameWriter emits downstream frames.
//
// # Description
//
// Every frame is written as
//
//	id: <n>
//	event: <token|metadata|done>
//	data: <json>
//
// followed by a blank line, with n starting at 1 for each writer.
// Keep-alives are SSE comments and do not consume an id.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the heartbeat and the
// read loop share one writer.
type FrameWriter interface {
	// WriteToken writes a token frame.
	WriteToken(delta string) error

	// WriteMetadata writes the metadata frame. A nil Sources slice is
	// written as an empty array.
	WriteMetadata(payload datatypes.MetadataPayload) error

	// WriteDone writes the terminal frame.
	WriteDone() error

	// WriteKeepAlive writes ": ping".
	WriteKeepAlive() error

	// Close makes every later write fail with ErrWriterClosed. Idempotent.
	Close()
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseFrameWriter implements FrameWriter over an io.Writer.
//
// # Fields
//
//   - writer: Underlying response writer
//   - flusher: Optional flusher, called after every write
//   - nextID: Id of the next frame
//   - closed: Set by Close
//   - mu: Serializes writes and protects closed
type sseFrameWriter struct {
	writer  io.Writer
	flusher http.Flusher
	nextID  uint64
	closed  bool
	mu      sync.Mutex
}

// NewFrameWriter wraps w. When w implements http.Flusher every frame is
// flushed as soon as it is written.
func NewFrameWriter(w io.Writer) FrameWriter {
	fw := &sseFrameWriter{writer: w, nextID: 1}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// SetSSEHeaders sets the response headers of an event stream.
//
// # Assumptions
//
//   - Called before the first byte of the body is written
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Methods
// =============================================================================

func (w *sseFrameWriter) writeFrame(event datatypes.FrameEvent, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	if _, err := fmt.Fprintf(w.writer, "id: %d\nevent: %s\ndata: %s\n\n", w.nextID, event, data); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	w.nextID++
	w.flush()
	return nil
}

func (w *sseFrameWriter) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

func (w *sseFrameWriter) WriteToken(delta string) error {
	return w.writeFrame(datatypes.FrameToken, datatypes.TokenPayload{Delta: delta})
}

func (w *sseFrameWriter) WriteMetadata(payload datatypes.MetadataPayload) error {
	if payload.Sources == nil {
		payload.Sources = []string{}
	}
	return w.writeFrame(datatypes.FrameMetadata, payload)
}

func (w *sseFrameWriter) WriteDone() error {
	return w.writeFrame(datatypes.FrameDone, datatypes.DonePayload{})
}

func (w *sseFrameWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := io.WriteString(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flush()
	return nil
}

func (w *sseFrameWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

var _ FrameWriter = (*sseFrameWriter)(nil)
