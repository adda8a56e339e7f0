// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType is the event name of a relay frame.
type StreamEventType string

const (
	// StreamEventToken carries one answer delta.
	StreamEventToken StreamEventType = "token"

	// StreamEventMetadata carries the candidate sources and retrieved context.
	StreamEventMetadata StreamEventType = "metadata"

	// StreamEventDone ends the stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one decoded relay frame.
type StreamEvent struct {
	// ID is the frame's sequence number. Zero when the frame had no id line.
	ID int

	// Type is the frame's event name.
	Type StreamEventType

	// Delta is the answer text of a token frame.
	Delta string

	// Sources are the candidate filenames of a metadata frame.
	Sources []string

	// Context is the retrieved context text of a metadata frame, if sent.
	Context string
}

// IsTerminal reports whether no further frames follow.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone
}

// =============================================================================
// FrameParser
// =============================================================================

// FrameParser decodes one blank-line-delimited frame block.
//
// # Description
//
// A block is the text between two "\n\n" delimiters, made of "field: value"
// lines. Recognized fields are id, event and data; multiple data lines are
// joined with "\n". Lines starting with ":" are comments (keep-alives).
//
// # Outputs
//
//   - (*StreamEvent, nil): a recognized frame.
//   - (nil, nil): a comment-only or empty block, or an unknown event name.
//   - (nil, error): the data payload of a known event is not valid JSON.
//
// # Thread Safety
//
// Implementations are stateless and safe for concurrent use.
type FrameParser interface {
	ParseBlock(block string) (*StreamEvent, error)
}

type frameParser struct{}

// NewFrameParser returns the relay frame parser.
func NewFrameParser() FrameParser {
	return &frameParser{}
}

type tokenPayload struct {
	Delta string `json:"delta"`
}

type metadataPayload struct {
	Sources []string `json:"sources"`
	Context string   `json:"context,omitempty"`
}

func (p *frameParser) ParseBlock(block string) (*StreamEvent, error) {
	var (
		id      int
		event   string
		data    []string
		hasData bool
	)

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			if n, err := strconv.Atoi(value); err == nil {
				id = n
			}
		case "event":
			event = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}

	if event == "" {
		return nil, nil
	}
	payload := []byte(strings.Join(data, "\n"))

	ev := &StreamEvent{ID: id, Type: StreamEventType(event)}
	switch ev.Type {
	case StreamEventToken:
		var tok tokenPayload
		if err := json.Unmarshal(payload, &tok); err != nil {
			return nil, fmt.Errorf("token frame %d: %w", id, err)
		}
		ev.Delta = tok.Delta
	case StreamEventMetadata:
		var meta metadataPayload
		if err := json.Unmarshal(payload, &meta); err != nil {
			return nil, fmt.Errorf("metadata frame %d: %w", id, err)
		}
		ev.Sources = meta.Sources
		ev.Context = meta.Context
	case StreamEventDone:
		if hasData && len(payload) > 0 && !json.Valid(payload) {
			return nil, fmt.Errorf("done frame %d: invalid payload", id)
		}
	default:
		return nil, nil
	}
	return ev, nil
}

var _ FrameParser = (*frameParser)(nil)
