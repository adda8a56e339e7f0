// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transcoder turns the generation engine's event stream into the
// relay's downstream frames.
//
// # Description
//
// The upstream body is split into lines, every significant line is parsed as
// one JSON record, and records are dispatched to token frames or to the
// source accumulator. When the upstream body ends, a metadata frame and a
// done frame close the stream.
package transcoder

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"

	recordTypeTextDelta = "response.output_text.delta"
	recordTypeItemDone  = "response.output_item.done"
	itemTypeFileSearch  = "file_search_call"
)

// =============================================================================
// LineDecoder
// =============================================================================

// LineDecoder splits an arbitrarily chunked byte stream into lines.
//
// # Description
//
// Bytes are buffered until a '\n' arrives, so a multi-byte UTF-8 rune or a
// JSON record cut by a chunk boundary is never converted to a string early.
// A trailing '\r' is stripped from every line.
//
// # Thread Safety
//
// Not safe for concurrent use; one decoder belongs to one read loop.
type LineDecoder struct {
	pending []byte
}

// Feed appends chunk and returns every line it completed.
func (d *LineDecoder) Feed(chunk []byte) []string {
	d.pending = append(d.pending, chunk...)

	var lines []string
	consumed := 0
	for {
		i := bytes.IndexByte(d.pending[consumed:], '\n')
		if i < 0 {
			break
		}
		line := d.pending[consumed : consumed+i]
		lines = append(lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
		consumed += i + 1
	}

	if consumed > 0 {
		rest := make([]byte, len(d.pending)-consumed)
		copy(rest, d.pending[consumed:])
		d.pending = rest
	}
	return lines
}

// Flush returns the unterminated tail, if any, and resets the decoder.
func (d *LineDecoder) Flush() (string, bool) {
	if len(d.pending) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(d.pending, []byte{'\r'}))
	d.pending = nil
	return line, true
}

// =============================================================================
// Records
// =============================================================================

// RecordKind identifies what a parsed upstream record contributes.
type RecordKind int

const (
	// RecordDelta carries one incremental text fragment.
	RecordDelta RecordKind = iota + 1

	// RecordSources carries filenames from an engine-side retrieval call.
	RecordSources
)

// Record is an upstream record the relay acts on.
type Record struct {
	Kind    RecordKind
	Delta   string
	Sources []string
}

type upstreamRecord struct {
	Type  string        `json:"type"`
	Delta string        `json:"delta"`
	Item  *upstreamItem `json:"item"`
}

type upstreamItem struct {
	Type    string `json:"type"`
	Results []struct {
		Filename string `json:"filename"`
	} `json:"results"`
}

// ParseLine interprets one upstream line.
//
// # Description
//
// Only lines starting with "data: " are significant. Empty payloads, the
// "[DONE]" sentinel, malformed JSON and unknown record types all report
// ok == false; none of them is an error.
//
// # Outputs
//
//   - Record: the dispatched record when ok is true.
//   - bool: whether the line produced a record.
func ParseLine(line string) (Record, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Record{}, false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" || payload == doneSentinel {
		return Record{}, false
	}

	var raw upstreamRecord
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		slog.Debug("Dropping malformed upstream record", "error", err)
		return Record{}, false
	}

	switch raw.Type {
	case recordTypeTextDelta:
		return Record{Kind: RecordDelta, Delta: raw.Delta}, true
	case recordTypeItemDone:
		if raw.Item == nil || raw.Item.Type != itemTypeFileSearch {
			return Record{}, false
		}
		sources := make([]string, 0, len(raw.Item.Results))
		for _, r := range raw.Item.Results {
			if r.Filename != "" {
				sources = append(sources, r.Filename)
			}
		}
		return Record{Kind: RecordSources, Sources: sources}, true
	default:
		return Record{}, false
	}
}
