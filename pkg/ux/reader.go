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
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

const (
	frameDelimiter = "\n\n"
	readChunkSize  = 4096
)

// StreamCallback receives each decoded event in stream order. Returning an
// error stops the read.
type StreamCallback func(event StreamEvent) error

// StreamReader turns a relay response body into events.
type StreamReader interface {
	// Read decodes frames from r until a done frame, EOF, a callback error
	// or ctx cancellation.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error
}

// frameStreamReader buffers raw bytes and cuts them at the frame delimiter.
//
// # Description
//
// Bytes are appended to a text buffer; every complete block (ending in
// "\n\n") is handed to the parser, and the trailing incomplete segment is
// kept for the next read. Event boundaries therefore never depend on how
// the transport chunks the body. At EOF a non-empty remainder is parsed as
// a final block.
//
// Blocks that fail to parse are logged and skipped.
//
// # Thread Safety
//
// Read keeps its state on the stack; one reader may serve many streams.
type frameStreamReader struct {
	parser FrameParser
}

// NewFrameStreamReader returns a StreamReader using parser.
func NewFrameStreamReader(parser FrameParser) StreamReader {
	return &frameStreamReader{parser: parser}
}

func (r *frameStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	var pending strings.Builder
	chunk := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := reader.Read(chunk)
		if n > 0 {
			pending.Write(chunk[:n])
			buf := strings.ReplaceAll(pending.String(), "\r\n", "\n")

			blocks := strings.Split(buf, frameDelimiter)
			rest := blocks[len(blocks)-1]
			for _, block := range blocks[:len(blocks)-1] {
				done, err := r.dispatch(block, callback)
				if err != nil || done {
					return err
				}
			}
			pending.Reset()
			pending.WriteString(rest)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if rest := strings.TrimSpace(pending.String()); rest != "" {
					_, err := r.dispatch(rest, callback)
					return err
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return readErr
		}
	}
}

func (r *frameStreamReader) dispatch(block string, callback StreamCallback) (bool, error) {
	event, err := r.parser.ParseBlock(block)
	if err != nil {
		slog.Debug("skipping malformed frame", "error", err)
		return false, nil
	}
	if event == nil {
		return false, nil
	}
	if err := callback(*event); err != nil {
		return true, err
	}
	return event.IsTerminal(), nil
}

var _ StreamReader = (*frameStreamReader)(nil)
