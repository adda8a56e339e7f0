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
	"io"
	"strings"
	"time"
)

// AnswerView displays an answer while it streams.
type AnswerView interface {
	// Update replaces the displayed answer with rendered.
	Update(rendered string)

	// Finish shows the final answer; no Update follows.
	Finish(rendered string)

	// Fail replaces whatever was shown with the failure message.
	Fail()
}

// StreamResult is what a consumed stream produced.
type StreamResult struct {
	// Answer is the raw markdown assembled from every delta.
	Answer string

	// Rendered is Answer after the last render.
	Rendered string

	// Candidates are the sources the relay reported.
	Candidates []string

	// Sources are the candidates the answer actually mentions.
	Sources []string

	// Context is the retrieved context text, when the relay sent it.
	Context string

	// Deltas counts token frames.
	Deltas int

	// Aborted is set when the consumer cancelled the stream.
	Aborted bool

	// FirstDeltaAfter is the delay until the first token frame.
	FirstDeltaAfter time.Duration
}

// StreamConsumer assembles a relay stream into an answer.
//
// # Description
//
// Every token frame appends to the running answer and the whole answer is
// rendered again and pushed to the view. A metadata frame only records
// candidate sources. When the stream ends the candidates are filtered to
// those named in the rendered answer's plain text.
//
// Cancelling ctx is an abort: the partial answer is finalized as-is and
// Consume returns it with Aborted set and a nil error. Any other read
// failure returns the partial result together with the error.
//
// # Thread Safety
//
// A consumer keeps per-call state on the stack and may be reused
// sequentially or concurrently, provided the view tolerates it.
type StreamConsumer struct {
	reader   StreamReader
	renderer MarkdownRenderer
	view     AnswerView
}

// NewStreamConsumer wires a consumer. A nil renderer renders plain text and
// a nil view displays nothing.
func NewStreamConsumer(reader StreamReader, renderer MarkdownRenderer, view AnswerView) *StreamConsumer {
	if reader == nil {
		reader = NewFrameStreamReader(NewFrameParser())
	}
	if renderer == nil {
		renderer = PlainRenderer{}
	}
	return &StreamConsumer{reader: reader, renderer: renderer, view: view}
}

// Consume reads body until the done frame, EOF, an error or cancellation.
func (c *StreamConsumer) Consume(ctx context.Context, body io.Reader) (*StreamResult, error) {
	var (
		answer  strings.Builder
		result  = &StreamResult{}
		started = time.Now()
	)

	err := c.reader.Read(ctx, body, func(ev StreamEvent) error {
		switch ev.Type {
		case StreamEventToken:
			if result.Deltas == 0 {
				result.FirstDeltaAfter = time.Since(started)
			}
			result.Deltas++
			answer.WriteString(ev.Delta)
			result.Rendered = SafeRender(c.renderer, answer.String())
			if c.view != nil {
				c.view.Update(result.Rendered)
			}
		case StreamEventMetadata:
			result.Candidates = ev.Sources
			result.Context = ev.Context
		}
		return nil
	})
	result.Answer = answer.String()

	if err != nil {
		// A read failing after ctx is done is the abort surfacing through
		// the transport, whatever error it carries.
		if ctx.Err() == nil {
			return result, err
		}
		result.Aborted = true
	}

	result.Sources = FilterCited(PlainText(result.Rendered), result.Candidates)
	if c.view != nil {
		c.view.Finish(result.Rendered)
	}
	return result, nil
}
