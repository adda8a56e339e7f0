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
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"
)

// DefaultWrapWidth is the column markdown is wrapped at.
const DefaultWrapWidth = 80

// MarkdownRenderer turns answer markdown into terminal text.
//
// # Description
//
// Render is called with the complete answer after every delta, never with
// a fragment. Implementations must accept unfinished markup (an unclosed
// code fence, a half-written table) since the answer is cut mid-token.
type MarkdownRenderer interface {
	Render(markdown string) (string, error)
}

// =============================================================================
// glamour renderer
// =============================================================================

type glamourRenderer struct {
	term *glamour.TermRenderer
}

// NewMarkdownRenderer picks a renderer for level.
//
// # Description
//
// Full and standard levels use glamour with the terminal's dark or light
// style. Minimal uses glamour's "notty" style, which keeps structure but
// drops colors. Machine returns the markdown unchanged.
//
// # Inputs
//
//   - level: output level.
//   - width: wrap column; values <= 0 use DefaultWrapWidth.
//
// # Outputs
//
//   - MarkdownRenderer: never nil.
//   - error: glamour could not build its style.
func NewMarkdownRenderer(level PersonalityLevel, width int) (MarkdownRenderer, error) {
	if level == PersonalityMachine {
		return PlainRenderer{}, nil
	}
	if width <= 0 {
		width = DefaultWrapWidth
	}

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if level == PersonalityMinimal {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}

	term, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	return &glamourRenderer{term: term}, nil
}

func (r *glamourRenderer) Render(markdown string) (string, error) {
	out, err := r.term.Render(markdown)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, "\n"), nil
}

// PlainRenderer returns the markdown as-is.
type PlainRenderer struct{}

// Render implements MarkdownRenderer.
func (PlainRenderer) Render(markdown string) (string, error) {
	return markdown, nil
}

// =============================================================================
// Helpers
// =============================================================================

// SafeRender renders markdown and falls back to the raw text when the
// renderer errors or panics.
func SafeRender(r MarkdownRenderer, markdown string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Debug("markdown render panicked", "panic", rec)
			out = markdown
		}
	}()

	rendered, err := r.Render(markdown)
	if err != nil {
		slog.Debug("markdown render failed", "error", err)
		return markdown
	}
	return rendered
}

// PlainText strips terminal escape sequences from rendered output.
func PlainText(rendered string) string {
	return ansi.Strip(rendered)
}

var (
	_ MarkdownRenderer = (*glamourRenderer)(nil)
	_ MarkdownRenderer = PlainRenderer{}
)
