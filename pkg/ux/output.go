// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux is the terminal side of Ella: it consumes the relay's frame
// stream, renders answers as markdown, keeps the conversation window and
// shows citation chips.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	ColorCoral   = lipgloss.Color("#FF7A59")
	ColorSand    = lipgloss.Color("#F5D491")
	ColorSea     = lipgloss.Color("#20B9B4")
	ColorDeepSea = lipgloss.Color("#104855")
	ColorSlate   = lipgloss.Color("#5C7A84")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles groups the lipgloss styles used across the CLI.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	User      lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
	Chip     lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorCoral),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorSea).Bold(true),
	User:      lipgloss.NewStyle().Foreground(ColorSand),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSea).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
	Chip: lipgloss.NewStyle().
		Foreground(ColorDeepSea).
		Background(ColorSand).
		Padding(0, 1),
}

// Icon is a single-glyph status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconSource  Icon = "📄"
)

// Render styles the icon by its meaning.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes status lines at a fixed personality level.
//
// # Description
//
// Machine level prints prefixed plain lines (OK:, WARN:, ERROR:) so scripts
// can grep them. Minimal prints icons without colors. Full and standard
// print styled text.
//
// # Thread Safety
//
// Not safe for concurrent use; writes go straight to the writer.
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter binds a printer to w at level.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel {
	return p.level
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Title prints a heading. Machine level prints nothing.
func (p *Printer) Title(text string) {
	if p.level == PersonalityMachine {
		return
	}
	if p.level == PersonalityMinimal {
		p.printf("%s\n", text)
		return
	}
	p.printf("%s\n", Styles.Title.Render(text))
}

// Success prints a confirmation line.
func (p *Printer) Success(text string) {
	p.status("OK", IconSuccess, Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status("WARN", IconWarning, Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status("ERROR", IconError, Styles.Error, text)
}

func (p *Printer) status(prefix string, icon Icon, style lipgloss.Style, text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf("%s: %s\n", prefix, text)
	case PersonalityMinimal:
		p.printf("%s %s\n", icon, text)
	default:
		p.printf("%s %s\n", icon.Render(), style.Render(text))
	}
}

// Muted prints secondary text. Machine level prints nothing.
func (p *Printer) Muted(text string) {
	switch p.level {
	case PersonalityMachine:
		return
	case PersonalityMinimal:
		p.printf("%s\n", text)
	default:
		p.printf("%s\n", Styles.Muted.Render(text))
	}
}

// Box prints content under a title inside a rounded border.
func (p *Printer) Box(title, content string) {
	switch p.level {
	case PersonalityMachine:
		p.printf("%s: %s\n", title, strings.ReplaceAll(content, "\n", " "))
	case PersonalityMinimal:
		p.printf("%s\n%s\n", title, content)
	default:
		p.printf("%s\n", Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// Chips renders labels as inline chips separated by a space.
func (p *Printer) Chips(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	if p.level != PersonalityFull && p.level != PersonalityStandard {
		return "[" + strings.Join(labels, "] [") + "]"
	}
	rendered := make([]string, len(labels))
	for i, l := range labels {
		rendered[i] = Styles.Chip.Render(l)
	}
	return strings.Join(rendered, " ")
}
