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
	"io"
	"os"
	"strings"
	"sync"
)

// FailureMessage replaces an answer that could not be produced.
const FailureMessage = "⚠️ Sorry, er ging iets verkeerd."

// CitationLink is a cited document with its download URL.
type CitationLink struct {
	Filename string
	URL      string
}

// ChatUI is the terminal surface of a chat session.
//
// # Description
//
// Output depends on the personality level. Machine level prints one
// prefixed line per item (RESPONSE:, SOURCE:, ERROR:) so it can be parsed;
// the others print styled text. Live answer redraws happen only when
// the UI is interactive.
//
// # Thread Safety
//
// Methods may be called from the session goroutine and a signal handler;
// writes are serialized.
type ChatUI interface {
	// Header prints the session banner.
	Header(serverURL string)

	// Prompt returns the input prompt string.
	Prompt() string

	// AnswerView starts a new answer bubble.
	AnswerView() AnswerView

	// Citations prints the registry as chips with download links.
	Citations(links []CitationLink)

	// Notice prints a short informational line (reset, abort).
	Notice(text string)

	// SessionEnd prints the goodbye line.
	SessionEnd(turns int)
}

type terminalChatUI struct {
	mu      sync.Mutex
	printer *Printer
	live    bool
}

// NewChatUI returns a UI on stdout at the active personality level.
func NewChatUI() ChatUI {
	return NewChatUIWithWriter(os.Stdout, GetPersonality(), IsInteractive())
}

// NewChatUIWithWriter returns a UI writing to w. live enables in-place
// redraws of the streaming answer.
func NewChatUIWithWriter(w io.Writer, level PersonalityLevel, live bool) ChatUI {
	return &terminalChatUI{
		printer: NewPrinter(w, level),
		live:    live && level != PersonalityMachine,
	}
}

func (u *terminalChatUI) write(format string, args ...any) {
	_, _ = fmt.Fprintf(u.printer.Writer(), format, args...)
}

func (u *terminalChatUI) Header(serverURL string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.printer.Level() {
	case PersonalityMachine:
		u.write("CHAT_START: server=%s\n", serverURL)
	case PersonalityMinimal:
		u.write("Ella (%s)\n", serverURL)
		u.write("Type /reset to start over, /exit to quit.\n")
	default:
		content := Styles.Highlight.Render("Ella") + "\n" +
			fmt.Sprintf("Server: %s", Styles.Muted.Render(serverURL))
		u.write("%s\n\n", Styles.Box.Width(60).Render(content))
		u.write("%s\n\n", Styles.Muted.Render("Type /reset to start over, /exit to quit. Ctrl+C stops an answer."))
	}
}

func (u *terminalChatUI) Prompt() string {
	if u.printer.Level() == PersonalityMachine {
		return "> "
	}
	return Styles.User.Render("> ")
}

func (u *terminalChatUI) AnswerView() AnswerView {
	if u.live {
		v := &liveAnswerView{ui: u, spinner: NewSpinner(u.printer.Writer(), "Ella denkt na...")}
		v.spinner.Start()
		return v
	}
	return &finalAnswerView{ui: u}
}

func (u *terminalChatUI) Citations(links []CitationLink) {
	if len(links) == 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.printer.Level() == PersonalityMachine {
		for _, l := range links {
			u.write("SOURCE: %s %s\n", l.Filename, l.URL)
		}
		return
	}

	names := make([]string, len(links))
	for i, l := range links {
		names[i] = l.Filename
	}
	u.write("\n%s %s\n", IconSource, u.printer.Chips(names))
	for _, l := range links {
		u.write("  %s %s\n", IconArrow, Styles.Muted.Render(l.URL))
	}
	u.write("\n")
}

// failure writes the apology line. Callers hold u.mu.
func (u *terminalChatUI) failure() {
	if u.printer.Level() == PersonalityMachine {
		u.write("ERROR: %s\n", FailureMessage)
		return
	}
	u.write("%s\n", Styles.Error.Render(FailureMessage))
}

func (u *terminalChatUI) Notice(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.printer.Muted(text)
}

func (u *terminalChatUI) SessionEnd(turns int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.printer.Level() == PersonalityMachine {
		u.write("CHAT_END: turns=%d\n", turns)
		return
	}
	u.printer.Muted(fmt.Sprintf("Tot ziens! (%d berichten)", turns))
}

// =============================================================================
// Answer views
// =============================================================================

// liveAnswerView shows a spinner until the first update, then redraws the
// bubble in place on every update.
type liveAnswerView struct {
	ui      *terminalChatUI
	spinner *Spinner
	lines   int
}

func (v *liveAnswerView) Update(rendered string) {
	v.spinner.Stop()
	v.ui.mu.Lock()
	defer v.ui.mu.Unlock()
	v.clear()
	v.ui.write("%s", rendered)
	v.lines = strings.Count(rendered, "\n") + 1
}

func (v *liveAnswerView) Finish(rendered string) {
	v.spinner.Stop()
	v.ui.mu.Lock()
	defer v.ui.mu.Unlock()
	v.clear()
	v.ui.write("%s\n", rendered)
	v.lines = 0
}

func (v *liveAnswerView) Fail() {
	v.spinner.Stop()
	v.ui.mu.Lock()
	defer v.ui.mu.Unlock()
	v.clear()
	v.lines = 0
	v.ui.failure()
}

// clear moves to the first line of the bubble and erases to screen end.
func (v *liveAnswerView) clear() {
	if v.lines == 0 {
		return
	}
	v.ui.write("\r")
	if v.lines > 1 {
		v.ui.write("\033[%dA", v.lines-1)
	}
	v.ui.write("\033[J")
}

// finalAnswerView prints only the finished answer.
type finalAnswerView struct {
	ui *terminalChatUI
}

func (v *finalAnswerView) Update(string) {}

func (v *finalAnswerView) Finish(rendered string) {
	v.ui.mu.Lock()
	defer v.ui.mu.Unlock()
	if v.ui.printer.Level() == PersonalityMachine {
		v.ui.write("RESPONSE: %s\n", rendered)
		return
	}
	v.ui.write("%s\n", rendered)
}

func (v *finalAnswerView) Fail() {
	v.ui.mu.Lock()
	defer v.ui.mu.Unlock()
	v.ui.failure()
}

var (
	_ ChatUI     = (*terminalChatUI)(nil)
	_ AnswerView = (*liveAnswerView)(nil)
	_ AnswerView = (*finalAnswerView)(nil)
)
