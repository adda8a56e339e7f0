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

// Session commands typed at the prompt.
const (
	CommandReset = "/reset"
	CommandExit  = "/exit"
)

// ChatOpener opens relay streams. *RelayClient implements it.
type ChatOpener interface {
	OpenChat(ctx context.Context, turns []Turn) (io.ReadCloser, string, error)
	CitationURL(filename string) string
}

// SessionConfig wires a ChatSession.
type SessionConfig struct {
	Client   ChatOpener
	UI       ChatUI
	Renderer MarkdownRenderer

	// WindowSize bounds the turns sent per request. Zero uses the default.
	WindowSize int

	// Logger receives operational logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// ChatSession is one conversation with the relay.
//
// # Description
//
// Each question is pushed onto the ContextWindow, the window is posted to
// the relay and the frame stream is consumed into the current answer
// bubble. A completed or aborted answer joins the window as an assistant
// turn; a failed one does not. Sources the answer actually names are added
// to the CitationRegistry and shown as chips.
//
// # Thread Safety
//
// Ask calls must not overlap. Reset may be called between them.
type ChatSession struct {
	client   ChatOpener
	ui       ChatUI
	renderer MarkdownRenderer
	window   *ContextWindow
	registry *CitationRegistry
	logger   *slog.Logger
	asked    int
}

// NewChatSession builds a session. It panics when Client or UI is nil.
func NewChatSession(cfg SessionConfig) *ChatSession {
	if cfg.Client == nil {
		panic("NewChatSession: Client must not be nil")
	}
	if cfg.UI == nil {
		panic("NewChatSession: UI must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = PlainRenderer{}
	}
	return &ChatSession{
		client:   cfg.Client,
		ui:       cfg.UI,
		renderer: renderer,
		window:   NewContextWindow(cfg.WindowSize),
		registry: NewCitationRegistry(),
		logger:   logger,
	}
}

// Window exposes the conversation window.
func (s *ChatSession) Window() *ContextWindow { return s.window }

// Citations exposes the citation registry.
func (s *ChatSession) Citations() *CitationRegistry { return s.registry }

// Ask sends question and streams the answer into a new bubble.
//
// # Outputs
//
//   - *StreamResult: the answer; Aborted is set when ctx was cancelled.
//   - error: the relay refused the request or the stream broke. The bubble
//     then shows FailureMessage and the window keeps only the question.
func (s *ChatSession) Ask(ctx context.Context, question string) (*StreamResult, error) {
	s.asked++
	turns := s.window.PushUser(question)
	view := s.ui.AnswerView()

	body, requestID, err := s.client.OpenChat(ctx, turns)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("answer aborted before streaming", "requestId", requestID)
			view.Finish("")
			return &StreamResult{Aborted: true}, nil
		}
		s.logger.Error("chat request failed", "requestId", requestID, "error", err)
		view.Fail()
		return nil, err
	}
	defer body.Close()

	res, err := NewStreamConsumer(nil, s.renderer, view).Consume(ctx, body)
	if err != nil {
		s.logger.Error("chat stream failed", "requestId", requestID, "error", err, "deltas", res.Deltas)
		view.Fail()
		return nil, err
	}

	if res.Answer != "" {
		s.window.Append(Turn{Role: RoleAssistant, Content: res.Answer})
	}
	s.logger.Info("answer complete",
		"requestId", requestID,
		"deltas", res.Deltas,
		"aborted", res.Aborted,
		"candidates", len(res.Candidates),
		"cited", len(res.Sources),
		"firstDeltaMs", res.FirstDeltaAfter.Milliseconds(),
	)

	// An aborted answer keeps its text but adds no chips.
	if len(res.Sources) > 0 && !res.Aborted {
		s.registry.Add(res.Sources...)
		s.ui.Citations(s.links())
	}
	if res.Aborted {
		s.ui.Notice("(antwoord gestopt)")
	}
	return res, nil
}

func (s *ChatSession) links() []CitationLink {
	entries := s.registry.Entries()
	links := make([]CitationLink, len(entries))
	for i, name := range entries {
		links[i] = CitationLink{Filename: name, URL: s.client.CitationURL(name)}
	}
	return links
}

// Reset clears the window and the citations.
func (s *ChatSession) Reset() {
	s.window.Reset()
	s.registry.Reset()
	s.ui.Notice("Nieuw gesprek gestart.")
}

// Run is the interactive loop.
//
// # Description
//
// Lines are read from input until io.EOF, CommandExit or ctx ends.
// CommandReset starts a new conversation. A value on interrupts while an
// answer streams aborts that answer only; interrupts between answers are
// ignored. Failed answers do not end the loop.
func (s *ChatSession) Run(ctx context.Context, input InputReader, interrupts <-chan struct{}) error {
	if p, ok := input.(PromptingInputReader); ok {
		p.SetPrompt(s.ui.Prompt())
	}

	for {
		if err := ctx.Err(); err != nil {
			s.ui.SessionEnd(s.asked)
			return nil
		}

		line, err := input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.ui.SessionEnd(s.asked)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, CommandExit), strings.EqualFold(line, "exit"):
			s.ui.SessionEnd(s.asked)
			return nil
		case strings.EqualFold(line, CommandReset):
			s.Reset()
			continue
		}

		s.askInterruptible(ctx, line, interrupts)
	}
}

func (s *ChatSession) askInterruptible(ctx context.Context, question string, interrupts <-chan struct{}) {
	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-stop:
		}
	}()

	// Failures are already shown in the bubble and logged.
	_, _ = s.Ask(askCtx, question)
}
