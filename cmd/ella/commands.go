// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/ella/pkg/ux"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with Ella.

Type /reset to forget the conversation and the cited documents, /exit or
Ctrl+D to quit. Ctrl+C while an answer streams stops that answer and keeps
what was written so far.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

// newSession builds a session whose UI writes to out. Live redraws are used
// only when out is the terminal's stdout.
func newSession(out io.Writer) (*ux.ChatSession, ux.ChatUI, error) {
	level := ux.GetPersonality()
	ui := ux.NewChatUI()
	if out != io.Writer(os.Stdout) {
		ui = ux.NewChatUIWithWriter(out, level, false)
	}

	renderer, err := ux.NewMarkdownRenderer(level, ux.DefaultWrapWidth)
	if err != nil {
		return nil, nil, err
	}
	session := ux.NewChatSession(ux.SessionConfig{
		Client:     ux.NewRelayClient(clientConfig, nil),
		UI:         ui,
		Renderer:   renderer,
		WindowSize: clientConfig.WindowSize,
	})
	return session, ui, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, _, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	_, err = session.Ask(ctx, strings.Join(args, " "))
	return err
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	session, ui, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	ui.Header(clientConfig.ServerURL)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	interrupts := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				// Dropped when no answer is streaming.
				select {
				case interrupts <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	var input ux.InputReader
	if in := cmd.InOrStdin(); in != io.Reader(os.Stdin) {
		input = ux.NewLineReader(in)
	} else {
		input = ux.NewInputReader(100)
	}
	return session.Run(ctx, input, interrupts)
}
