// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

//go:embed prompts/instructions.txt
var defaultInstructions string

//go:embed prompts/gate.txt
var defaultGatePrompt string

// DefaultInstructions returns the built-in assistant instructions.
func DefaultInstructions() string { return strings.TrimSpace(defaultInstructions) }

// DefaultGatePrompt returns the built-in relevance gate instructions.
func DefaultGatePrompt() string { return strings.TrimSpace(defaultGatePrompt) }

// Prompts is one immutable snapshot of the prompt texts.
type Prompts struct {
	// Instructions is sent with every generation request.
	Instructions string

	// Gate instructs the relevance classifier to answer ja or nee.
	Gate string
}

// PromptStore serves the current Prompts and reloads them from disk.
//
// # Description
//
// A request reads Current() once and uses that snapshot throughout, so a
// reload never mixes old and new texts within one request. A file that is
// unset falls back to the built-in text; a file that cannot be read keeps
// the previous snapshot.
//
// # Thread Safety
//
// Safe for concurrent use.
type PromptStore struct {
	current atomic.Pointer[Prompts]

	mu      sync.Mutex
	paths   PromptsConfig
	watcher *fsnotify.Watcher
}

// NewPromptStore loads the initial snapshot.
func NewPromptStore(paths PromptsConfig) (*PromptStore, error) {
	s := &PromptStore{paths: paths}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active snapshot.
func (s *PromptStore) Current() *Prompts {
	return s.current.Load()
}

// Reload re-reads the configured files and swaps in a new snapshot.
func (s *PromptStore) Reload() error {
	s.mu.Lock()
	paths := s.paths
	s.mu.Unlock()

	instructions, err := readPrompt(paths.InstructionsFile, DefaultInstructions())
	if err != nil {
		return err
	}
	gate, err := readPrompt(paths.GateFile, DefaultGatePrompt())
	if err != nil {
		return err
	}
	s.current.Store(&Prompts{Instructions: instructions, Gate: gate})
	return nil
}

// SetPaths switches to new override files and reloads.
func (s *PromptStore) SetPaths(paths PromptsConfig) error {
	s.mu.Lock()
	s.paths = paths
	if s.watcher != nil {
		s.addWatchesLocked()
	}
	s.mu.Unlock()
	return s.Reload()
}

func readPrompt(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fallback, nil
	}
	return text, nil
}

// Watch reloads the snapshot whenever a configured prompt file changes and
// blocks until ctx is cancelled.
//
// # Description
//
// The parent directories are watched rather than the files, so editors that
// replace a file by rename are picked up too.
func (s *PromptStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	defer watcher.Close()

	s.mu.Lock()
	s.watcher = watcher
	s.addWatchesLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.watcher = nil
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.isPromptFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("Prompt reload failed, keeping previous prompts", "file", event.Name, "error", err)
				continue
			}
			slog.Info("Prompts reloaded", "file", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Prompt watcher error", "error", err)
		}
	}
}

func (s *PromptStore) addWatchesLocked() {
	for _, p := range []string{s.paths.InstructionsFile, s.paths.GateFile} {
		if p == "" {
			continue
		}
		if err := s.watcher.Add(filepath.Dir(p)); err != nil {
			slog.Warn("Cannot watch prompt directory", "dir", filepath.Dir(p), "error", err)
		}
	}
}

func (s *PromptStore) isPromptFile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean := filepath.Clean(name)
	for _, p := range []string{s.paths.InstructionsFile, s.paths.GateFile} {
		if p != "" && filepath.Clean(p) == clean {
			return true
		}
	}
	return false
}
