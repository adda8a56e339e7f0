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

import "sync"

// DefaultWindowSize is how many turns are sent to the relay.
const DefaultWindowSize = 5

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one conversation message as the relay expects it.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextWindow keeps the most recent turns of a conversation.
//
// # Description
//
// The window never holds more than its size. Adding past the bound drops
// the oldest turns while keeping order.
//
// # Thread Safety
//
// Safe for concurrent use.
type ContextWindow struct {
	mu    sync.Mutex
	size  int
	turns []Turn
}

// NewContextWindow creates a window holding at most size turns. Sizes < 1
// use DefaultWindowSize.
func NewContextWindow(size int) *ContextWindow {
	if size < 1 {
		size = DefaultWindowSize
	}
	return &ContextWindow{size: size}
}

// Size returns the window bound.
func (w *ContextWindow) Size() int {
	return w.size
}

// Append adds a turn and trims to the bound.
func (w *ContextWindow) Append(t Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, t)
	if over := len(w.turns) - w.size; over > 0 {
		w.turns = append([]Turn(nil), w.turns[over:]...)
	}
}

// PushUser appends a user turn and returns the window to send upstream,
// which always ends with that turn.
func (w *ContextWindow) PushUser(content string) []Turn {
	w.Append(Turn{Role: RoleUser, Content: content})
	return w.Turns()
}

// Turns returns a copy of the window, oldest first.
func (w *ContextWindow) Turns() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Turn(nil), w.turns...)
}

// Len returns the number of turns held.
func (w *ContextWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Reset empties the window.
func (w *ContextWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
}
