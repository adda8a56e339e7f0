// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request, retrieval and frame types shared by
// the relay's handlers, retrieval clients and transcoder.
package datatypes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// RoleUser marks a turn typed by the person chatting.
	RoleUser = "user"

	// RoleAssistant marks a turn produced by the generation engine.
	RoleAssistant = "assistant"

	// MaxTurnsPerRequest is a hard ceiling well above the client window.
	MaxTurnsPerRequest = 100
)

// ErrEmptyConversation is returned when the inbound request carries no turns.
var ErrEmptyConversation = errors.New("expected { text: <conversation array> }")

var chatValidate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Turn is one message of the conversation. Turns are treated as immutable
// values: the augmented copy sent upstream is built with AugmentLatest and
// never written back into the caller's slice.
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// ChatRequest is the inbound body of POST /v1/chat/stream.
//
// # Description
//
// The field is called "text" for wire compatibility with the browser client,
// even though it carries a slice of turns.
type ChatRequest struct {
	Text []Turn `json:"text" validate:"required,min=1,max=100,dive"`
}

// ValidationError describes why a conversation was refused. Its message is
// stable and safe to send to the client.
type ValidationError struct {
	// Index is the offending turn, or -1 for the conversation as a whole.
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "invalid conversation: " + e.Reason
	}
	return fmt.Sprintf("invalid turn at index %d: %s", e.Index, e.Reason)
}

// Validate checks the request. An empty or missing conversation maps to
// ErrEmptyConversation; every other failure is a *ValidationError.
func (r *ChatRequest) Validate() error {
	if len(r.Text) == 0 {
		return ErrEmptyConversation
	}
	err := chatValidate.Struct(r)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Index: -1, Reason: "malformed turns"}
	}
	return describeFieldError(fieldErrs[0])
}

func describeFieldError(fe validator.FieldError) *ValidationError {
	index := turnIndex(fe.Namespace())
	switch {
	case index < 0 && fe.Tag() == "max":
		return &ValidationError{Index: -1, Reason: fmt.Sprintf("more than %d turns", MaxTurnsPerRequest)}
	case fe.Field() == "Role":
		return &ValidationError{Index: index, Reason: "role must be user or assistant"}
	default:
		return &ValidationError{Index: index, Reason: strings.ToLower(fe.Field()) + " is invalid"}
	}
}

// turnIndex extracts N from a namespace like "ChatRequest.Text[N].Role".
func turnIndex(namespace string) int {
	start := strings.Index(namespace, "Text[")
	if start < 0 {
		return -1
	}
	rest := namespace[start+len("Text["):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return -1
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return -1
	}
	return n
}

// LatestQuery returns the index and content of the last turn, which is the
// one enriched and augmented whatever its role. The index is -1 for an
// empty conversation.
func (r *ChatRequest) LatestQuery() (int, string) {
	if len(r.Text) == 0 {
		return -1, ""
	}
	last := len(r.Text) - 1
	return last, r.Text[last].Content
}

// AugmentLatest returns a copy of turns where the turn at index carries
// query + "\n\n" + contextText, trimmed. The input slice is not modified.
func AugmentLatest(turns []Turn, index int, query, contextText string) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	if index < 0 || index >= len(out) {
		return out
	}
	out[index] = Turn{
		Role:    out[index].Role,
		Content: strings.TrimSpace(query + "\n\n" + contextText),
	}
	return out
}
