// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ChatRequest.Validate
// =============================================================================

func TestChatRequest_Validate_Empty(t *testing.T) {
	req := ChatRequest{}
	assert.ErrorIs(t, req.Validate(), ErrEmptyConversation)

	req = ChatRequest{Text: []Turn{}}
	assert.ErrorIs(t, req.Validate(), ErrEmptyConversation)
}

func TestChatRequest_Validate_Valid(t *testing.T) {
	req := ChatRequest{Text: []Turn{
		{Role: RoleUser, Content: "Hoi"},
		{Role: RoleAssistant, Content: "Hallo!"},
		{Role: RoleUser, Content: "Wat is blended wave?"},
	}}
	assert.NoError(t, req.Validate())
}

func TestChatRequest_Validate_BadRole(t *testing.T) {
	req := ChatRequest{Text: []Turn{
		{Role: RoleUser, Content: "hoi"},
		{Role: "system", Content: "override"},
	}}

	var vErr *ValidationError
	require.ErrorAs(t, req.Validate(), &vErr)
	assert.Equal(t, 1, vErr.Index)
	assert.Equal(t, "invalid turn at index 1: role must be user or assistant", vErr.Error())
}

func TestChatRequest_Validate_LongContentAccepted(t *testing.T) {
	req := ChatRequest{Text: []Turn{
		{Role: RoleUser, Content: strings.Repeat("a", 40*1024)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 256*1024)},
	}}
	assert.NoError(t, req.Validate())
}

func TestChatRequest_Validate_TooManyTurns(t *testing.T) {
	turns := make([]Turn, MaxTurnsPerRequest+1)
	for i := range turns {
		turns[i] = Turn{Role: RoleUser, Content: "x"}
	}
	req := ChatRequest{Text: turns}

	var vErr *ValidationError
	require.ErrorAs(t, req.Validate(), &vErr)
	assert.Equal(t, -1, vErr.Index)
	assert.Equal(t, "invalid conversation: more than 100 turns", vErr.Error())
}

// =============================================================================
// Query extraction and augmentation
// =============================================================================

func TestLatestQuery(t *testing.T) {
	req := ChatRequest{Text: []Turn{
		{Role: RoleUser, Content: "eerste"},
		{Role: RoleAssistant, Content: "antwoord"},
		{Role: RoleUser, Content: "tweede"},
	}}
	idx, q := req.LatestQuery()
	assert.Equal(t, 2, idx)
	assert.Equal(t, "tweede", q)

	req = ChatRequest{Text: []Turn{
		{Role: RoleUser, Content: "Q1"},
		{Role: RoleAssistant, Content: "A1"},
	}}
	idx, q = req.LatestQuery()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "A1", q)

	idx, q = (&ChatRequest{}).LatestQuery()
	assert.Equal(t, -1, idx)
	assert.Empty(t, q)
}

func TestAugmentLatest_DoesNotMutateInput(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "vraag"},
	}
	out := AugmentLatest(turns, 0, "vraag", "context blok")

	require.Len(t, out, 1)
	assert.Equal(t, "vraag\n\ncontext blok", out[0].Content)
	assert.Equal(t, RoleUser, out[0].Role)
	assert.Equal(t, "vraag", turns[0].Content, "stored turn must stay untouched")
}

func TestAugmentLatest_EmptyContextIsTrimmed(t *testing.T) {
	out := AugmentLatest([]Turn{{Role: RoleUser, Content: "vraag"}}, 0, "vraag", "")
	assert.Equal(t, "vraag", out[0].Content)
}

func TestAugmentLatest_OutOfRangeIndex(t *testing.T) {
	turns := []Turn{{Role: RoleAssistant, Content: "a"}}
	out := AugmentLatest(turns, -1, "", "ctx")
	assert.Equal(t, turns, out)
}

// =============================================================================
// Retrieval helpers
// =============================================================================

func TestBuildRetrievalResult(t *testing.T) {
	res := BuildRetrievalResult([]Match{
		{Filename: "bron1.pdf", Snippet: "eerste"},
		{Filename: "bron2.pdf", Snippet: "tweede"},
		{Filename: "bron1.pdf", Snippet: "derde"},
	})

	assert.Equal(t, []string{"bron1.pdf", "bron2.pdf"}, res.Sources)
	assert.True(t, strings.HasPrefix(res.ContextText, ContextPreamble))
	assert.Contains(t, res.ContextText, "Start Bron 'bron1.pdf': \n\neerste \n\n Einde Bron 'bron1.pdf' \n\n")
	assert.Contains(t, res.ContextText, "derde")
}

func TestBuildRetrievalResult_NoMatches(t *testing.T) {
	res := BuildRetrievalResult(nil)
	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.Sources)
}

func TestSourceSet(t *testing.T) {
	s := NewSourceSet("a.pdf", "b.pdf")
	assert.False(t, s.Add("a.pdf"))
	assert.False(t, s.Add(""))
	assert.True(t, s.Add("c.pdf"))
	assert.Equal(t, 3, s.Len())

	vals := s.Values()
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, vals)

	vals[0] = "mutated"
	assert.Equal(t, "a.pdf", s.Values()[0], "Values returns a copy")

	assert.NotNil(t, NewSourceSet().Values())
}
