// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
)

// ContextPreamble opens every non-empty retrieval context.
const ContextPreamble = "Dit zijn de bronnen waarop je het antwoord moet baseren: \n "

// RetrievalResult is the request-scoped output of a semantic index query.
type RetrievalResult struct {
	ContextText string   `json:"context"`
	Sources     []string `json:"sources"`
}

// EmptyRetrieval is what every disabled, failed or empty search returns.
func EmptyRetrieval() RetrievalResult {
	return RetrievalResult{ContextText: "", Sources: []string{}}
}

// IsEmpty reports whether the result carries neither context nor sources.
func (r RetrievalResult) IsEmpty() bool {
	return r.ContextText == "" && len(r.Sources) == 0
}

// Match is a single hit from a semantic index.
type Match struct {
	Filename string
	Snippet  string
}

// BuildRetrievalResult turns ordered matches into a context blob and a
// first-seen-order unique filename list. No matches yields EmptyRetrieval.
func BuildRetrievalResult(matches []Match) RetrievalResult {
	if len(matches) == 0 {
		return EmptyRetrieval()
	}

	var sb strings.Builder
	sb.WriteString(ContextPreamble)
	sources := NewSourceSet()
	for _, m := range matches {
		fmt.Fprintf(&sb, "Start Bron '%s': \n\n%s \n\n Einde Bron '%s' \n\n", m.Filename, m.Snippet, m.Filename)
		sources.Add(m.Filename)
	}
	return RetrievalResult{ContextText: sb.String(), Sources: sources.Values()}
}

// =============================================================================
// SourceSet
// =============================================================================

// SourceSet is an ordered set of filenames, first-seen order, exact match.
//
// It is owned by exactly one request pipeline and is not safe for
// concurrent use.
type SourceSet struct {
	order []string
	seen  map[string]struct{}
}

// NewSourceSet returns a set seeded with the given filenames.
func NewSourceSet(seed ...string) *SourceSet {
	s := &SourceSet{seen: make(map[string]struct{})}
	for _, f := range seed {
		s.Add(f)
	}
	return s
}

// Add inserts filename unless it is empty or already present.
func (s *SourceSet) Add(filename string) bool {
	if filename == "" {
		return false
	}
	if _, ok := s.seen[filename]; ok {
		return false
	}
	s.seen[filename] = struct{}{}
	s.order = append(s.order, filename)
	return true
}

// Len returns the number of distinct filenames.
func (s *SourceSet) Len() int {
	return len(s.order)
}

// Values returns a copy of the filenames in insertion order, never nil.
func (s *SourceSet) Values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
