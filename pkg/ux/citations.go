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
	"strings"
	"sync"
)

// CitationRegistry is the ordered set of documents cited in a session,
// most recently cited first.
//
// # Description
//
// Filenames compare case-insensitively. A filename cited again moves to the
// front and keeps the spelling it was first seen with. Add processes its
// arguments in order, each moving to the front, so the last one ends up
// first.
//
// # Thread Safety
//
// Safe for concurrent use.
type CitationRegistry struct {
	mu      sync.Mutex
	entries []string
}

// NewCitationRegistry returns an empty registry.
func NewCitationRegistry() *CitationRegistry {
	return &CitationRegistry{}
}

// Add cites filenames. Blank names are ignored.
func (r *CitationRegistry) Add(filenames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range filenames {
		if strings.TrimSpace(name) == "" {
			continue
		}
		display := name
		for i, existing := range r.entries {
			if strings.EqualFold(existing, name) {
				display = existing
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				break
			}
		}
		r.entries = append([]string{display}, r.entries...)
	}
}

// Entries returns the cited filenames, most recent first.
func (r *CitationRegistry) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

// Len returns the number of distinct citations.
func (r *CitationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset forgets every citation.
func (r *CitationRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// FilterCited keeps the candidates whose filename occurs in text,
// ignoring case. Candidate order is kept.
func FilterCited(text string, candidates []string) []string {
	lower := strings.ToLower(text)
	cited := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(c)) {
			cited = append(cited, c)
		}
	}
	return cited
}
