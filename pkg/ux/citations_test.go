// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCitationRegistry_MostRecentFirst(t *testing.T) {
	r := NewCitationRegistry()

	r.Add("a.pdf")
	r.Add("b.pdf")
	assert.Equal(t, []string{"b.pdf", "a.pdf"}, r.Entries())

	r.Add("a.pdf")
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, r.Entries())
}

func TestCitationRegistry_BatchLeavesLastInFront(t *testing.T) {
	r := NewCitationRegistry()
	r.Add("a.pdf", "b.pdf")

	assert.Equal(t, []string{"b.pdf", "a.pdf"}, r.Entries())
}

func TestCitationRegistry_NoDuplicatesCaseInsensitive(t *testing.T) {
	r := NewCitationRegistry()
	r.Add("Golf.pdf", "surf.pdf", "GOLF.PDF", "surf.pdf")

	assert.Equal(t, []string{"surf.pdf", "Golf.pdf"}, r.Entries())
	assert.Equal(t, 2, r.Len())
}

func TestCitationRegistry_IgnoresBlank(t *testing.T) {
	r := NewCitationRegistry()
	r.Add("", "  ", "a.pdf")

	assert.Equal(t, []string{"a.pdf"}, r.Entries())
}

func TestCitationRegistry_Reset(t *testing.T) {
	r := NewCitationRegistry()
	r.Add("a.pdf")
	r.Reset()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Entries())
}

func TestFilterCited(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		candidates []string
		want       []string
	}{
		{"keeps referenced only", "Zie bron1.pdf voor meer.", []string{"bron1.pdf", "bron2.pdf"}, []string{"bron1.pdf"}},
		{"case insensitive", "volgens BRON2.PDF", []string{"bron1.pdf", "bron2.pdf"}, []string{"bron2.pdf"}},
		{"no candidates", "tekst", nil, []string{}},
		{"none referenced", "geen bronnen", []string{"a.pdf"}, []string{}},
		{"empty candidate skipped", "a.pdf", []string{"", "a.pdf"}, []string{"a.pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterCited(tt.text, tt.candidates))
		})
	}
}
