// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
)

// =============================================================================
// GetPersonality / SetPersonality Tests
// =============================================================================

func TestSetPersonality_AndGet(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(PersonalityMinimal)

	if got := GetPersonality(); got != PersonalityMinimal {
		t.Errorf("expected %v, got %v", PersonalityMinimal, got)
	}
}

// =============================================================================
// ParsePersonalityLevel Tests
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"F", PersonalityFull},
		{"standard", PersonalityStandard},
		{"std", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{" quiet ", PersonalityMachine},
		{"q", PersonalityMachine},
		{"", PersonalityStandard},
		{"nautical", PersonalityStandard},
	}

	for _, tt := range tests {
		if got := ParsePersonalityLevel(tt.in); got != tt.want {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// InitPersonality Tests
// =============================================================================

func TestInitPersonality_EnvOverride(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	t.Setenv(PersonalityEnv, "minimal")
	InitPersonality()

	if got := GetPersonality(); got != PersonalityMinimal {
		t.Errorf("expected minimal from env, got %v", got)
	}
}

func TestInitPersonality_NonTerminalIsMachine(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	// go test runs with stdout redirected, so detection falls back to machine.
	t.Setenv(PersonalityEnv, "")
	InitPersonality()

	if got := GetPersonality(); got != PersonalityMachine {
		t.Skipf("stdout is a terminal in this environment (level %v)", got)
	}
}

func TestShouldShowColors(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	for level, want := range map[PersonalityLevel]bool{
		PersonalityFull:     true,
		PersonalityStandard: true,
		PersonalityMinimal:  false,
		PersonalityMachine:  false,
	} {
		SetPersonality(level)
		if got := ShouldShowColors(); got != want {
			t.Errorf("ShouldShowColors() at %v = %v, want %v", level, got, want)
		}
	}
}

func TestIsTerminal_Nil(t *testing.T) {
	if isTerminal(nil) {
		t.Error("nil file must not be a terminal")
	}
}
