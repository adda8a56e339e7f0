// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "VECTOR_STORE_ID", "ELLA_CONFIG",
		"ELLA_OPENAI_API_KEY", "ELLA_VECTOR_STORE_ID", "ELLA_RETRIEVAL_VECTOR_STORE_ID",
		"ELLA_SERVER_PORT", "ELLA_STREAM_HEARTBEAT_INTERVAL", "ELLA_RETRIEVAL_BACKEND",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12210, cfg.Server.Port)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, "gpt-4.1-mini-2025-04-14", cfg.OpenAI.Model)
	assert.Equal(t, cfg.OpenAI.Model, cfg.OpenAI.GateModel, "gate model falls back to the main model")
	assert.Equal(t, BackendOpenAI, cfg.Retrieval.Backend)
	assert.Equal(t, 10, cfg.Retrieval.MaxResults)
	assert.Equal(t, 0.5, cfg.Retrieval.ScoreThreshold)
	assert.True(t, cfg.Retrieval.RewriteQuery)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, CitationsNone, cfg.Citations.Backend)
	assert.False(t, cfg.RetrievalEnabled())
}

func TestLoad_UnprefixedEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("VECTOR_STORE_ID", "vs_123")
	t.Setenv("ELLA_STREAM_HEARTBEAT_INTERVAL", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "vs_123", cfg.Retrieval.VectorStoreID)
	assert.Equal(t, 2*time.Second, cfg.Stream.HeartbeatInterval)
	assert.True(t, cfg.RetrievalEnabled())
}

func TestLoad_PrefixedEnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("ELLA_OPENAI_API_KEY", "sk-prefixed")
	t.Setenv("OPENAI_API_KEY", "sk-plain")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.OpenAI.APIKey)
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "ella.yaml", `
server:
  port: 8080
retrieval:
  backend: Weaviate
  max_results: 5
weaviate:
  url: http://localhost:8081
citations:
  backend: badger
  badger_path: /tmp/citations
limits:
  requests_per_second: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendWeaviate, cfg.Retrieval.Backend)
	assert.Equal(t, 5, cfg.Retrieval.MaxResults)
	assert.Equal(t, "Document", cfg.Weaviate.Class)
	assert.Equal(t, CitationsBadger, cfg.Citations.Backend)
	assert.Equal(t, 5, cfg.Limits.Burst, "burst derives from the rate when unset")
	assert.True(t, cfg.RetrievalEnabled())
}

func TestLoad_ConfigPathFromEnvironment(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "ella.yaml", "server:\n  port: 9999\n")
	t.Setenv("ELLA_CONFIG", path)

	l, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, path, l.ConfigFile())

	cfg, err := l.Config()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Retrieval.Backend = "pinecone" }, "retrieval.backend"},
		{"weaviate without url", func(c *Config) { c.Retrieval.Backend = BackendWeaviate }, "weaviate.url"},
		{"threshold out of range", func(c *Config) { c.Retrieval.ScoreThreshold = 1.5 }, "score_threshold"},
		{"zero heartbeat", func(c *Config) { c.Stream.HeartbeatInterval = 0 }, "heartbeat_interval"},
		{"gcs without bucket", func(c *Config) { c.Citations.Backend = CitationsGCS }, "gcs_bucket"},
		{"unknown citations backend", func(c *Config) { c.Citations.Backend = "s3" }, "citations.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTakeAPIKey(t *testing.T) {
	cfg := &Config{OpenAI: OpenAIConfig{APIKey: "sk-secret"}}
	key := cfg.TakeAPIKey()

	assert.True(t, key.Present())
	assert.Empty(t, cfg.OpenAI.APIKey, "plaintext copy is cleared")

	logged := cfg.OpenAI.LogValue().String()
	assert.NotContains(t, logged, "sk-secret")
}

// =============================================================================
// PromptStore
// =============================================================================

func TestPromptStore_Defaults(t *testing.T) {
	s, err := NewPromptStore(PromptsConfig{})
	require.NoError(t, err)

	p := s.Current()
	assert.True(t, strings.HasPrefix(p.Instructions, "Je bent een digitale assistent in de onderwijssector."))
	assert.Contains(t, p.Instructions, "Ella")
	assert.Contains(t, p.Gate, `"ja" of "nee"`)
}

func TestPromptStore_OverrideAndFailedReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "instructions.txt", "  Wees kort.  \n")

	s, err := NewPromptStore(PromptsConfig{InstructionsFile: path})
	require.NoError(t, err)
	first := s.Current()
	assert.Equal(t, "Wees kort.", first.Instructions)
	assert.Equal(t, DefaultGatePrompt(), first.Gate)

	require.NoError(t, os.Remove(path))
	assert.Error(t, s.Reload())
	assert.Same(t, first, s.Current(), "a failed reload keeps the previous snapshot")

	writeFile(t, dir, "instructions.txt", "")
	require.NoError(t, s.Reload())
	assert.Equal(t, DefaultInstructions(), s.Current().Instructions, "an empty file falls back to the default")
}

func TestPromptStore_MissingFileAtStartup(t *testing.T) {
	_, err := NewPromptStore(PromptsConfig{GateFile: filepath.Join(t.TempDir(), "nope.txt")})
	assert.Error(t, err)
}

func TestPromptStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gate.txt", "Antwoord ja.")

	s, err := NewPromptStore(PromptsConfig{GateFile: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- s.Watch(ctx) }()

	// The watcher registers asynchronously; keep rewriting until it sees one.
	require.Eventually(t, func() bool {
		writeFile(t, dir, "gate.txt", "Antwoord nee.")
		return s.Current().Gate == "Antwoord nee."
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-watchDone)
}
