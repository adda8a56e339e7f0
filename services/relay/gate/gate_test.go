// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completion(content string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"m",`+
		`"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, content)
}

func newClassifier(t *testing.T, handler http.HandlerFunc) *OpenAIClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClassifier(Config{
		BaseURL: srv.URL,
		Model:   "gate-model",
		Key:     llm.NewAPIKey("sk-gate"),
		Prompt:  func() string { return "Antwoord ja of nee." },
	})
}

func TestClassify_Answers(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"ja", true},
		{"Ja.", true},
		{" JA ", true},
		{"Ja, zeker", true},
		{"nee", false},
		{"Nee.", false},
		{"jazeker", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			c := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(completion(tt.answer)))
			})
			d := c.Classify(context.Background(), "Wat is blended wave?")
			assert.NoError(t, d.Err)
			assert.Equal(t, tt.want, d.Relevant)
		})
	}
}

func TestClassify_RequestShape(t *testing.T) {
	var got chatRequest
	c := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-gate", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("ja")))
	})

	d := c.Classify(context.Background(), "Maak een lesplan")
	require.True(t, d.Relevant)

	assert.Equal(t, "gate-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Antwoord ja of nee.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Maak een lesplan", got.Messages[1].Content)
}

func TestClassify_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{not json`))
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newClassifier(t, tt.handler).Classify(context.Background(), "vraag")
			assert.False(t, d.Relevant)
			assert.Error(t, d.Err)
		})
	}
}

func TestClassify_NoKeyFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent without a key")
	}))
	defer srv.Close()

	c := NewOpenAIClassifier(Config{BaseURL: srv.URL, Model: "m", Key: llm.NewAPIKey(""), Prompt: func() string { return "" }})
	d := c.Classify(context.Background(), "vraag")
	assert.False(t, d.Relevant)
	assert.ErrorIs(t, d.Err, llm.ErrNoAPIKey)
}

func TestClassify_CancelledContext(t *testing.T) {
	c := newClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion("ja")))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := c.Classify(ctx, "vraag")
	assert.False(t, d.Relevant)
	assert.Error(t, d.Err)
}

func TestAlways(t *testing.T) {
	assert.True(t, Always(true).Classify(context.Background(), "x").Relevant)
	assert.False(t, Always(false).Classify(context.Background(), "x").Relevant)
}
