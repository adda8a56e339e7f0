// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/AleutianAI/ella/services/relay/citations"
	"github.com/AleutianAI/ella/services/relay/config"
	"github.com/AleutianAI/ella/services/relay/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEngine struct {
	mu    sync.Mutex
	input []string
}

func (e *recordingEngine) OpenStream(_ context.Context, req llm.ResponsesRequest) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range req.Input {
		e.input = append(e.input, t.Content)
	}
	return io.NopCloser(strings.NewReader(
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Zie surf.pdf\"}\n")), nil
}

func baseConfig(port int) *config.Config {
	cfg := config.Config{
		Server:    config.ServerConfig{Port: port, GinMode: "test"},
		OpenAI:    config.OpenAIConfig{BaseURL: "http://127.0.0.1:1", APIKey: "sk-test", Model: "m"},
		Retrieval: config.RetrievalConfig{Backend: config.BackendOpenAI, MaxResults: 10, ScoreThreshold: 0.5, RewriteQuery: true},
		Stream:    config.StreamConfig{HeartbeatInterval: time.Second, UpstreamTimeout: time.Second},
		Citations: config.CitationsConfig{Backend: config.CitationsNone},
		Telemetry: config.TelemetryConfig{Metrics: true},
	}.Normalize()
	return &cfg
}

func postChat(t *testing.T, h http.Handler, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"text": []map[string]string{{"role": "user", "content": content}}})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(string(body))))
	return w
}

func TestNew_ClearsPlaintextKey(t *testing.T) {
	cfg := baseConfig(12210)
	svc, err := New(context.Background(), cfg, Options{Engine: &recordingEngine{}})
	require.NoError(t, err)
	defer svc.Close()

	assert.Empty(t, cfg.OpenAI.APIKey)
}

func TestService_RetrievalDisabledPassesQueryThrough(t *testing.T) {
	engine := &recordingEngine{}
	svc, err := New(context.Background(), baseConfig(12210), Options{Engine: engine})
	require.NoError(t, err)
	defer svc.Close()

	w := postChat(t, svc.Router(), "Wat is blended wave?")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `event: metadata`)
	assert.Contains(t, w.Body.String(), `"sources":[]`)
	assert.Equal(t, []string{"Wat is blended wave?"}, engine.input)
}

func TestService_VectorStoreEnrichment(t *testing.T) {
	var searches atomic.Int32
	index := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		assert.Equal(t, "/vector_stores/vs_1/search", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[{"filename":"surf.pdf","content":[{"type":"text","text":"Golven"}]}]}`)
	}))
	defer index.Close()

	cfg := baseConfig(12210)
	cfg.OpenAI.BaseURL = index.URL
	cfg.Retrieval.VectorStoreID = "vs_1"

	engine := &recordingEngine{}
	svc, err := New(context.Background(), cfg, Options{Engine: engine, Classifier: gate.Always(true)})
	require.NoError(t, err)
	defer svc.Close()

	w := postChat(t, svc.Router(), "Hoe surf ik?")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), searches.Load())
	require.Len(t, engine.input, 1)
	assert.True(t, strings.HasPrefix(engine.input[0], "Hoe surf ik?\n\nDit zijn de bronnen"))
	assert.Contains(t, engine.input[0], "Start Bron 'surf.pdf'")
	assert.Contains(t, w.Body.String(), `"sources":["surf.pdf"]`)
}

func TestService_GateSaysNoSkipsSearch(t *testing.T) {
	var searches atomic.Int32
	index := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
	}))
	defer index.Close()

	cfg := baseConfig(12210)
	cfg.OpenAI.BaseURL = index.URL
	cfg.Retrieval.VectorStoreID = "vs_1"

	engine := &recordingEngine{}
	svc, err := New(context.Background(), cfg, Options{Engine: engine, Classifier: gate.Always(false)})
	require.NoError(t, err)
	defer svc.Close()

	w := postChat(t, svc.Router(), "Hoi!")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, searches.Load())
	assert.Equal(t, []string{"Hoi!"}, engine.input)
}

func TestService_BadgerCitations(t *testing.T) {
	cfg := baseConfig(12210)
	cfg.Citations = config.CitationsConfig{Backend: config.CitationsBadger, BadgerPath: t.TempDir()}

	svc, err := New(context.Background(), cfg, Options{Engine: &recordingEngine{}})
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/citations/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_InjectedCitationStore(t *testing.T) {
	store, err := citations.OpenBadgerStore(citations.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "a.pdf", citations.Metadata{ContentType: "application/pdf"}, []byte("pdf")))

	svc, err := New(context.Background(), baseConfig(12210), Options{Engine: &recordingEngine{}, CitationStore: store})
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/citations/a.pdf", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pdf", w.Body.String())
}

func TestService_MetricsEndpoint(t *testing.T) {
	svc, err := New(context.Background(), baseConfig(12210), Options{Engine: &recordingEngine{}})
	require.NoError(t, err)
	defer svc.Close()

	_ = postChat(t, svc.Router(), "hoi")

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ella_relay_requests_total")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestService_RunStopsOnCancel(t *testing.T) {
	port := freePort(t)
	svc, err := New(context.Background(), baseConfig(port), Options{Engine: &recordingEngine{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownGrace + 2*time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_StdoutTracing(t *testing.T) {
	cfg := baseConfig(12210)
	cfg.Telemetry.TraceStdout = true

	svc, err := New(context.Background(), cfg, Options{Engine: &recordingEngine{}})
	require.NoError(t, err)
	require.NotNil(t, svc.tracerCleanup)

	svc.Close()
	assert.Nil(t, svc.tracerCleanup)
}
