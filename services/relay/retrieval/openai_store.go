// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/AleutianAI/ella/services/relay/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// VectorStoreConfig configures a VectorStoreRetriever.
type VectorStoreConfig struct {
	BaseURL        string
	VectorStoreID  string
	Key            *llm.APIKey
	MaxResults     int
	ScoreThreshold float64
	RewriteQuery   bool
	Timeout        time.Duration
}

// VectorStoreRetriever searches an OpenAI vector store
// ({baseURL}/vector_stores/{id}/search).
type VectorStoreRetriever struct {
	httpClient *http.Client
	endpoint   string
	cfg        VectorStoreConfig
}

type vectorStoreSearchRequest struct {
	Query          string         `json:"query"`
	MaxNumResults  int            `json:"max_num_results"`
	RewriteQuery   bool           `json:"rewrite_query"`
	RankingOptions rankingOptions `json:"ranking_options"`
}

type rankingOptions struct {
	ScoreThreshold float64 `json:"score_threshold"`
}

type vectorStoreSearchResponse struct {
	Data []struct {
		Filename string  `json:"filename"`
		Score    float64 `json:"score"`
		Content  []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// NewVectorStoreRetriever builds a retriever. An empty VectorStoreID is
// valid and makes every Search a no-op.
func NewVectorStoreRetriever(cfg VectorStoreConfig) *VectorStoreRetriever {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := llm.NewHTTPClient(cfg.Key, nil)
	client.Timeout = cfg.Timeout

	endpoint := ""
	if cfg.VectorStoreID != "" {
		endpoint = fmt.Sprintf("%s/vector_stores/%s/search",
			strings.TrimSuffix(cfg.BaseURL, "/"), url.PathEscape(cfg.VectorStoreID))
	}
	return &VectorStoreRetriever{httpClient: client, endpoint: endpoint, cfg: cfg}
}

// Name implements Retriever.
func (r *VectorStoreRetriever) Name() string { return "openai" }

// Enabled reports whether a vector store id is configured.
func (r *VectorStoreRetriever) Enabled() bool { return r.endpoint != "" }

// Search implements Retriever.
func (r *VectorStoreRetriever) Search(ctx context.Context, query string) (datatypes.RetrievalResult, error) {
	if !r.Enabled() {
		return datatypes.EmptyRetrieval(), nil
	}

	ctx, span := tracer.Start(ctx, "Retriever.Search")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.backend", r.Name()))

	payload, err := json.Marshal(vectorStoreSearchRequest{
		Query:          query,
		MaxNumResults:  r.cfg.MaxResults,
		RewriteQuery:   r.cfg.RewriteQuery,
		RankingOptions: rankingOptions{ScoreThreshold: r.cfg.ScoreThreshold},
	})
	if err != nil {
		return datatypes.EmptyRetrieval(), fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return datatypes.EmptyRetrieval(), fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search request failed")
		return datatypes.EmptyRetrieval(), fmt.Errorf("vector store search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		span.SetStatus(codes.Error, "search non-success status")
		return datatypes.EmptyRetrieval(), fmt.Errorf("vector store search: status %d: %s", resp.StatusCode, body)
	}

	var parsed vectorStoreSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return datatypes.EmptyRetrieval(), fmt.Errorf("decode search response: %w", err)
	}

	matches := make([]datatypes.Match, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		snippet := ""
		if len(d.Content) > 0 {
			snippet = d.Content[0].Text
		}
		matches = append(matches, datatypes.Match{Filename: d.Filename, Snippet: snippet})
	}
	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))
	slog.Debug("Vector store search finished", "matches", len(matches))

	return datatypes.BuildRetrievalResult(matches), nil
}

var _ Retriever = (*VectorStoreRetriever)(nil)
