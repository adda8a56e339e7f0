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
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/ella/services/relay/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WeaviateConfig configures a WeaviateRetriever.
type WeaviateConfig struct {
	// URL is the weaviate endpoint, with or without scheme.
	URL string

	// Class holds the document chunks; it needs "filename" and "content"
	// properties and a text vectorizer.
	Class string

	MaxResults int

	// MinCertainty is passed to nearText as certainty.
	MinCertainty float64
}

// WeaviateRetriever searches a weaviate class with nearText.
type WeaviateRetriever struct {
	client *weaviate.Client
	cfg    WeaviateConfig
}

// NewWeaviateRetriever connects to weaviate. It returns ErrNotConfigured
// when URL is empty.
func NewWeaviateRetriever(cfg WeaviateConfig) (*WeaviateRetriever, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Class == "" {
		cfg.Class = "Document"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}

	clientCfg := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		clientCfg.Scheme = "https"
		clientCfg.Host = strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		clientCfg.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	clientCfg.Host = strings.TrimSuffix(clientCfg.Host, "/")

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateRetriever{client: client, cfg: cfg}, nil
}

// Name implements Retriever.
func (r *WeaviateRetriever) Name() string { return "weaviate" }

// Search implements Retriever.
func (r *WeaviateRetriever) Search(ctx context.Context, query string) (datatypes.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Search")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.backend", r.Name()))

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query}).
		WithCertainty(float32(r.cfg.MinCertainty))

	fields := []graphql.Field{
		{Name: "filename"},
		{Name: "content"},
		{Name: "_additional { certainty }"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(r.cfg.Class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(r.cfg.MaxResults).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query failed")
		return datatypes.EmptyRetrieval(), fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		span.SetStatus(codes.Error, "weaviate graphql error")
		return datatypes.EmptyRetrieval(), fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	matches := parseWeaviateMatches(result, r.cfg.Class)
	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))
	return datatypes.BuildRetrievalResult(matches), nil
}

// parseWeaviateMatches walks Get.<class>[] in the GraphQL response,
// skipping malformed objects.
func parseWeaviateMatches(result *models.GraphQLResponse, class string) []datatypes.Match {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[class].([]interface{})
	if !ok {
		return nil
	}

	matches := make([]datatypes.Match, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		filename, _ := m["filename"].(string)
		content, _ := m["content"].(string)
		if filename == "" && content == "" {
			continue
		}
		matches = append(matches, datatypes.Match{Filename: filename, Snippet: content})
	}
	return matches
}

var _ Retriever = (*WeaviateRetriever)(nil)
