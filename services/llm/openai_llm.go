// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ella.llm.responses")

// maxErrorBodyBytes caps how much of an upstream error body is relayed.
const maxErrorBodyBytes = 64 * 1024

// ResponsesClient opens streaming calls against an OpenAI-compatible
// Responses endpoint ({baseURL}/responses).
type ResponsesClient struct {
	httpClient *http.Client
	baseURL    string
}

// ResponsesConfig configures a ResponsesClient.
type ResponsesConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// Key authenticates every request.
	Key *APIKey

	// HeaderTimeout bounds the wait for response headers. The body itself
	// is unbounded; cancellation comes from the request context.
	HeaderTimeout time.Duration
}

// NewResponsesClient builds a client. A missing key is not an error here;
// the first OpenStream call reports it as an UpstreamError.
func NewResponsesClient(cfg ResponsesConfig) *ResponsesClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	}
	slog.Info("Initializing responses client",
		"base_url", cfg.BaseURL,
		"key_present", cfg.Key.Present(),
	)
	return &ResponsesClient{
		httpClient: NewHTTPClient(cfg.Key, transport),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// OpenStream posts req with stream=true and returns the raw event stream.
// The caller must close the returned body.
func (c *ResponsesClient) OpenStream(ctx context.Context, req ResponsesRequest) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "ResponsesClient.OpenStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.num_turns", len(req.Input)),
	)

	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream connect failed")
		return nil, &UpstreamError{Err: err}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		span.SetStatus(codes.Error, "upstream non-success status")
		slog.Error("responses endpoint returned an error",
			"status_code", resp.StatusCode,
			"response", string(body),
		)
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		span.SetStatus(codes.Error, "upstream missing body")
		return nil, &UpstreamError{Status: http.StatusInternalServerError, Body: "empty response body"}
	}

	return resp.Body, nil
}

var _ StreamOpener = (*ResponsesClient)(nil)
