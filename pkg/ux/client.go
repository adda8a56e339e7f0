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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ChatStreamPath is the relay's streaming chat endpoint.
const ChatStreamPath = "/v1/chat/stream"

// RelayError is a non-success answer from the relay before streaming began.
type RelayError struct {
	Status  int
	Message string
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d", e.Status)
	}
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// RelayClient opens chat streams on an Ella relay.
//
// # Thread Safety
//
// Safe for concurrent use.
type RelayClient struct {
	serverURL        string
	citationTemplate string
	http             *http.Client
}

// NewRelayClient builds a client for cfg. A nil httpClient uses a client
// without a timeout, since streams stay open for the whole answer.
func NewRelayClient(cfg ClientConfig, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RelayClient{
		serverURL:        strings.TrimRight(cfg.ServerURL, "/"),
		citationTemplate: cfg.CitationsURLTemplate,
		http:             httpClient,
	}
}

// OpenChat posts the window and returns the open frame stream.
//
// # Description
//
// The request carries a fresh X-Request-ID so relay logs can be matched
// with the CLI's. A non-2xx answer is read as {"error": "..."} and returned
// as *RelayError. Cancelling ctx aborts the stream mid-read.
//
// # Outputs
//
//   - io.ReadCloser: the event stream; the caller closes it.
//   - string: the request id sent.
//   - error: transport failure or *RelayError.
func (c *RelayClient) OpenChat(ctx context.Context, turns []Turn) (io.ReadCloser, string, error) {
	body, err := json.Marshal(struct {
		Text []Turn `json:"text"`
	}{Text: turns})
	if err != nil {
		return nil, "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+ChatStreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build chat request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, requestID, fmt.Errorf("reach relay: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, requestID, &RelayError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	return resp.Body, requestID, nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}

// CitationURL fills the download template for filename.
func (c *RelayClient) CitationURL(filename string) string {
	tmpl := c.citationTemplate
	if tmpl == "" {
		tmpl = DefaultCitationsURLTemplate
	}
	return strings.NewReplacer(
		"{server}", c.serverURL,
		"{filename}", url.PathEscape(filename),
	).Replace(tmpl)
}
