// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the relay's HTTP endpoints.
//
// # Chat Stream Pipeline
//
// One request runs strictly in sequence:
//
//	bind + validate ──► 400 {error}
//	     │
//	     ▼
//	Enrich(latest user turn)      gate, then retrieval; never fails
//	     │
//	     ▼
//	AugmentLatest (copy)          query + "\n\n" + context
//	     │
//	     ▼
//	OpenStream ──────────────────► upstream status {error}
//	     │
//	     ▼
//	transcoder.Relay              token* → metadata → done
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/AleutianAI/ella/services/relay/datatypes"
	"github.com/AleutianAI/ella/services/relay/middleware"
	"github.com/AleutianAI/ella/services/relay/observability"
	"github.com/AleutianAI/ella/services/relay/retrieval"
	"github.com/AleutianAI/ella/services/relay/transcoder"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// upstreamErrorPrefix prefixes the raw engine error text relayed to clients.
const upstreamErrorPrefix = "OpenAI error: "

// Enricher produces the retrieval context for a query.
type Enricher interface {
	Enrich(ctx context.Context, query string) retrieval.Enrichment
}

// GatewayConfig holds the per-deployment settings of a RelayGateway.
type GatewayConfig struct {
	// Model is the generation model name.
	Model string

	// Instructions returns the system instructions for one request. It is
	// called once per request so a prompt reload never splits a request.
	Instructions func() string

	// HeartbeatInterval defaults to transcoder.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Tools and Include are forwarded to the engine unchanged. Both are
	// empty by default; the relay pre-fetches context itself.
	Tools   []llm.Tool
	Include []string
}

// RelayGateway serves the streaming chat endpoint.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction; every request
// owns its own source accumulator and frame writer.
type RelayGateway struct {
	engine   llm.StreamOpener
	enricher Enricher
	cfg      GatewayConfig
	tracer   trace.Tracer
}

// NewRelayGateway creates a gateway.
//
// # Inputs
//
//   - engine: Streaming generation client. Must not be nil.
//   - enricher: Gate plus retrieval. Must not be nil; pass an Enricher built
//     with retrieval disabled to skip enrichment.
//   - cfg: Model, instructions and heartbeat settings.
//
// # Limitations
//
//   - Panics on nil engine or enricher (programming errors).
func NewRelayGateway(engine llm.StreamOpener, enricher Enricher, cfg GatewayConfig) *RelayGateway {
	if engine == nil {
		panic("NewRelayGateway: engine must not be nil")
	}
	if enricher == nil {
		panic("NewRelayGateway: enricher must not be nil")
	}
	if cfg.Instructions == nil {
		cfg.Instructions = func() string { return "" }
	}
	return &RelayGateway{
		engine:   engine,
		enricher: enricher,
		cfg:      cfg,
		tracer:   otel.Tracer("ella.relay.handlers.chat_stream"),
	}
}

// HandleChatStream answers POST /v1/chat/stream.
//
// # Description
//
// Validates the conversation, enriches the last turn with retrieved
// context, opens the upstream stream and relays it as id/event/data frames.
// The only error responses are the 400 for a bad body and the upstream
// status for a refused generation call; both precede any streamed byte.
// After streaming starts, every failure just ends the stream.
func (g *RelayGateway) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream
	requestID := middleware.GetRequestID(c)

	ctx, span := g.tracer.Start(c.Request.Context(), "RelayGateway.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	// Step 1: Parse and validate
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.reject(c, span, requestID, datatypes.ErrEmptyConversation.Error(), err)
		return
	}
	if err := req.Validate(); err != nil {
		g.reject(c, span, requestID, err.Error(), err)
		return
	}
	span.SetAttributes(attribute.Int("chat.num_turns", len(req.Text)))

	// Step 2: Gate and retrieve
	index, query := req.LatestQuery()
	enrichment := g.enricher.Enrich(ctx, query)
	span.SetAttributes(
		attribute.String("enrichment.outcome", string(enrichment.Outcome)),
		attribute.Int("enrichment.num_sources", len(enrichment.Result.Sources)),
	)
	if enrichment.Outcome == retrieval.OutcomeDegraded {
		slog.Debug("Enrichment degraded",
			"requestId", requestID,
			"error", enrichment.Err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrieval)
		}
	}

	// Step 3: Augment a copy of the conversation
	input := req.Text
	if index >= 0 {
		input = datatypes.AugmentLatest(req.Text, index, query, enrichment.Result.ContextText)
	}

	// Step 4: Open the upstream stream
	body, err := g.engine.OpenStream(ctx, llm.ResponsesRequest{
		Model:        g.cfg.Model,
		Input:        input,
		Instructions: g.cfg.Instructions(),
		Tools:        g.cfg.Tools,
		Include:      g.cfg.Include,
	})
	if err != nil {
		status, text := upstreamFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream refused")
		slog.Error("Failed to open upstream stream",
			"requestId", requestID,
			"status", status,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeUpstream)
		}
		c.JSON(status, gin.H{"error": upstreamErrorPrefix + text})
		return
	}
	defer body.Close()

	// Step 5: Stream
	transcoder.SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	writer := transcoder.NewFrameWriter(c.Writer)
	acc := datatypes.NewSourceSet(enrichment.Result.Sources...)
	result, relayErr := transcoder.Relay(ctx, body, writer, acc, enrichment.Result.ContextText, transcoder.Options{
		HeartbeatInterval: g.cfg.HeartbeatInterval,
		OnDelta: func(count int) {
			m := observability.DefaultMetrics
			if m == nil {
				return
			}
			m.RecordDelta(endpoint)
			if count == 1 {
				m.RecordTimeToFirstDelta(endpoint, time.Since(startTime).Seconds())
			}
		},
		OnKeepAlive: func() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		},
	})

	duration := time.Since(startTime).Seconds()
	span.SetAttributes(
		attribute.Int("stream.deltas", result.Deltas),
		attribute.Int("stream.num_sources", len(result.Sources)),
	)

	if relayErr != nil {
		if errors.Is(relayErr, context.Canceled) {
			slog.Info("Client disconnected during stream",
				"requestId", requestID,
				"deltas", result.Deltas,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
				m.RecordStreamDuration(endpoint, duration, false)
			}
			return
		}
		span.RecordError(relayErr)
		span.SetStatus(codes.Error, "stream failed")
		slog.Error("Stream ended with error",
			"requestId", requestID,
			"deltas", result.Deltas,
			"error", relayErr,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStream)
			m.RecordStreamDuration(endpoint, duration, false)
		}
		return
	}

	success = true
	if m := observability.DefaultMetrics; m != nil {
		m.RecordStreamDuration(endpoint, duration, true)
	}
	slog.Info("Chat stream completed",
		"requestId", requestID,
		"enrichment", string(enrichment.Outcome),
		"deltas", result.Deltas,
		"sources", len(result.Sources),
		"duration_seconds", duration,
	)
}

// reject answers a validation failure.
func (g *RelayGateway) reject(c *gin.Context, span trace.Span, requestID, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "invalid request")
	slog.Warn("Rejected chat request",
		"requestId", requestID,
		"error", err,
	)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// upstreamFailure maps an OpenStream error to the status and text relayed
// to the client. A request that never produced a response, or a status
// that is not an error status, becomes 500.
func upstreamFailure(err error) (int, string) {
	var upErr *llm.UpstreamError
	if !errors.As(err, &upErr) {
		return http.StatusInternalServerError, err.Error()
	}
	status := upErr.Status
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	text := upErr.Body
	if text == "" {
		text = upErr.Error()
	}
	return status, text
}
