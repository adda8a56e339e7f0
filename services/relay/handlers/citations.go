// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/ella/services/relay/citations"
	"github.com/AleutianAI/ella/services/relay/middleware"
	"github.com/AleutianAI/ella/services/relay/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const citationCacheControl = "private, max-age=0, must-revalidate"

// CitationHandler serves GET /api/citations/:filename.
type CitationHandler struct {
	store  citations.Store
	tracer trace.Tracer
}

// NewCitationHandler creates the handler. A nil store answers 404 for
// every name.
func NewCitationHandler(store citations.Store) *CitationHandler {
	return &CitationHandler{
		store:  store,
		tracer: otel.Tracer("ella.relay.handlers.citations"),
	}
}

// HandleDownload streams one stored asset as an attachment.
func (h *CitationHandler) HandleDownload(c *gin.Context) {
	endpoint := observability.EndpointCitations
	name := c.Param("filename")

	ctx, span := h.tracer.Start(c.Request.Context(), "CitationHandler.HandleDownload")
	defer span.End()
	span.SetAttributes(attribute.String("citation.filename", name))

	if h.store == nil || name == "" {
		h.notFound(c, endpoint)
		return
	}

	body, meta, err := h.store.Open(ctx, name)
	if errors.Is(err, citations.ErrNotFound) {
		h.notFound(c, endpoint)
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store read failed")
		slog.Error("Failed to open citation asset",
			"requestId", middleware.GetRequestID(c),
			"filename", name,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, false)
		}
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	defer body.Close()

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
	c.DataFromReader(http.StatusOK, -1, meta.ContentType, body, map[string]string{
		"Content-Disposition": `attachment; filename="` + EncodeURIComponent(meta.Filename) + `"`,
		"Cache-Control":       citationCacheControl,
	})
}

func (h *CitationHandler) notFound(c *gin.Context, endpoint observability.Endpoint) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, false)
	}
	c.String(http.StatusNotFound, "Not found")
}

// EncodeURIComponent percent-encodes s the way browsers' encodeURIComponent
// does: everything except A-Z a-z 0-9 and - _ . ! ~ * ' ( ) is escaped as
// UTF-8 bytes.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if isURIUnreserved(b) {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[b>>4])
		sb.WriteByte(hex[b&0x0F])
	}
	return sb.String()
}

func isURIUnreserved(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", b) >= 0
}
