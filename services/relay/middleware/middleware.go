// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the relay service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► stores id in context, echoes X-Request-ID
//	   │
//	   ▼
//	RateLimit ──► 429 when the token bucket is empty
//	   │
//	   ▼
//	Handler (retrieves id via GetRequestID)
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/ella/services/relay/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	// RequestIDHeader is read from and echoed to every request.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "ella_request_id"

	maxRequestIDLength = 128
)

// =============================================================================
// Request ID
// =============================================================================

// RequestID assigns every request an id.
//
// # Description
//
// A well-formed inbound X-Request-ID is kept so ids correlate across
// proxies; otherwise a random UUID is generated. The id is stored in the gin
// context and set on the response header before the handler runs, so it is
// present on streamed responses too.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, "\r\n") {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id set by RequestID, or "" when the middleware
// did not run.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// Rate Limiting
// =============================================================================

// RateLimit rejects requests beyond rps (with burst) with 429.
//
// # Description
//
// One token bucket is shared by all clients; the relay fronts a single paid
// engine account, so the limit protects that account rather than enforcing
// per-user fairness. A non-positive rps returns a pass-through handler.
//
// # Inputs
//
//   - rps: Sustained requests per second.
//   - burst: Bucket size. Values below 1 are raised to 1.
//   - endpoint: Metrics label for rejected requests.
func RateLimit(rps float64, burst int, endpoint observability.Endpoint) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			slog.Warn("Rate limit exceeded",
				"requestId", GetRequestID(c),
				"path", c.FullPath(),
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeRateLimited)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
