// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/ella/services/relay/handlers"
	"github.com/AleutianAI/ella/services/relay/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Paths served by the relay.
const (
	PathHealth     = "/health"
	PathMetrics    = "/metrics"
	PathChatStream = "/v1/chat/stream"
	PathCitation   = "/api/citations/:filename"
)

// LegacyChatPaths are the chat endpoints older browser clients post to.
var LegacyChatPaths = []string{
	"/.netlify/functions/stream",
	"/api/openai/response",
}

// Dependencies are the handlers and middleware the route table needs.
type Dependencies struct {
	Gateway   *handlers.RelayGateway
	Citations *handlers.CitationHandler

	// ChatLimiter guards the chat endpoints. Nil means no limit.
	ChatLimiter gin.HandlerFunc

	// Metrics exposes the Prometheus registry on /metrics.
	Metrics bool
}

// SetupRoutes registers every relay route on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET(PathHealth, handlers.HealthCheck)
	if deps.Metrics {
		router.GET(PathMetrics, gin.WrapH(promhttp.Handler()))
	}

	chat := []gin.HandlerFunc{}
	if deps.ChatLimiter != nil {
		chat = append(chat, deps.ChatLimiter)
	}
	chat = append(chat, deps.Gateway.HandleChatStream)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", chat...)
	}
	for _, path := range LegacyChatPaths {
		router.POST(path, chat...)
	}

	citations := deps.Citations
	if citations == nil {
		citations = handlers.NewCitationHandler(nil)
	}
	router.GET(PathCitation, citations.HandleDownload)
}

// NewRouter builds a gin engine with the relay's standard middleware and
// routes. Tracing middleware is added by the caller.
func NewRouter(deps Dependencies, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())
	router.Use(extra...)
	SetupRoutes(router, deps)
	return router
}
