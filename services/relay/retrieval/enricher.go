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
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/ella/services/relay/datatypes"
	"github.com/AleutianAI/ella/services/relay/gate"
	"github.com/AleutianAI/ella/services/relay/observability"
)

// Outcome classifies one enrichment attempt.
type Outcome string

const (
	// OutcomeEnriched means retrieval ran and succeeded (possibly with zero
	// matches).
	OutcomeEnriched Outcome = "enriched"

	// OutcomeDegraded means the gate or the retriever failed; the
	// conversation continues without context.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeSkipped means retrieval was not attempted: empty query,
	// retrieval disabled, or the gate judged the query small talk.
	OutcomeSkipped Outcome = "skipped"
)

// Enrichment is the result of Enrich. Result is always usable, even when
// Outcome is OutcomeDegraded.
type Enrichment struct {
	Outcome Outcome
	Result  datatypes.RetrievalResult

	// Err is the cause of a degraded outcome.
	Err error
}

// Enricher runs the gate and, when it says yes, the retriever.
type Enricher struct {
	gate      gate.Classifier
	retriever Retriever
	enabled   bool
}

// NewEnricher builds an Enricher. When enabled is false the gate is never
// called.
func NewEnricher(classifier gate.Classifier, retriever Retriever, enabled bool) *Enricher {
	if retriever == nil {
		retriever = Disabled{}
		enabled = false
	}
	return &Enricher{gate: classifier, retriever: retriever, enabled: enabled}
}

// Enrich classifies query and retrieves context for it. It never fails.
func (e *Enricher) Enrich(ctx context.Context, query string) Enrichment {
	out := e.enrich(ctx, query)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordEnrichment(string(out.Outcome))
	}
	return out
}

func (e *Enricher) enrich(ctx context.Context, query string) Enrichment {
	if strings.TrimSpace(query) == "" || !e.enabled {
		return Enrichment{Outcome: OutcomeSkipped, Result: datatypes.EmptyRetrieval()}
	}

	decision := e.gate.Classify(ctx, query)
	if m := observability.DefaultMetrics; m != nil && decision.Err == nil {
		m.RecordGateDecision(decision.Relevant)
	}
	if decision.Err != nil {
		return Enrichment{Outcome: OutcomeDegraded, Result: datatypes.EmptyRetrieval(), Err: decision.Err}
	}
	if !decision.Relevant {
		return Enrichment{Outcome: OutcomeSkipped, Result: datatypes.EmptyRetrieval()}
	}

	start := time.Now()
	result, err := e.retriever.Search(ctx, query)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRetrievalDuration(e.retriever.Name(), time.Since(start).Seconds())
	}
	if err != nil {
		slog.Warn("Retrieval failed, continuing without context",
			"backend", e.retriever.Name(),
			"error", err)
		return Enrichment{Outcome: OutcomeDegraded, Result: datatypes.EmptyRetrieval(), Err: err}
	}
	return Enrichment{Outcome: OutcomeEnriched, Result: result}
}
