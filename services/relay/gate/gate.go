// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate decides whether a user utterance warrants retrieval.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/ella/services/llm"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ella.relay.gate")

// affirmative matches the classifier's "yes" answer.
var affirmative = regexp.MustCompile(`(?i)\bja\.?\b`)

// ErrNoAnswer is reported when the classifier returned no choices.
var ErrNoAnswer = errors.New("classifier returned no answer")

// Decision is the outcome of one classification.
//
// Relevant is false whenever Err is set; Err is informational only.
type Decision struct {
	Relevant bool
	Answer   string
	Err      error
}

// Classifier is the relevance gate in front of retrieval.
//
// # Description
//
// Classify never fails: transport errors, non-success statuses and
// unparseable output all yield Relevant == false.
type Classifier interface {
	Classify(ctx context.Context, query string) Decision
}

// Config configures an OpenAIClassifier.
type Config struct {
	BaseURL string
	Model   string
	Key     *llm.APIKey

	// Prompt returns the current gate instructions.
	Prompt func() string

	// Timeout bounds one classification call. Zero means 20s.
	Timeout time.Duration
}

// OpenAIClassifier asks a chat model to answer ja or nee.
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	prompt  func() string
	timeout time.Duration
}

// NewOpenAIClassifier builds a classifier. The key is injected by
// llm.AuthTransport; go-openai never sees the plaintext.
func NewOpenAIClassifier(cfg Config) *OpenAIClassifier {
	clientCfg := openai.DefaultConfig("")
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = llm.NewHTTPClient(cfg.Key, nil)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		prompt:  cfg.Prompt,
		timeout: timeout,
	}
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, query string) Decision {
	ctx, span := tracer.Start(ctx, "GateClassifier.Classify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.prompt()},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		slog.Warn("Gate classification failed, skipping retrieval", "error", err)
		return Decision{Err: fmt.Errorf("classify: %w", err)}
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return Decision{Err: ErrNoAnswer}
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	d := Decision{Relevant: IsAffirmative(answer), Answer: answer}
	span.SetAttributes(attribute.Bool("gate.relevant", d.Relevant))
	slog.Debug("Gate classified query", "relevant", d.Relevant, "answer", answer)
	return d
}

// IsAffirmative reports whether answer contains the word "ja".
func IsAffirmative(answer string) bool {
	return affirmative.MatchString(answer)
}

// Always is a Classifier with a fixed verdict, used when no engine key is
// configured and in tests.
type Always bool

func (a Always) Classify(context.Context, string) Decision {
	return Decision{Relevant: bool(a)}
}

var (
	_ Classifier = (*OpenAIClassifier)(nil)
	_ Classifier = Always(false)
)
