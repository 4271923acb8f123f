// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package composer turns a question, its conversation history and the
// retrieved passages into a grounded answer with structured references.
//
// The fragile parts, citation markers and model-written bibliographies, are
// handled here and nowhere else: the text that leaves Compose carries only
// markers that resolve to a Reference, numbered 1..m in order of first use.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/truthwindow/services/llm"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/policy_engine"
)

var tracer = otel.Tracer("truthwindow.composer")

const (
	// DefaultYear is the publication year of the final report.
	DefaultYear = "2022"

	// DefaultPublisher is the corporate author of the final report.
	DefaultPublisher = "Colombia. Comisión de la Verdad"
)

// Composer is the contract the conversation service depends on.
type Composer interface {
	Compose(ctx context.Context, question string, history []datatypes.Message, passages []datatypes.Passage) (*Answer, error)
}

// Redactor removes sensitive content from answer text.
type Redactor interface {
	Redact(text string) (string, []policy_engine.ScanFinding)
}

// Answer is a composed bot reply ready to persist.
type Answer struct {
	Content    string
	References []datatypes.Reference

	// DroppedCitations counts marker numbers with no retrieved passage.
	DroppedCitations int

	// Redactions counts sensitivity patterns that fired.
	Redactions int
}

// Config controls prompt assembly and the model call.
type Config struct {
	Timeout           time.Duration
	MaxConcurrent     int64
	HistoryTurns      int
	HistoryCharBudget int
	Params            llm.GenerationParams
}

// DefaultConfig returns the production composer settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           60 * time.Second,
		MaxConcurrent:     8,
		HistoryTurns:      10,
		HistoryCharBudget: 6000,
		Params:            llm.DefaultGenerationParams(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.HistoryCharBudget <= 0 {
		c.HistoryCharBudget = d.HistoryCharBudget
	}
	if c.Params.Temperature == nil && c.Params.MaxTokens == nil {
		c.Params = d.Params
	}
	return c
}

// Service is the production Composer.
//
// # Thread Safety
//
// Safe for concurrent use. A weighted semaphore bounds in-flight model
// calls; waiting for a slot counts against the call timeout.
type Service struct {
	completer llm.Completer
	redactor  Redactor
	sem       *semaphore.Weighted
	config    Config
	logger    *slog.Logger
}

var _ Composer = (*Service)(nil)

// NewService builds a composer. redactor may be nil to skip redaction.
func NewService(completer llm.Completer, redactor Redactor, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	return &Service{
		completer: completer,
		redactor:  redactor,
		sem:       semaphore.NewWeighted(config.MaxConcurrent),
		config:    config,
		logger:    logger,
	}
}

// Compose implements Composer.
//
// # Inputs
//
//   - ctx: Parent context. The model call runs under Config.Timeout.
//   - question: The trimmed user question.
//   - history: Prior messages of the chat in ordinal order.
//   - passages: Retrieved passages; passage i is cited as [i+1].
//
// # Outputs
//
//   - *Answer: Cleaned text and contiguous references.
//   - error: *datatypes.CompositionTimeoutError or
//     *datatypes.CompositionUpstreamError.
func (s *Service) Compose(ctx context.Context, question string, history []datatypes.Message, passages []datatypes.Passage) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "composer.Service.Compose")
	defer span.End()
	span.SetAttributes(
		attribute.Int("passages", len(passages)),
		attribute.Int("history", len(history)),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req := llm.CompletionRequest{
		System:  systemPrompt,
		History: historyWindow(history, s.config.HistoryTurns, s.config.HistoryCharBudget),
		Prompt:  buildPrompt(question, buildContext(passages)),
		Params:  s.config.Params,
	}

	raw, err := s.complete(callCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "composition failed")
		return nil, err
	}

	answer := s.parse(raw, passages)
	if strings.TrimSpace(answer.Content) == "" {
		err := &datatypes.CompositionUpstreamError{Err: llm.ErrEmptyCompletion}
		span.SetStatus(codes.Error, "empty answer after parsing")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("references", len(answer.References)),
		attribute.Int("citations_dropped", answer.DroppedCitations),
		attribute.Int("redactions", answer.Redactions),
	)
	return answer, nil
}

func (s *Service) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", s.classify(ctx, fmt.Errorf("waiting for model slot: %w", err))
	}
	defer s.sem.Release(1)

	start := time.Now()
	raw, err := s.completer.Complete(ctx, req)
	if err != nil {
		return "", s.classify(ctx, err)
	}
	s.logger.Debug("model call finished", "duration", time.Since(start), "chars", len(raw))
	return raw, nil
}

// classify maps a failed call to the composition error taxonomy.
func (s *Service) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("model call timed out", "timeout", s.config.Timeout, "error", err)
		return &datatypes.CompositionTimeoutError{Timeout: s.config.Timeout}
	}
	s.logger.Error("model call failed", "error", err)
	return &datatypes.CompositionUpstreamError{Err: err}
}

// parse strips the bibliography, rewrites citations, builds references and
// redacts sensitive content, in that order.
func (s *Service) parse(raw string, passages []datatypes.Passage) *Answer {
	text := stripSourcesSection(strings.TrimSpace(raw))

	cites := rewriteCitations(text, len(passages))
	if len(cites.Dropped) > 0 {
		s.logger.Warn("dropped citation markers with no passage",
			"numbers", cites.Dropped, "passages", len(passages))
	}

	refs := make([]datatypes.Reference, 0, len(cites.Order))
	for i, idx := range cites.Order {
		refs = append(refs, buildReference(i+1, passages[idx]))
	}

	answer := &Answer{
		Content:          strings.TrimSpace(cites.Text),
		References:       refs,
		DroppedCitations: len(cites.Dropped),
	}
	if s.redactor != nil {
		redacted, findings := s.redactor.Redact(answer.Content)
		if len(findings) > 0 {
			ids := make([]string, 0, len(findings))
			for _, f := range findings {
				ids = append(ids, f.PatternId)
			}
			s.logger.Warn("redacted sensitive content from answer", "patterns", ids)
		}
		answer.Content = redacted
		answer.Redactions = len(findings)
	}
	return answer
}

// buildReference turns passage metadata into the Reference for number.
func buildReference(number int, p datatypes.Passage) datatypes.Reference {
	title := p.Title
	if title == "" {
		title = untitledDocument
	}
	year := p.Year
	if year == "" {
		year = DefaultYear
	}
	return datatypes.Reference{
		Number:    number,
		Title:     title,
		SourceID:  normalizeSourceID(p.SourceID, title),
		Page:      p.Page,
		Year:      year,
		URL:       p.URL,
		Publisher: DefaultPublisher,
	}
}

// normalizeSourceID prefers the title when it names the volume ("Tomo",
// "vol") and the source id does not.
func normalizeSourceID(sourceID, title string) string {
	if strings.HasPrefix(sourceID, "Tomo") || strings.Contains(strings.ToLower(sourceID), "vol") {
		return sourceID
	}
	lowerTitle := strings.ToLower(title)
	if strings.Contains(lowerTitle, "tomo") || strings.Contains(lowerTitle, "vol") {
		return title
	}
	return sourceID
}
