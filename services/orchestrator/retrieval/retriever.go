// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval turns a question into ranked archive passages.
//
// The Service embeds the query text, runs one similarity search against the
// passage index and returns at most TopK passages ordered by descending
// score. TopK is fixed by configuration; callers cannot raise it.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("truthwindow.retrieval")

// =============================================================================
// Interfaces
// =============================================================================

// Retriever is the contract the conversation service depends on.
type Retriever interface {
	// Retrieve returns passages for query ranked by descending score.
	// Failures are *datatypes.RetrievalUnavailableError.
	Retrieve(ctx context.Context, query string) ([]datatypes.Passage, error)
}

// Embedder converts text into the vector space of the passage index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a similarity search against the passage index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]datatypes.Passage, error)
	Ready(ctx context.Context) error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the fixed retrieval parameters.
type Config struct {
	// TopK is the number of passages requested per question.
	TopK int

	// Timeout bounds one attempt (embedding plus search).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialRetryDelay doubles after every failed attempt.
	InitialRetryDelay time.Duration
}

const (
	defaultTopK              = 5
	defaultTimeout           = 10 * time.Second
	defaultMaxRetries        = 2
	defaultInitialRetryDelay = 1 * time.Second
)

// DefaultConfig returns the production retrieval settings.
func DefaultConfig() Config {
	return Config{
		TopK:              defaultTopK,
		Timeout:           defaultTimeout,
		MaxRetries:        defaultMaxRetries,
		InitialRetryDelay: defaultInitialRetryDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = defaultInitialRetryDelay
	}
	return c
}

// =============================================================================
// Service
// =============================================================================

// Service is the production Retriever.
//
// # Description
//
// Each attempt embeds the query and searches the index under its own
// timeout. Failed attempts are retried with exponential backoff; the
// parent context ending stops the loop immediately. An answer is never
// composed without an attempted retrieval, so exhaustion is an error and
// never an empty result.
//
// # Thread Safety
//
// Safe for concurrent use if the Embedder and Searcher are.
type Service struct {
	embedder Embedder
	searcher Searcher
	config   Config
	logger   *slog.Logger
}

var _ Retriever = (*Service)(nil)

// NewService builds a retrieval Service. A nil logger uses slog.Default().
func NewService(embedder Embedder, searcher Searcher, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder: embedder,
		searcher: searcher,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// TopK returns the configured passage count.
func (s *Service) TopK() int { return s.config.TopK }

// Ready checks the backing index.
func (s *Service) Ready(ctx context.Context) error {
	return s.searcher.Ready(ctx)
}

// Retrieve implements Retriever.
//
// # Inputs
//
//   - ctx: Request context. Cancellation aborts retries.
//   - query: Raw question text.
//
// # Outputs
//
//   - []datatypes.Passage: At most TopK passages, descending score.
//   - error: *datatypes.RetrievalUnavailableError after the last attempt.
func (s *Service) Retrieve(ctx context.Context, query string) ([]datatypes.Passage, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Service.Retrieve",
		trace.WithAttributes(attribute.Int("top_k", s.config.TopK)))
	defer span.End()

	var lastErr error
	delay := s.config.InitialRetryDelay
	attempts := 0

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			span.AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("delay", delay.String()),
			))
			s.logger.Warn("retrying retrieval", "attempt", attempt, "delay", delay, "error", lastErr)

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				return nil, s.fail(span, attempts, lastErr)
			case <-time.After(delay):
			}
			delay *= 2
		}

		attempts++
		passages, err := s.attempt(ctx, query)
		if err == nil {
			span.SetAttributes(attribute.Int("passages", len(passages)), attribute.Int("attempts", attempts))
			return passages, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, errPermanent) {
			break
		}
	}
	return nil, s.fail(span, attempts, lastErr)
}

func (s *Service) attempt(ctx context.Context, query string) ([]datatypes.Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	passages, err := s.searcher.Search(ctx, vector, s.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return rank(passages, s.config.TopK), nil
}

func (s *Service) fail(span trace.Span, attempts int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "retrieval unavailable")
	s.logger.Error("retrieval unavailable", "attempts", attempts, "error", err)
	return &datatypes.RetrievalUnavailableError{Attempts: attempts, Err: err}
}

// rank sorts by descending score, keeping index order for ties, and
// truncates to k.
func rank(passages []datatypes.Passage, k int) []datatypes.Passage {
	out := make([]datatypes.Passage, len(passages))
	copy(out, passages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// errPermanent marks failures that retrying cannot fix, such as a missing
// index class or a rejected API key.
var errPermanent = errors.New("permanent retrieval failure")

// permanent wraps err so Retrieve stops retrying.
func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}
