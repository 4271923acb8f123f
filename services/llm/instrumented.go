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
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentedCompleter records call counts and latency per backend.
type instrumentedCompleter struct {
	next     Completer
	backend  attribute.KeyValue
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// Instrument wraps next so every Complete call is counted by result
// (ok, empty, timeout, error) and timed.
func Instrument(next Completer, backend string, meter metric.Meter) (Completer, error) {
	requests, err := meter.Int64Counter(
		"truthwindow.llm.requests",
		metric.WithDescription("Language model completion calls by backend and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm request counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"truthwindow.llm.duration",
		metric.WithDescription("Language model completion latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm duration histogram: %w", err)
	}
	if backend == "" {
		backend = BackendOpenAI
	}
	return &instrumentedCompleter{
		next:     next,
		backend:  attribute.String("backend", backend),
		requests: requests,
		duration: duration,
	}, nil
}

func (c *instrumentedCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	start := time.Now()
	text, err := c.next.Complete(ctx, req)

	attrs := metric.WithAttributes(c.backend, attribute.String("result", resultLabel(err)))
	c.requests.Add(ctx, 1, attrs)
	c.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	return text, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyCompletion):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
