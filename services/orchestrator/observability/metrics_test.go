// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordTurn(OutcomeDone, time.Second)
	m.RecordTransition("RECEIVED", "RETRIEVING")
	m.RecordRetrieval(100 * time.Millisecond)
	m.RecordComposition(2*time.Second, 1, 1)
	m.RecordGateDecision(true, "token")
	m.RecordStoreOp("append", nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 9 {
		t.Errorf("expected 9 metric families, got %d", len(families))
	}
}

func TestNewMetrics_NilRegistererDoesNotPanic(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordTurn(OutcomeInternal, time.Millisecond)
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}

func TestRecordTurn(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordTurn(OutcomeDone, time.Second)
	m.RecordTurn(OutcomeDone, time.Second)
	m.RecordTurn(OutcomeRetrievalUnavailable, time.Second)

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("done")); got != 2 {
		t.Errorf("done turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("retrieval_unavailable")); got != 1 {
		t.Errorf("retrieval_unavailable turns = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.TurnDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestRecordTransition(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordTransition("COMPOSING", "ERRORED")
	m.RecordTransition("COMPOSING", "ERRORED")

	if got := testutil.ToFloat64(m.StateTransitions.WithLabelValues("COMPOSING", "ERRORED")); got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
}

func TestRecordComposition_Counters(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordComposition(time.Second, 0, 0)
	m.RecordComposition(time.Second, 3, 2)

	if got := testutil.ToFloat64(m.CitationsDropped); got != 3 {
		t.Errorf("citations dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Redactions); got != 2 {
		t.Errorf("redactions = %v, want 2", got)
	}
}

func TestRecordGateDecision(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordGateDecision(true, "origin")
	m.RecordGateDecision(false, "no_credentials")

	if got := testutil.ToFloat64(m.GateDecisions.WithLabelValues("allow", "origin")); got != 1 {
		t.Errorf("allow/origin = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GateDecisions.WithLabelValues("deny", "no_credentials")); got != 1 {
		t.Errorf("deny/no_credentials = %v, want 1", got)
	}
}

func TestRecordStoreOp(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordStoreOp("append", nil)
	m.RecordStoreOp("append", errors.New("disk full"))

	if got := testutil.ToFloat64(m.StoreOps.WithLabelValues("append", "ok")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreOps.WithLabelValues("append", "error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestInitTracer_Stdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "test", StdoutWriter: &buf})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	span.End()
	shutdown(context.Background())

	if !bytes.Contains(buf.Bytes(), []byte("unit-span")) {
		t.Errorf("expected exported span in stdout output, got %q", buf.String())
	}
}

func TestInitTracer_NoExporter(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	shutdown(context.Background())
}
