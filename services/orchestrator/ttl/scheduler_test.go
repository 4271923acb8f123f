// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/storage"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int
	err     error
	called  chan struct{}
}

func (p *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	p.mu.Lock()
	p.cutoffs = append(p.cutoffs, cutoff)
	p.mu.Unlock()
	if p.called != nil {
		select {
		case p.called <- struct{}{}:
		default:
		}
	}
	return p.deleted, p.err
}

func (p *fakePruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (a *recordingAudit) Log(_ context.Context, e extensions.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *recordingAudit) Flush(context.Context) error { return nil }

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRunNow_ComputesCutoff(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	pruner := &fakePruner{deleted: 3}
	audit := &recordingAudit{}
	s := NewScheduler(pruner, SchedulerConfig{
		RetentionDays: 30,
		Clock:         NewNoopClockChecker(func() time.Time { return now }),
		Audit:         audit,
		Logger:        quietLogger,
	})

	result, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	want := now.Add(-30 * 24 * time.Hour)
	if !result.Cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", result.Cutoff, want)
	}
	if result.ChatsDeleted != 3 {
		t.Errorf("ChatsDeleted = %d, want 3", result.ChatsDeleted)
	}
	if len(audit.events) != 1 || audit.events[0].EventType != "retention.cleanup" || audit.events[0].Outcome != "success" {
		t.Errorf("unexpected audit events: %+v", audit.events)
	}
}

func TestRunNow_Disabled(t *testing.T) {
	pruner := &fakePruner{}
	s := NewScheduler(pruner, SchedulerConfig{Logger: quietLogger})

	if _, err := s.RunNow(context.Background()); !errors.Is(err, ErrRetentionDisabled) {
		t.Errorf("expected ErrRetentionDisabled, got %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrRetentionDisabled) {
		t.Errorf("Start should refuse when disabled, got %v", err)
	}
	if pruner.calls() != 0 {
		t.Errorf("pruner called %d times, want 0", pruner.calls())
	}
}

func TestRunNow_BadClockSkipsPass(t *testing.T) {
	future := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	checker := &clockChecker{config: DefaultClockConfig(), now: func() time.Time { return future }}
	pruner := &fakePruner{}
	s := NewScheduler(pruner, SchedulerConfig{RetentionDays: 1, Clock: checker, Logger: quietLogger})

	if _, err := s.RunNow(context.Background()); err == nil {
		t.Fatal("expected an error from the clock check")
	}
	if pruner.calls() != 0 {
		t.Error("pruner must not run when the clock is not sane")
	}
}

func TestRunNow_PrunerError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("disk full")}
	audit := &recordingAudit{}
	s := NewScheduler(pruner, SchedulerConfig{
		RetentionDays: 7,
		Clock:         NewNoopClockChecker(nil),
		Audit:         audit,
		Logger:        quietLogger,
	})

	if _, err := s.RunNow(context.Background()); err == nil {
		t.Fatal("expected pruner error")
	}
	if len(audit.events) != 1 || audit.events[0].Outcome != "failure" {
		t.Errorf("expected one failure audit event, got %+v", audit.events)
	}
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	pruner := &fakePruner{called: make(chan struct{}, 1)}
	s := NewScheduler(pruner, SchedulerConfig{
		Interval:      time.Hour,
		RetentionDays: 1,
		Clock:         NewNoopClockChecker(nil),
		Logger:        quietLogger,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}

	select {
	case <-pruner.called:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate pass on Start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("restart after Stop failed: %v", err)
	}
	_ = s.Stop()
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	pruner := &fakePruner{called: make(chan struct{}, 1)}
	s := NewScheduler(pruner, SchedulerConfig{
		Interval:      10 * time.Millisecond,
		RetentionDays: 1,
		Clock:         NewNoopClockChecker(nil),
		Logger:        quietLogger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-pruner.called
	cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestScheduler_PrunesMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	old, err := store.CreateChat(ctx, "Old chat", "owner")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	if _, err := store.CreateChat(ctx, "Fresh chat", "owner"); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	// Everything in the store was updated "now"; a clock 10 days ahead with
	// a 5-day retention makes both chats expire.
	later := time.Now().Add(10 * 24 * time.Hour)
	s := NewScheduler(store, SchedulerConfig{
		RetentionDays: 5,
		Clock:         NewNoopClockChecker(func() time.Time { return later }),
		Logger:        quietLogger,
	})

	result, err := s.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if result.ChatsDeleted != 2 {
		t.Errorf("ChatsDeleted = %d, want 2", result.ChatsDeleted)
	}
	_, err = store.GetChat(ctx, old.ID)
	var nf *datatypes.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError after retention, got %v", err)
	}
}
