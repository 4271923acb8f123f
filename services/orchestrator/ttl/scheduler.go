// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs conversation retention: chats whose last update is older
// than the configured number of days are deleted on a fixed interval.
package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
)

// =============================================================================
// Interfaces
// =============================================================================

// Pruner deletes chats last updated before cutoff. Implemented by the
// session store's maintenance surface.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Scheduler runs retention passes in the background.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Start may be called
// again after Stop.
type Scheduler interface {
	// Start runs one pass immediately and then one per interval until Stop
	// is called or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop signals the loop to exit. Safe to call multiple times.
	Stop() error

	// RunNow performs one pass synchronously.
	RunNow(ctx context.Context) (CleanupResult, error)
}

// ErrRetentionDisabled is returned by RunNow when RetentionDays is not
// positive.
var ErrRetentionDisabled = errors.New("retention is disabled")

// CleanupResult summarises one retention pass.
type CleanupResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Cutoff       time.Time
	ChatsDeleted int
}

// Duration returns the total duration of the pass.
func (r *CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// DurationMs returns the duration in milliseconds for logging.
func (r *CleanupResult) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

// =============================================================================
// Configuration
// =============================================================================

// SchedulerConfig configures the retention scheduler.
//
// # Fields
//
//   - Interval: How often to run a pass. Default: 1 hour.
//   - RetentionDays: Chats idle longer than this are deleted. Zero or
//     negative disables retention.
//   - Clock: Sanity-checked time source. Default: a ClockChecker whose
//     forward-jump allowance covers Interval.
//   - Audit: Receives one "retention.cleanup" event per pass.
//   - Logger: Defaults to slog.Default().
type SchedulerConfig struct {
	Interval      time.Duration
	RetentionDays int
	Clock         ClockChecker
	Audit         extensions.AuditLogger
	Logger        *slog.Logger
}

// DefaultSchedulerConfig returns a one-hour interval with retention off.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: 1 * time.Hour}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = 1 * time.Hour
	}
	if c.Clock == nil {
		clockCfg := DefaultClockConfig()
		clockCfg.MaxForwardJump += c.Interval
		c.Clock = NewClockCheckerWithConfig(clockCfg)
	}
	if c.Audit == nil {
		c.Audit = &extensions.NopAuditLogger{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// =============================================================================
// Scheduler Implementation
// =============================================================================

// retentionScheduler uses the ticker + done channel pattern.
type retentionScheduler struct {
	pruner  Pruner
	config  SchedulerConfig
	done    chan struct{}
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewScheduler creates a retention scheduler over pruner.
//
// # Examples
//
//	cfg := ttl.DefaultSchedulerConfig()
//	cfg.RetentionDays = 90
//	scheduler := ttl.NewScheduler(store, cfg)
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
func NewScheduler(pruner Pruner, config SchedulerConfig) Scheduler {
	return &retentionScheduler{
		pruner: pruner,
		config: config.withDefaults(),
		done:   make(chan struct{}),
	}
}

// Start implements Scheduler.
func (s *retentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.RetentionDays <= 0 {
		return ErrRetentionDisabled
	}
	s.running = true
	s.done = make(chan struct{})

	s.config.Logger.Info("retention scheduler starting",
		"interval", s.config.Interval.String(),
		"retention_days", s.config.RetentionDays)

	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop implements Scheduler. It waits for an in-flight pass to finish.
func (s *retentionScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.config.Logger.Info("retention scheduler stopping")
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// RunNow implements Scheduler.
func (s *retentionScheduler) RunNow(ctx context.Context) (CleanupResult, error) {
	if s.config.RetentionDays <= 0 {
		return CleanupResult{}, ErrRetentionDisabled
	}

	now, err := s.config.Clock.Now()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("skipping retention pass: %w", err)
	}

	result := CleanupResult{
		StartTime: now,
		Cutoff:    now.Add(-time.Duration(s.config.RetentionDays) * 24 * time.Hour),
	}
	deleted, err := s.pruner.DeleteOlderThan(ctx, result.Cutoff)
	result.ChatsDeleted = deleted
	result.EndTime = time.Now()
	if err != nil {
		s.audit(ctx, result, "failure")
		return result, fmt.Errorf("delete chats older than %s: %w", result.Cutoff.Format(time.RFC3339), err)
	}
	s.audit(ctx, result, "success")
	return result, nil
}

func (s *retentionScheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("retention scheduler stopped (context cancelled)")
			return
		case <-done:
			s.config.Logger.Info("retention scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// executeCleanup keeps pass errors from stopping the loop.
func (s *retentionScheduler) executeCleanup(ctx context.Context) {
	result, err := s.RunNow(ctx)
	if err != nil {
		s.config.Logger.Error("retention pass failed", "error", err)
		return
	}
	if result.ChatsDeleted > 0 {
		s.config.Logger.Info("retention pass completed",
			"chats_deleted", result.ChatsDeleted,
			"cutoff", result.Cutoff.Format(time.RFC3339),
			"duration_ms", result.DurationMs())
		return
	}
	s.config.Logger.Debug("retention pass completed (no expired chats)")
}

func (s *retentionScheduler) audit(ctx context.Context, result CleanupResult, outcome string) {
	_ = s.config.Audit.Log(ctx, extensions.AuditEvent{
		EventType:    "retention.cleanup",
		UserID:       "system",
		Action:       "delete",
		ResourceType: "chat",
		Outcome:      outcome,
		Metadata: extensions.NewMetadata().
			Set("cutoff", result.Cutoff.Format(time.RFC3339)).
			Set("chats_deleted", result.ChatsDeleted),
	})
}
