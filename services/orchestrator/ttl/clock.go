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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Clock Sanity Checking
// =============================================================================

// ClockChecker guards retention cutoffs against a bad system clock.
//
// # Description
//
// The retention cutoff is derived from the wall clock. A clock set years
// into the future would make every chat look expired, so each cleanup pass
// asks the checker for the time and skips the pass when it fails.
type ClockChecker interface {
	// Now returns the current time if the clock passes the sanity checks.
	Now() (time.Time, error)

	// Reset clears the jump-detection baseline after a known legitimate
	// time change (NTP step, resume from sleep).
	Reset()
}

// ClockConfig bounds what counts as a sane clock.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns the production bounds.
//
//   - Min time: 2025-01-01
//   - Max time: 2035-12-31
//   - Max backward jump: 1 hour
//   - Max forward jump: 2 hours past the expected gap between checks
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

// clockChecker tracks the last good reading to detect jumps.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type clockChecker struct {
	config   ClockConfig
	now      func() time.Time
	mu       sync.Mutex
	lastGood time.Time
	checked  bool
}

// NewClockChecker returns a checker using DefaultClockConfig.
func NewClockChecker() ClockChecker {
	return NewClockCheckerWithConfig(DefaultClockConfig())
}

// NewClockCheckerWithConfig returns a checker with custom bounds.
func NewClockCheckerWithConfig(config ClockConfig) ClockChecker {
	return &clockChecker{config: config, now: time.Now}
}

// Now implements ClockChecker.
//
// # Description
//
// Performs three validations:
//  1. Current time >= MinValidTime
//  2. Current time <= MaxValidTime
//  3. No jump beyond the thresholds since the last good reading
//
// Jump detection is skipped on the first call and after Reset.
func (c *clockChecker) Now() (time.Time, error) {
	now := c.now()

	if now.Before(c.config.MinValidTime) {
		return time.Time{}, fmt.Errorf("clock sanity: time %s is before minimum valid time %s",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}
	if now.After(c.config.MaxValidTime) {
		return time.Time{}, fmt.Errorf("clock sanity: time %s is after maximum valid time %s",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checked {
		diff := now.Sub(c.lastGood)
		if diff < -c.config.MaxBackwardJump {
			return time.Time{}, fmt.Errorf("clock sanity: backward jump of %s detected (max allowed: %s)",
				-diff, c.config.MaxBackwardJump)
		}
		if diff > c.config.MaxForwardJump {
			return time.Time{}, fmt.Errorf("clock sanity: forward jump of %s detected (max allowed: %s)",
				diff, c.config.MaxForwardJump)
		}
	}

	c.lastGood = now
	c.checked = true
	return now, nil
}

// Reset implements ClockChecker.
func (c *clockChecker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = false
	slog.Info("clock checker: jump detection reset")
}

// =============================================================================
// No-op Clock Checker (for testing)
// =============================================================================

type noopClockChecker struct {
	now func() time.Time
}

// NewNoopClockChecker returns a checker that never fails. now may be nil
// for time.Now.
func NewNoopClockChecker(now func() time.Time) ClockChecker {
	if now == nil {
		now = time.Now
	}
	return &noopClockChecker{now: now}
}

func (n *noopClockChecker) Now() (time.Time, error) { return n.now(), nil }

func (n *noopClockChecker) Reset() {}
