// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant event.
//
// # Event Categories
//
//   - Gate: "auth.denied", "auth.reloaded"
//   - Data: "chat.delete", "store.import", "store.cleanup"
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "chat.delete",
//	    UserID:       authInfo.UserID,
//	    Action:       "delete",
//	    ResourceType: "chat",
//	    ResourceID:   chatID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action".
	EventType string

	// Timestamp is when the event occurred (UTC). Set by the logger when zero.
	Timestamp time.Time

	// UserID identifies who performed the action. "system" for automated
	// actions, AnonymousUserID if unknown.
	UserID string

	// Action describes the operation attempted.
	Action string

	// ResourceType is the category of resource involved.
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome is one of "success", "failure", "denied".
	Outcome string

	// Metadata holds additional event-specific data such as "ip_address"
	// or "reason".
	Metadata Metadata
}

// AuditLogger records security-relevant events.
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	// Log records one event. Implementations set Timestamp if zero.
	Log(ctx context.Context, event AuditEvent) error

	// Flush ensures all buffered events are persisted. Called on shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// SlogAuditLogger writes each event as one structured log line under the
// "audit" group.
//
// Thread-safe: slog handlers serialize writes.
type SlogAuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSlogAuditLogger creates an audit logger writing to logger. A nil
// logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.UserID == "" {
		event.UserID = AnonymousUserID
	}

	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("outcome", event.Outcome),
	}
	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	for _, k := range event.Metadata.Keys() {
		v, _ := event.Metadata.Get(k)
		attrs = append(attrs, slog.Any(k, v))
	}

	level := slog.LevelInfo
	if event.Outcome == "denied" || event.Outcome == "failure" {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
	return nil
}

// Flush is a no-op; slog writes synchronously.
func (l *SlogAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// Compile-time interface compliance checks.
var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
