// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error taxonomy
// =============================================================================
//
// Every failure surfaced by the store, retriever, composer and conversation
// service is one of the types below. Handlers map them to HTTP status codes
// with errors.As; the retryable group (retrieval, composition) maps to 503.

// ValidationError reports bad caller input such as an empty question.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown chat id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NewChatNotFound builds the NotFoundError used for chats.
func NewChatNotFound(id string) error {
	return &NotFoundError{Resource: "chat", ID: id}
}

// RetrievalUnavailableError reports that the passage index could not be
// queried. Nothing has been persisted when it is returned.
type RetrievalUnavailableError struct {
	Attempts int
	Err      error
}

func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetrievalUnavailableError) Unwrap() error { return e.Err }

// CompositionTimeoutError reports that the model call exceeded its deadline.
type CompositionTimeoutError struct {
	Timeout time.Duration
}

func (e *CompositionTimeoutError) Error() string {
	return fmt.Sprintf("answer composition timed out after %s", e.Timeout)
}

// CompositionUpstreamError reports any other model failure, including an
// empty completion.
type CompositionUpstreamError struct {
	Err error
}

func (e *CompositionUpstreamError) Error() string {
	return fmt.Sprintf("answer composition failed: %v", e.Err)
}

func (e *CompositionUpstreamError) Unwrap() error { return e.Err }

// PersistenceError reports a store-layer failure. The operation either
// fully applied or did not apply at all; the caller cannot tell which from
// the error alone and should re-read before retrying.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// =============================================================================
// Classification helpers
// =============================================================================

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsPersistence reports whether err is, or wraps, a *PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsRetryable reports whether err belongs to the upstream-service group
// (retrieval unavailable, composition timeout, composition upstream).
//
// # Description
//
// These errors are returned before anything is persisted, so the client
// may resubmit the same question safely.
//
// # Inputs
//
//   - err: Any error returned by the conversation service.
//
// # Outputs
//
//   - bool: True for the retryable group.
func IsRetryable(err error) bool {
	var (
		retrieval *RetrievalUnavailableError
		timeout   *CompositionTimeoutError
		upstream  *CompositionUpstreamError
	)
	return errors.As(err, &retrieval) || errors.As(err, &timeout) || errors.As(err, &upstream)
}
