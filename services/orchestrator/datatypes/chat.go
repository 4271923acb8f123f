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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Input limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a posted question.
	MaxMessageContentBytes = 32 * 1024

	// MaxTitleBytes bounds a caller-supplied chat title.
	MaxTitleBytes = 512

	// MaxOwnerTokenBytes bounds the opaque client session token.
	MaxOwnerTokenBytes = 256

	// DefaultChatTitle is used when a create request carries no title.
	DefaultChatTitle = "New conversation"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes checks byte length, not rune count, so a payload of
// multi-byte characters cannot exceed the memory bound.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// toValidationError converts the first validator failure into the domain
// ValidationError so handlers need only one error mapping.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: "failed rule " + fe.Tag(),
		}
	}
	return &ValidationError{Message: err.Error()}
}

// =============================================================================
// Request types
// =============================================================================

// CreateChatRequest is the body of POST /v1/chats.
//
// # Description
//
// Title defaults to DefaultChatTitle. SessionID is the caller's opaque owner
// token; it may also arrive in the X-Session-ID header, which the handler
// copies in before validation.
//
// # Validation
//
//   - Title: at most MaxTitleBytes
//   - SessionID: required, at most MaxOwnerTokenBytes
type CreateChatRequest struct {
	Title     string `json:"title" validate:"max=512"`
	SessionID string `json:"session_id" validate:"required,notblank,max=256"`
}

// EnsureDefaults fills the default title and trims whitespace.
func (r *CreateChatRequest) EnsureDefaults() {
	r.Title = strings.TrimSpace(r.Title)
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.Title == "" {
		r.Title = DefaultChatTitle
	}
}

// Validate runs the struct tags and returns a *ValidationError on failure.
func (r *CreateChatRequest) Validate() error {
	return toValidationError(chatValidate.Struct(r))
}

// PostMessageRequest is the body of POST /v1/chats/:id/messages.
//
// # Validation
//
//   - Question: required, not only whitespace, at most 32KB
type PostMessageRequest struct {
	Question string `json:"question" validate:"required,notblank,maxbytes"`
}

// Validate runs the struct tags and returns a *ValidationError on failure.
func (r *PostMessageRequest) Validate() error {
	return toValidationError(chatValidate.Struct(r))
}

// =============================================================================
// Response types
// =============================================================================

// ChatListResponse is the body of GET /v1/chats.
type ChatListResponse struct {
	Chats []ChatSummary `json:"chats"`
}

// PostMessageResponse is the body returned after a successful turn. It
// carries the persisted bot message plus the chat's (possibly new) title.
type PostMessageResponse struct {
	ChatID     string      `json:"chat_id"`
	ChatTitle  string      `json:"chat_title"`
	Ordinal    int         `json:"ordinal"`
	Content    string      `json:"content"`
	IsBot      bool        `json:"is_bot"`
	Timestamp  time.Time   `json:"timestamp"`
	References []Reference `json:"references"`
}

// NewPostMessageResponse builds the response from a persisted bot message.
func NewPostMessageResponse(chat *ChatSession, msg Message) PostMessageResponse {
	refs := msg.References
	if refs == nil {
		refs = []Reference{}
	}
	return PostMessageResponse{
		ChatID:     chat.ID,
		ChatTitle:  chat.Title,
		Ordinal:    msg.Ordinal,
		Content:    msg.Content,
		IsBot:      msg.IsBot,
		Timestamp:  msg.Timestamp,
		References: refs,
	}
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
