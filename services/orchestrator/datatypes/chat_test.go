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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Request validation
// =============================================================================

func TestCreateChatRequest_EnsureDefaults(t *testing.T) {
	req := &CreateChatRequest{Title: "   ", SessionID: "  owner-1 "}
	req.EnsureDefaults()

	assert.Equal(t, DefaultChatTitle, req.Title)
	assert.Equal(t, "owner-1", req.SessionID)
	assert.NoError(t, req.Validate())
}

func TestCreateChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       CreateChatRequest
		wantField string
	}{
		{"valid", CreateChatRequest{Title: "History", SessionID: "owner"}, ""},
		{"missing session", CreateChatRequest{Title: "History"}, "sessionid"},
		{"title too long", CreateChatRequest{Title: strings.Repeat("a", MaxTitleBytes+1), SessionID: "o"}, "title"},
		{"session too long", CreateChatRequest{Title: "t", SessionID: strings.Repeat("s", MaxOwnerTokenBytes+1)}, "sessionid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestPostMessageRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       string
		wantErr bool
	}{
		{"valid", "What is the Truth Commission?", false},
		{"empty", "", true},
		{"whitespace only", " \n\t ", true},
		{"at limit", strings.Repeat("x", MaxMessageContentBytes), false},
		{"over limit", strings.Repeat("x", MaxMessageContentBytes+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := PostMessageRequest{Question: tt.q}
			err := req.Validate()
			if tt.wantErr {
				assert.True(t, IsValidation(err), "expected ValidationError, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// Error taxonomy
// =============================================================================

func TestErrorClassification(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("post message: %w", err) }

	tests := []struct {
		name        string
		err         error
		validation  bool
		notFound    bool
		retryable   bool
		persistence bool
	}{
		{"validation", wrap(NewValidationError("question", "empty")), true, false, false, false},
		{"not found", wrap(NewChatNotFound("abc")), false, true, false, false},
		{"retrieval", wrap(&RetrievalUnavailableError{Attempts: 3, Err: errors.New("dial")}), false, false, true, false},
		{"timeout", wrap(&CompositionTimeoutError{Timeout: time.Second}), false, false, true, false},
		{"upstream", wrap(&CompositionUpstreamError{Err: errors.New("500")}), false, false, true, false},
		{"persistence", wrap(&PersistenceError{Op: "append", Err: errors.New("disk")}), false, false, false, true},
		{"plain", errors.New("other"), false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.persistence, IsPersistence(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &RetrievalUnavailableError{Attempts: 2, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "2 attempt(s)")
}

// =============================================================================
// Model helpers
// =============================================================================

func TestChatSession_CloneIsDeep(t *testing.T) {
	orig := &ChatSession{
		ID:    "c1",
		Title: "t",
		Messages: []Message{
			{Ordinal: 0, Content: "q"},
			{Ordinal: 1, Content: "a", IsBot: true, References: []Reference{{Number: 1, Title: "Tomo 1"}}},
		},
	}

	clone := orig.Clone()
	clone.Messages[1].References[0].Title = "changed"
	clone.Messages = append(clone.Messages, Message{Ordinal: 2})

	assert.Equal(t, "Tomo 1", orig.Messages[1].References[0].Title)
	assert.Len(t, orig.Messages, 2)
	assert.Equal(t, 2, orig.Summary().MessageCount)
}

func TestNewPostMessageResponse_NonNilReferences(t *testing.T) {
	chat := &ChatSession{ID: "c1", Title: "Question"}
	resp := NewPostMessageResponse(chat, Message{Ordinal: 1, Content: "answer", IsBot: true})

	require.NotNil(t, resp.References)
	assert.Empty(t, resp.References)
	assert.Equal(t, "Question", resp.ChatTitle)
}

func TestPassageResult_ToPassage(t *testing.T) {
	page := 42
	dist := 0.25
	r := PassageResult{Content: "text", Title: "Hay futuro si hay verdad", SourceID: "Tomo 1", Page: &page}
	r.Additional.ID = "uuid-1"
	r.Additional.Distance = &dist

	p := r.ToPassage()
	assert.Equal(t, "42", p.Page)
	assert.Equal(t, "uuid-1", p.DocumentID)
	assert.InDelta(t, 0.75, p.Score, 1e-9)
}
