// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the domain model, error taxonomy, and HTTP
// request/response types shared by the orchestrator packages.
//
// This file contains the persisted chat model (ChatSession, Message,
// Reference) and the transient retrieval result (Passage).
package datatypes

import (
	"time"
)

// =============================================================================
// Persisted model
// =============================================================================

// ChatSession is a titled conversation owned by one client session token.
//
// # Description
//
// Messages are kept in ordinal order. OwnerToken groups chats for listing;
// it is not an authorization boundary.
//
// # Invariants
//
//   - Title is non-empty once the first message has been appended.
//   - Messages[i].Ordinal == i for every i.
//   - UpdatedAt >= CreatedAt.
type ChatSession struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	OwnerToken string    `json:"owner_token"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Messages   []Message `json:"messages"`
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (c *ChatSession) Clone() *ChatSession {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i := range c.Messages {
		out.Messages[i] = c.Messages[i].Clone()
	}
	return &out
}

// Summary returns the listing view of the session.
func (c *ChatSession) Summary() ChatSummary {
	return ChatSummary{
		ID:           c.ID,
		Title:        c.Title,
		OwnerToken:   c.OwnerToken,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// ChatSummary is the listing view of a ChatSession without its messages.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerToken   string    `json:"owner_token"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one turn in a chat. Messages are never mutated after append.
//
// References is only populated on bot messages.
type Message struct {
	Ordinal    int         `json:"ordinal"`
	Content    string      `json:"content"`
	IsBot      bool        `json:"is_bot"`
	Timestamp  time.Time   `json:"timestamp"`
	References []Reference `json:"references,omitempty"`
}

// Clone returns a copy with its own References slice.
func (m Message) Clone() Message {
	if m.References != nil {
		refs := make([]Reference, len(m.References))
		copy(refs, m.References)
		m.References = refs
	}
	return m
}

// Reference binds an inline [n] marker in a bot message to its source.
//
// Numbers within one message are contiguous from 1.
type Reference struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	SourceID  string `json:"source_id,omitempty"`
	Page      string `json:"page,omitempty"`
	Year      string `json:"year,omitempty"`
	URL       string `json:"url,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

// =============================================================================
// Transient retrieval model
// =============================================================================

// Passage is one retrieved excerpt of the archive. Produced per question and
// never persisted.
type Passage struct {
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Title      string  `json:"title"`
	SourceID   string  `json:"source_id,omitempty"`
	Page       string  `json:"page,omitempty"`
	Year       string  `json:"year,omitempty"`
	URL        string  `json:"url,omitempty"`
}

// =============================================================================
// Store statistics
// =============================================================================

// StoreStats summarises the contents of a chat store.
type StoreStats struct {
	ChatCount       int       `json:"chat_count"`
	MessageCount    int       `json:"message_count"`
	UserMessages    int       `json:"user_messages"`
	BotMessages     int       `json:"bot_messages"`
	OwnerCount      int       `json:"owner_count"`
	OldestUpdatedAt time.Time `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt time.Time `json:"newest_updated_at,omitempty"`
}

// MessageHit is a search result pointing at one message of one chat.
type MessageHit struct {
	ChatID    string  `json:"chat_id"`
	ChatTitle string  `json:"chat_title"`
	Message   Message `json:"message"`
}

// VerifyReport lists integrity problems found in the store.
type VerifyReport struct {
	ChatsChecked int      `json:"chats_checked"`
	Problems     []string `json:"problems"`
}

// OK reports whether no problems were found.
func (r VerifyReport) OK() bool { return len(r.Problems) == 0 }
