// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the durable chat session store.
//
// # Description
//
// A chat store maps chat ids to ordered message histories scoped by an
// opaque owner token. Two implementations satisfy Store:
//
//   - BadgerStore: durable, backed by BadgerDB with synchronous writes.
//   - MemoryStore: process-local, used by tests and the "memory" backend.
//
// # Concurrency
//
// AppendMessages and DeleteChat are serialized per chat id through a keyed
// mutex. Operations on different chats never wait on each other. Reads may
// run concurrently with writes and observe either the state before or after
// an append, never a partial append.
package storage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// =============================================================================
// Interfaces
// =============================================================================

// ChatStore is the session store contract used by the conversation service.
type ChatStore interface {
	// CreateChat creates an empty chat. Fails with *datatypes.ValidationError
	// when the trimmed title is empty.
	CreateChat(ctx context.Context, title, ownerToken string) (*datatypes.ChatSession, error)

	// GetChat returns a deep copy of the chat. Fails with
	// *datatypes.NotFoundError for unknown ids.
	GetChat(ctx context.Context, id string) (*datatypes.ChatSession, error)

	// ListChats returns the owner's chats, newest-updated first.
	ListChats(ctx context.Context, ownerToken string) ([]datatypes.ChatSummary, error)

	// AppendMessages appends msgs as one atomic unit, assigning ordinals
	// and bumping UpdatedAt. Returns the updated chat.
	AppendMessages(ctx context.Context, chatID string, msgs []datatypes.Message, opts AppendOptions) (*datatypes.ChatSession, error)

	// DeleteChat removes the chat and all its messages.
	DeleteChat(ctx context.Context, id string) error

	// Ping reports whether the backing storage is usable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// Maintenance is the administrative surface of a store.
type Maintenance interface {
	Stats(ctx context.Context) (datatypes.StoreStats, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]datatypes.MessageHit, error)
	ListAll(ctx context.Context) ([]*datatypes.ChatSession, error)
	ImportChats(ctx context.Context, chats []*datatypes.ChatSession) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Verify(ctx context.Context) (datatypes.VerifyReport, error)
}

// Store combines the request-path and maintenance surfaces.
type Store interface {
	ChatStore
	Maintenance
}

// AppendOptions adjusts an append.
type AppendOptions struct {
	// FirstMessageTitle, when non-empty, replaces the chat title if and only
	// if the chat holds no messages at the moment the append is applied.
	// The title change commits in the same unit as the messages.
	FirstMessageTitle string
}

// =============================================================================
// Shared helpers
// =============================================================================

// DefaultSearchLimit is used when SearchMessages is called with limit <= 0.
const DefaultSearchLimit = 10

// normalizeTitle trims the title and rejects an empty result.
func normalizeTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", datatypes.NewValidationError("title", "must not be empty")
	}
	return t, nil
}

// prepareMessages validates msgs and assigns ordinals starting at next.
//
// User messages must have content and must not carry references. A zero
// timestamp is replaced with now.
func prepareMessages(msgs []datatypes.Message, next int, now time.Time) ([]datatypes.Message, error) {
	if len(msgs) == 0 {
		return nil, datatypes.NewValidationError("messages", "at least one message is required")
	}
	out := make([]datatypes.Message, len(msgs))
	for i, m := range msgs {
		m = m.Clone()
		if !m.IsBot {
			if strings.TrimSpace(m.Content) == "" {
				return nil, datatypes.NewValidationError("content", "user message must not be empty")
			}
			if len(m.References) > 0 {
				return nil, datatypes.NewValidationError("references", "user messages carry no references")
			}
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		m.Ordinal = next + i
		out[i] = m
	}
	return out, nil
}

// latest returns the later of t and every message timestamp.
func latest(t time.Time, msgs []datatypes.Message) time.Time {
	for _, m := range msgs {
		if m.Timestamp.After(t) {
			t = m.Timestamp
		}
	}
	return t
}

// verifyChat appends integrity problems found in chat to problems.
func verifyChat(chat *datatypes.ChatSession, problems []string) []string {
	if strings.TrimSpace(chat.Title) == "" && len(chat.Messages) > 0 {
		problems = append(problems, "chat "+chat.ID+": empty title with messages")
	}
	for i, m := range chat.Messages {
		if m.Ordinal != i {
			problems = append(problems, "chat "+chat.ID+": ordinal gap at position "+strconv.Itoa(i))
			break
		}
		if !m.IsBot && len(m.References) > 0 {
			problems = append(problems, "chat "+chat.ID+": user message "+strconv.Itoa(i)+" carries references")
		}
		for j, r := range m.References {
			if r.Number != j+1 {
				problems = append(problems, "chat "+chat.ID+": message "+strconv.Itoa(i)+" references not contiguous")
				break
			}
		}
	}
	return problems
}

// lessSummary orders newest-updated first; ties break on id for a stable
// listing.
func lessSummary(a, b datatypes.ChatSummary) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// =============================================================================
// Keyed mutex
// =============================================================================

// keyedMutex hands out one mutex per key and frees it when no goroutine
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
