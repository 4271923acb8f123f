// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// MemoryStore is a process-local Store. Data is lost on exit.
//
// The chat map is guarded by an RWMutex held only for map access; each chat
// carries its own mutex, so appends to different chats do not contend.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]*memoryChat
	now   func() time.Time
}

type memoryChat struct {
	mu      sync.RWMutex
	chat    *datatypes.ChatSession
	deleted bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[string]*memoryChat),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) lookup(id string) (*memoryChat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	return c, ok
}

// CreateChat implements ChatStore.
func (s *MemoryStore) CreateChat(ctx context.Context, title, ownerToken string) (*datatypes.ChatSession, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	now := s.now()
	chat := &datatypes.ChatSession{
		ID:         uuid.NewString(),
		Title:      title,
		OwnerToken: ownerToken,
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages:   []datatypes.Message{},
	}

	s.mu.Lock()
	s.chats[chat.ID] = &memoryChat{chat: chat}
	s.mu.Unlock()
	return chat.Clone(), nil
}

// GetChat implements ChatStore.
func (s *MemoryStore) GetChat(ctx context.Context, id string) (*datatypes.ChatSession, error) {
	c, ok := s.lookup(id)
	if !ok {
		return nil, datatypes.NewChatNotFound(id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deleted {
		return nil, datatypes.NewChatNotFound(id)
	}
	return c.chat.Clone(), nil
}

// ListChats implements ChatStore.
func (s *MemoryStore) ListChats(ctx context.Context, ownerToken string) ([]datatypes.ChatSummary, error) {
	out := []datatypes.ChatSummary{}
	for _, c := range s.snapshot() {
		c.mu.RLock()
		if !c.deleted && c.chat.OwnerToken == ownerToken {
			out = append(out, c.chat.Summary())
		}
		c.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return lessSummary(out[i], out[j]) })
	return out, nil
}

// AppendMessages implements ChatStore.
func (s *MemoryStore) AppendMessages(ctx context.Context, chatID string, msgs []datatypes.Message, opts AppendOptions) (*datatypes.ChatSession, error) {
	c, ok := s.lookup(chatID)
	if !ok {
		return nil, datatypes.NewChatNotFound(chatID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return nil, datatypes.NewChatNotFound(chatID)
	}
	if err := ctx.Err(); err != nil {
		return nil, &datatypes.PersistenceError{Op: "append", Err: err}
	}

	prepared, err := prepareMessages(msgs, len(c.chat.Messages), s.now())
	if err != nil {
		return nil, err
	}

	// Build the next state fully before publishing it.
	next := c.chat.Clone()
	if opts.FirstMessageTitle != "" && len(next.Messages) == 0 {
		next.Title = opts.FirstMessageTitle
	}
	next.Messages = append(next.Messages, prepared...)
	next.UpdatedAt = latest(s.now(), prepared)
	c.chat = next
	return next.Clone(), nil
}

// DeleteChat implements ChatStore.
func (s *MemoryStore) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.chats[id]
	if ok {
		delete(s.chats, id)
	}
	s.mu.Unlock()
	if !ok {
		return datatypes.NewChatNotFound(id)
	}

	c.mu.Lock()
	c.deleted = true
	c.mu.Unlock()
	return nil
}

// Ping implements ChatStore.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements ChatStore.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) snapshot() []*memoryChat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memoryChat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	return out
}

// =============================================================================
// Maintenance
// =============================================================================

// ListAll implements Maintenance. Chats are ordered by creation time.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*datatypes.ChatSession, error) {
	var out []*datatypes.ChatSession
	for _, c := range s.snapshot() {
		c.mu.RLock()
		if !c.deleted {
			out = append(out, c.chat.Clone())
		}
		c.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Stats implements Maintenance.
func (s *MemoryStore) Stats(ctx context.Context) (datatypes.StoreStats, error) {
	all, _ := s.ListAll(ctx)
	return computeStats(all), nil
}

// SearchMessages implements Maintenance.
func (s *MemoryStore) SearchMessages(ctx context.Context, query string, limit int) ([]datatypes.MessageHit, error) {
	all, _ := s.ListAll(ctx)
	return searchChats(all, query, limit), nil
}

// ImportChats implements Maintenance.
func (s *MemoryStore) ImportChats(ctx context.Context, chats []*datatypes.ChatSession) (int, error) {
	for _, chat := range chats {
		if err := validateImport(chat); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range chats {
		// An append holding the replaced entry must fail rather than write
		// into a copy no reader can see.
		if old, ok := s.chats[chat.ID]; ok {
			old.mu.Lock()
			old.deleted = true
			old.mu.Unlock()
		}
		s.chats[chat.ID] = &memoryChat{chat: chat.Clone()}
	}
	return len(chats), nil
}

// DeleteOlderThan implements Maintenance.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	for _, c := range s.snapshot() {
		c.mu.RLock()
		stale := !c.deleted && c.chat.UpdatedAt.Before(cutoff)
		id := c.chat.ID
		c.mu.RUnlock()
		if !stale {
			continue
		}
		if err := s.DeleteChat(ctx, id); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// Verify implements Maintenance.
func (s *MemoryStore) Verify(ctx context.Context) (datatypes.VerifyReport, error) {
	all, _ := s.ListAll(ctx)
	report := datatypes.VerifyReport{ChatsChecked: len(all)}
	for _, chat := range all {
		report.Problems = verifyChat(chat, report.Problems)
	}
	return report, nil
}

// =============================================================================
// Helpers shared by both implementations
// =============================================================================

func computeStats(all []*datatypes.ChatSession) datatypes.StoreStats {
	stats := datatypes.StoreStats{ChatCount: len(all)}
	owners := make(map[string]struct{})
	for _, chat := range all {
		owners[chat.OwnerToken] = struct{}{}
		stats.MessageCount += len(chat.Messages)
		for _, m := range chat.Messages {
			if m.IsBot {
				stats.BotMessages++
			} else {
				stats.UserMessages++
			}
		}
		if stats.OldestUpdatedAt.IsZero() || chat.UpdatedAt.Before(stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = chat.UpdatedAt
		}
		if chat.UpdatedAt.After(stats.NewestUpdatedAt) {
			stats.NewestUpdatedAt = chat.UpdatedAt
		}
	}
	stats.OwnerCount = len(owners)
	return stats
}

// searchChats returns case-insensitive substring matches, newest first.
func searchChats(all []*datatypes.ChatSession, query string, limit int) []datatypes.MessageHit {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []datatypes.MessageHit{}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	hits := []datatypes.MessageHit{}
	for _, chat := range all {
		for _, m := range chat.Messages {
			if strings.Contains(strings.ToLower(m.Content), q) {
				hits = append(hits, datatypes.MessageHit{ChatID: chat.ID, ChatTitle: chat.Title, Message: m})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Message.Timestamp.After(hits[j].Message.Timestamp)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func validateImport(chat *datatypes.ChatSession) error {
	if chat == nil || chat.ID == "" {
		return datatypes.NewValidationError("id", "imported chat must have an id")
	}
	if _, err := normalizeTitle(chat.Title); err != nil {
		return err
	}
	for i, m := range chat.Messages {
		if m.Ordinal != i {
			return datatypes.NewValidationError("messages", "imported chat "+chat.ID+" has non-contiguous ordinals")
		}
	}
	return nil
}
