// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/observability"
	"github.com/AleutianAI/truthwindow/services/orchestrator/storage"
)

var chatsTracer = otel.Tracer("truthwindow.services.chats")

// ChatService wraps session CRUD and the admin read paths for handlers.
type ChatService struct {
	store   storage.Store
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewChatService creates a ChatService. Nil metrics and logger fall back as
// in NewConversationService.
func NewChatService(store storage.Store, metrics *observability.Metrics, logger *slog.Logger) *ChatService {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{store: store, metrics: metrics, logger: logger}
}

// Create validates req and creates an empty chat.
func (s *ChatService) Create(ctx context.Context, req datatypes.CreateChatRequest) (*datatypes.ChatSession, error) {
	ctx, span := chatsTracer.Start(ctx, "ChatService.Create")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	chat, err := s.store.CreateChat(ctx, req.Title, req.SessionID)
	s.metrics.RecordStoreOp("create", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("chat.id", chat.ID))
	s.logger.Info("chat created", "chat_id", chat.ID)
	return chat, nil
}

// Get returns one chat with its full history.
func (s *ChatService) Get(ctx context.Context, id string) (*datatypes.ChatSession, error) {
	ctx, span := chatsTracer.Start(ctx, "ChatService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", id))

	chat, err := s.store.GetChat(ctx, id)
	s.metrics.RecordStoreOp("get", ignoreNotFound(err))
	return chat, err
}

// List returns the owner's chats, newest-updated first.
func (s *ChatService) List(ctx context.Context, ownerToken string) ([]datatypes.ChatSummary, error) {
	ctx, span := chatsTracer.Start(ctx, "ChatService.List")
	defer span.End()

	if ownerToken == "" {
		return nil, datatypes.NewValidationError("session_id", "is required")
	}
	chats, err := s.store.ListChats(ctx, ownerToken)
	s.metrics.RecordStoreOp("list", err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("chats", len(chats)))
	return chats, nil
}

// Delete removes a chat. A second delete of the same id is a NotFoundError.
func (s *ChatService) Delete(ctx context.Context, id string) error {
	ctx, span := chatsTracer.Start(ctx, "ChatService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", id))

	err := s.store.DeleteChat(ctx, id)
	s.metrics.RecordStoreOp("delete", ignoreNotFound(err))
	if err != nil {
		return err
	}
	s.logger.Info("chat deleted", "chat_id", id)
	return nil
}

// Stats returns aggregate store counters.
func (s *ChatService) Stats(ctx context.Context) (datatypes.StoreStats, error) {
	stats, err := s.store.Stats(ctx)
	s.metrics.RecordStoreOp("stats", err)
	return stats, err
}

// Search finds messages containing query, case-insensitively.
func (s *ChatService) Search(ctx context.Context, query string, limit int) ([]datatypes.MessageHit, error) {
	if query == "" {
		return nil, datatypes.NewValidationError("q", "is required")
	}
	hits, err := s.store.SearchMessages(ctx, query, limit)
	s.metrics.RecordStoreOp("search", err)
	return hits, err
}

// Ping reports store health for the readiness probe.
func (s *ChatService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
