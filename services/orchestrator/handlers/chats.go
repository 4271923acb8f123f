// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/middleware"
	"github.com/AleutianAI/truthwindow/services/orchestrator/services"
)

// sessionHeader carries the caller's opaque owner token.
const sessionHeader = "X-Session-ID"

// ownerToken reads the owner token from the header, falling back to the
// session_id query parameter.
func ownerToken(c *gin.Context) string {
	if sid := strings.TrimSpace(c.GetHeader(sessionHeader)); sid != "" {
		return sid
	}
	return strings.TrimSpace(c.Query("session_id"))
}

// CreateChat handles POST /v1/chats.
func CreateChat(chats *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateChatRequest
		if c.Request.ContentLength != 0 {
			if !bindJSON(c, &req) {
				return
			}
		}
		if req.SessionID == "" {
			req.SessionID = ownerToken(c)
		}

		chat, err := chats.Create(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, chat)
	}
}

// ListChats handles GET /v1/chats.
func ListChats(chats *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := chats.List(c.Request.Context(), ownerToken(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ChatListResponse{Chats: list})
	}
}

// GetChat handles GET /v1/chats/:id.
func GetChat(chats *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		chat, err := chats.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, chat)
	}
}

// DeleteChat handles DELETE /v1/chats/:id. Successful deletes are audited.
func DeleteChat(chats *services.ChatService, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := chats.Delete(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}

		user := extensions.AnonymousUserID
		if info := middleware.GetAuthInfo(c); info != nil {
			user = info.UserID
		}
		_ = audit.Log(c.Request.Context(), extensions.AuditEvent{
			EventType:    "chat.delete",
			UserID:       user,
			Action:       "delete",
			ResourceType: "chat",
			ResourceID:   id,
			Outcome:      "success",
			Metadata:     extensions.NewMetadata().Set("ip_address", c.ClientIP()),
		})
		c.Status(http.StatusNoContent)
	}
}

// PostMessage handles POST /v1/chats/:id/messages.
func PostMessage(conversation *services.ConversationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PostMessageRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := conversation.PostMessage(c.Request.Context(), c.Param("id"), req.Question)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewPostMessageResponse(result.Chat, result.Message))
	}
}
