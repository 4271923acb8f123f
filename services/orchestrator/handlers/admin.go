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
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/services"
)

// maxSearchLimit caps GET /v1/admin/search?limit=.
const maxSearchLimit = 100

// GetStats handles GET /v1/admin/stats.
func GetStats(chats *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := chats.Stats(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// SearchMessages handles GET /v1/admin/search?q=&limit=.
func SearchMessages(chats *services.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxSearchLimit {
				writeError(c, datatypes.NewValidationError("limit", "must be an integer between 1 and 100"))
				return
			}
			limit = n
		}

		hits, err := chats.Search(c.Request.Context(), strings.TrimSpace(c.Query("q")), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hits": hits, "count": len(hits)})
	}
}
