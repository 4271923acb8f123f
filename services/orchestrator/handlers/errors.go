// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the HTTP surface. Each
// exported function returns a gin.HandlerFunc closed over its dependencies.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// BusyMessage is the body text of every retryable upstream failure.
const BusyMessage = "service busy, try again"

// writeError maps a domain error onto its HTTP status and JSON body.
//
//	ValidationError                 -> 400
//	NotFoundError                   -> 404
//	retrieval/composition failures  -> 503, retryable
//	PersistenceError and the rest   -> 500
func writeError(c *gin.Context, err error) {
	var verr *datatypes.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case datatypes.IsNotFound(err):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: err.Error()})
	case datatypes.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: BusyMessage, Retryable: true})
	case datatypes.IsPersistence(err):
		slog.Error("persistence failure", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to save conversation"})
	default:
		slog.Error("unhandled error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "internal error"})
	}
}

// bindJSON decodes the body into dst, answering 400 on malformed JSON.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
