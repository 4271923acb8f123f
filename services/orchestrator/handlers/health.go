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
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// readinessTimeout bounds the whole readiness probe.
const readinessTimeout = 3 * time.Second

// Probe is one dependency checked by /ready.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthCheck handles GET /health (liveness).
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessCheck handles GET /ready. All probes run concurrently; any
// failure answers 503 with the per-probe result.
func ReadinessCheck(probes ...Probe) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			results = make(map[string]string, len(probes))
		)
		var g errgroup.Group
		for _, p := range probes {
			g.Go(func() error {
				err := p.Check(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[p.Name] = err.Error()
					return err
				}
				results[p.Name] = "ok"
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			slog.Warn("readiness check failed", "checks", results)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": results})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": results})
	}
}
