// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
)

// LoadCredentialsFile reads a YAML credentials file:
//
//	tokens:
//	  - tw_3kq...
//	allowed_origins:
//	  - https://truthwindow.example.org
func LoadCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials file %s: %w", path, err)
	}
	return c, nil
}

// Merge returns the union of c and other.
func (c Credentials) Merge(other Credentials) Credentials {
	return Credentials{
		Tokens:         append(append([]string{}, c.Tokens...), other.Tokens...),
		AllowedOrigins: append(append([]string{}, c.AllowedOrigins...), other.AllowedOrigins...),
	}
}

// CredentialsWatcher reloads a gate from a credentials file on change.
//
// # Description
//
// Watches the file's directory rather than the file itself so that editors
// and secret managers that replace the file by rename are still observed.
// Static credentials (from the environment) are merged into every reload.
// A file that fails to parse leaves the previous credentials in force.
//
// # Thread Safety
//
// Start should only be called once.
type CredentialsWatcher struct {
	path    string
	static  Credentials
	gate    *AccessGate
	watcher *fsnotify.Watcher
}

// NewCredentialsWatcher loads path once into gate and prepares the watch.
//
// # Outputs
//
//   - *CredentialsWatcher: Ready-to-start watcher.
//   - error: Non-nil if the initial load or watcher creation fails.
func NewCredentialsWatcher(path string, static Credentials, gate *AccessGate) (*CredentialsWatcher, error) {
	w := &CredentialsWatcher{path: filepath.Clean(path), static: static, gate: gate}
	if err := w.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create credentials watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher
	return w, nil
}

// Start processes file events until ctx is cancelled. Run in a goroutine.
func (w *CredentialsWatcher) Start(ctx context.Context) {
	w.gate.logger.Debug("watching credentials file", "path", w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.gate.logger.Warn("credentials watcher error", "error", err)

		case <-ctx.Done():
			w.gate.logger.Debug("credentials watcher stopping")
			return
		}
	}
}

func (w *CredentialsWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if err := w.reload(); err != nil {
		w.gate.logger.Error("credentials reload failed, keeping previous set",
			"path", w.path, "error", err)
		return
	}
	_ = w.gate.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "auth.reloaded",
		UserID:       "system",
		Action:       "reload",
		ResourceType: "credentials",
		ResourceID:   w.path,
		Outcome:      "success",
	})
}

func (w *CredentialsWatcher) reload() error {
	c, err := LoadCredentialsFile(w.path)
	if err != nil {
		return err
	}
	w.gate.Update(w.static.Merge(c))
	return nil
}

// Stop releases the watcher. Safe to call multiple times.
func (w *CredentialsWatcher) Stop() error {
	return w.watcher.Close()
}
