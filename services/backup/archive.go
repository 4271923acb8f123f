// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup exports, imports, and uploads session store archives.
//
// An archive is a single JSON document holding every chat with its
// messages. It is the format written by "truthwindow admin export", read by
// "truthwindow admin import", and uploaded by "truthwindow admin backup".
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// ArchiveVersion is the only archive layout this package reads and writes.
const ArchiveVersion = 1

// Archive is the on-disk export format.
type Archive struct {
	Version    int                      `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Chats      []*datatypes.ChatSession `json:"chats"`
}

// Source lists every chat for export.
type Source interface {
	ListAll(ctx context.Context) ([]*datatypes.ChatSession, error)
}

// Sink receives imported chats. A chat replaces any existing chat with the
// same id.
type Sink interface {
	ImportChats(ctx context.Context, chats []*datatypes.ChatSession) (int, error)
}

// Export writes every chat in src to w as an Archive.
//
// # Outputs
//
//   - int: Number of chats written.
//   - error: Non-nil if listing or encoding fails.
func Export(ctx context.Context, src Source, w io.Writer, now time.Time) (int, error) {
	chats, err := src.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list chats: %w", err)
	}
	if chats == nil {
		chats = []*datatypes.ChatSession{}
	}
	archive := Archive{Version: ArchiveVersion, ExportedAt: now.UTC(), Chats: chats}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		return 0, fmt.Errorf("encode archive: %w", err)
	}
	return len(chats), nil
}

// ReadArchive decodes an archive and checks its version.
func ReadArchive(r io.Reader) (*Archive, error) {
	var archive Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if archive.Version != ArchiveVersion {
		return nil, fmt.Errorf("unsupported archive version %d (want %d)", archive.Version, ArchiveVersion)
	}
	return &archive, nil
}

// Import reads an archive from r into dst.
//
// # Outputs
//
//   - imported: Chats actually written.
//   - total: Chats present in the archive.
//   - err: Non-nil if the archive is unreadable or a chat is invalid.
func Import(ctx context.Context, dst Sink, r io.Reader) (imported, total int, err error) {
	archive, err := ReadArchive(r)
	if err != nil {
		return 0, 0, err
	}
	imported, err = dst.ImportChats(ctx, archive.Chats)
	if err != nil {
		return imported, len(archive.Chats), fmt.Errorf("import chats: %w", err)
	}
	return imported, len(archive.Chats), nil
}
