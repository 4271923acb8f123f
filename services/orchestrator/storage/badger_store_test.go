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
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// TestBadgerStore_Durability verifies committed turns survive a reopen.
func TestBadgerStore_Durability(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)

	chat, err := s.CreateChat(ctx, "New Chat", "owner")
	require.NoError(t, err)
	_, err = s.AppendMessages(ctx, chat.ID, turn("q", "a [1]", datatypes.Reference{Number: 1, Title: "Tomo 1"}),
		AppendOptions{FirstMessageTitle: "q"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "q", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, 1, got.Messages[1].Ordinal)
	assert.Equal(t, "Tomo 1", got.Messages[1].References[0].Title)

	list, err := reopened.ListChats(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStore_PingAfterClose(t *testing.T) {
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())

	err = s.Ping(context.Background())
	assert.True(t, datatypes.IsPersistence(err))
}

func TestBadgerStore_CancelledContextIsPersistenceError(t *testing.T) {
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.CreateChat(ctx, "t", "o")
	assert.True(t, datatypes.IsPersistence(err), "got %v", err)
}

// TestBadgerStore_VerifyDetectsOrphans writes a message key with no header
// and expects Verify to report it.
func TestBadgerStore_VerifyDetectsOrphans(t *testing.T) {
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(msgKey("ghost", 0), []byte(`{"ordinal":0,"content":"x"}`))
	})
	require.NoError(t, err)

	report, err := s.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "orphaned")
}

func TestBadgerStore_DeleteLeavesNoKeys(t *testing.T) {
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	chat, err := s.CreateChat(ctx, "t", "o")
	require.NoError(t, err)
	_, err = s.AppendMessages(ctx, chat.ID, turn("q", "a"), AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, s.DeleteChat(ctx, chat.ID))

	count := 0
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, count)
}
