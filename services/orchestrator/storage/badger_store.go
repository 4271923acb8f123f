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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// =============================================================================
// Key layout
// =============================================================================
//
//	chat/<id>                      -> chatHeader (JSON)
//	msg/<id>/<ordinal %010d>       -> datatypes.Message (JSON)
//	owner/<base64url(token)>/<id>  -> <id>
//
// The owner token is encoded so a token containing "/" cannot alias another
// owner's prefix. Message keys sort by ordinal.

const (
	chatPrefix  = "chat/"
	msgPrefix   = "msg/"
	ownerPrefix = "owner/"

	// maxConflictRetries bounds retries of a transaction that lost an
	// optimistic conflict check.
	maxConflictRetries = 3
)

func chatKey(id string) []byte { return []byte(chatPrefix + id) }

func msgPrefixFor(id string) []byte { return []byte(msgPrefix + id + "/") }

func msgKey(id string, ordinal int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", msgPrefix, id, ordinal))
}

func ownerPrefixFor(token string) []byte {
	return []byte(ownerPrefix + base64.RawURLEncoding.EncodeToString([]byte(token)) + "/")
}

func ownerKey(token, id string) []byte {
	return append(ownerPrefixFor(token), id...)
}

// chatHeader is the persisted session row without its messages.
type chatHeader struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerToken   string    `json:"owner_token"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func (h *chatHeader) summary() datatypes.ChatSummary {
	return datatypes.ChatSummary{
		ID:           h.ID,
		Title:        h.Title,
		OwnerToken:   h.OwnerToken,
		CreatedAt:    h.CreatedAt,
		UpdatedAt:    h.UpdatedAt,
		MessageCount: h.MessageCount,
	}
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore is the durable Store.
//
// # Description
//
// Each mutation runs in a single BadgerDB read-write transaction, so a user
// message, its bot reply, the title overwrite and the header update either
// all commit or none do. With SyncWrites enabled the commit is fsynced
// before the call returns.
//
// # Thread Safety
//
// Safe for concurrent use. Appends and deletes on the same chat are
// serialized by a keyed mutex; different chats proceed in parallel and rely
// on BadgerDB's snapshot isolation.
type BadgerStore struct {
	db     *badgerDB
	locks  *keyedMutex
	now    func() time.Time
	tracer trace.Tracer
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a BadgerStore.
//
// # Inputs
//
//   - cfg: Database configuration. Use DefaultBadgerConfig for production
//     and InMemoryBadgerConfig for tests.
//
// # Outputs
//
//   - *BadgerStore: Open store. Call Close on shutdown.
//   - error: Non-nil if the database cannot be opened.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:     db,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("truthwindow.storage"),
	}, nil
}

// Close implements ChatStore.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ping implements ChatStore.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return &datatypes.PersistenceError{Op: "ping", Err: errors.New("database closed")}
	}
	return s.db.withReadTxn(ctx, func(txn *badger.Txn) error { return nil })
}

// CreateChat implements ChatStore.
func (s *BadgerStore) CreateChat(ctx context.Context, title, ownerToken string) (*datatypes.ChatSession, error) {
	ctx, span := s.tracer.Start(ctx, "BadgerStore.CreateChat")
	defer span.End()

	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	now := s.now()
	h := &chatHeader{
		ID:         uuid.NewString(),
		Title:      title,
		OwnerToken: ownerToken,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	span.SetAttributes(attribute.String("chat.id", h.ID))

	err = s.update(ctx, "create", func(txn *badger.Txn) error {
		if err := putJSON(txn, chatKey(h.ID), h); err != nil {
			return err
		}
		return txn.Set(ownerKey(ownerToken, h.ID), []byte(h.ID))
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return &datatypes.ChatSession{
		ID:         h.ID,
		Title:      h.Title,
		OwnerToken: h.OwnerToken,
		CreatedAt:  h.CreatedAt,
		UpdatedAt:  h.UpdatedAt,
		Messages:   []datatypes.Message{},
	}, nil
}

// GetChat implements ChatStore.
func (s *BadgerStore) GetChat(ctx context.Context, id string) (*datatypes.ChatSession, error) {
	ctx, span := s.tracer.Start(ctx, "BadgerStore.GetChat", trace.WithAttributes(attribute.String("chat.id", id)))
	defer span.End()

	var chat *datatypes.ChatSession
	err := s.view(ctx, "get", func(txn *badger.Txn) error {
		var err error
		chat, err = loadChat(txn, id)
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return chat, nil
}

// ListChats implements ChatStore.
func (s *BadgerStore) ListChats(ctx context.Context, ownerToken string) ([]datatypes.ChatSummary, error) {
	ctx, span := s.tracer.Start(ctx, "BadgerStore.ListChats")
	defer span.End()

	out := []datatypes.ChatSummary{}
	err := s.view(ctx, "list", func(txn *badger.Txn) error {
		prefix := ownerPrefixFor(ownerToken)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			h, err := loadHeader(txn, string(id))
			if err != nil {
				if datatypes.IsNotFound(err) {
					continue
				}
				return err
			}
			out = append(out, h.summary())
		}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return lessSummary(out[i], out[j]) })
	span.SetAttributes(attribute.Int("chat.count", len(out)))
	return out, nil
}

// AppendMessages implements ChatStore.
//
// # Description
//
// Holds the chat's keyed mutex for the whole transaction so ordinals are
// assigned from a count no other writer can change. Title overwrite via
// opts.FirstMessageTitle is decided inside the same transaction.
func (s *BadgerStore) AppendMessages(ctx context.Context, chatID string, msgs []datatypes.Message, opts AppendOptions) (*datatypes.ChatSession, error) {
	ctx, span := s.tracer.Start(ctx, "BadgerStore.AppendMessages",
		trace.WithAttributes(attribute.String("chat.id", chatID), attribute.Int("messages", len(msgs))))
	defer span.End()

	unlock := s.locks.Lock(chatID)
	defer unlock()

	var result *datatypes.ChatSession
	err := s.update(ctx, "append", func(txn *badger.Txn) error {
		chat, err := loadChat(txn, chatID)
		if err != nil {
			return err
		}
		prepared, err := prepareMessages(msgs, len(chat.Messages), s.now())
		if err != nil {
			return err
		}
		if opts.FirstMessageTitle != "" && len(chat.Messages) == 0 {
			chat.Title = opts.FirstMessageTitle
		}
		for _, m := range prepared {
			if err := putJSON(txn, msgKey(chatID, m.Ordinal), m); err != nil {
				return err
			}
		}
		chat.Messages = append(chat.Messages, prepared...)
		chat.UpdatedAt = latest(s.now(), prepared)

		h := &chatHeader{
			ID:           chat.ID,
			Title:        chat.Title,
			OwnerToken:   chat.OwnerToken,
			CreatedAt:    chat.CreatedAt,
			UpdatedAt:    chat.UpdatedAt,
			MessageCount: len(chat.Messages),
		}
		if err := putJSON(txn, chatKey(chatID), h); err != nil {
			return err
		}
		result = chat
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return result, nil
}

// DeleteChat implements ChatStore. The header, owner index entry and every
// message key are removed in one transaction.
func (s *BadgerStore) DeleteChat(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "BadgerStore.DeleteChat", trace.WithAttributes(attribute.String("chat.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.update(ctx, "delete", func(txn *badger.Txn) error {
		return deleteChatTxn(txn, id)
	})
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

// =============================================================================
// Maintenance
// =============================================================================

// ListAll implements Maintenance. The result comes from one snapshot.
func (s *BadgerStore) ListAll(ctx context.Context) ([]*datatypes.ChatSession, error) {
	var out []*datatypes.ChatSession
	err := s.view(ctx, "list_all", func(txn *badger.Txn) error {
		headers, err := scanHeaders(txn)
		if err != nil {
			return err
		}
		for _, h := range headers {
			chat, err := loadChat(txn, h.ID)
			if err != nil {
				return err
			}
			out = append(out, chat)
		}
		return nil
	})
	if err != nil {
		return nil, err
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
func (s *BadgerStore) Stats(ctx context.Context) (datatypes.StoreStats, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return datatypes.StoreStats{}, err
	}
	return computeStats(all), nil
}

// SearchMessages implements Maintenance.
func (s *BadgerStore) SearchMessages(ctx context.Context, query string, limit int) ([]datatypes.MessageHit, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return searchChats(all, query, limit), nil
}

// ImportChats implements Maintenance. Each chat replaces any existing chat
// with the same id in its own transaction.
func (s *BadgerStore) ImportChats(ctx context.Context, chats []*datatypes.ChatSession) (int, error) {
	for _, chat := range chats {
		if err := validateImport(chat); err != nil {
			return 0, err
		}
	}
	imported := 0
	for _, chat := range chats {
		if err := s.importOne(ctx, chat); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func (s *BadgerStore) importOne(ctx context.Context, chat *datatypes.ChatSession) error {
	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	return s.update(ctx, "import", func(txn *badger.Txn) error {
		if err := deleteChatTxn(txn, chat.ID); err != nil && !datatypes.IsNotFound(err) {
			return err
		}
		h := &chatHeader{
			ID:           chat.ID,
			Title:        chat.Title,
			OwnerToken:   chat.OwnerToken,
			CreatedAt:    chat.CreatedAt,
			UpdatedAt:    chat.UpdatedAt,
			MessageCount: len(chat.Messages),
		}
		if err := putJSON(txn, chatKey(chat.ID), h); err != nil {
			return err
		}
		if err := txn.Set(ownerKey(chat.OwnerToken, chat.ID), []byte(chat.ID)); err != nil {
			return err
		}
		for _, m := range chat.Messages {
			if err := putJSON(txn, msgKey(chat.ID, m.Ordinal), m); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteOlderThan implements Maintenance. Each stale chat is deleted in its
// own transaction; the count reflects chats actually removed.
func (s *BadgerStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []string
	err := s.view(ctx, "scan", func(txn *badger.Txn) error {
		headers, err := scanHeaders(txn)
		if err != nil {
			return err
		}
		for _, h := range headers {
			if h.UpdatedAt.Before(cutoff) {
				stale = append(stale, h.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range stale {
		if err := s.DeleteChat(ctx, id); err != nil {
			if datatypes.IsNotFound(err) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Verify implements Maintenance. Besides per-chat checks it reports
// orphaned message keys and header/message count mismatches.
func (s *BadgerStore) Verify(ctx context.Context) (datatypes.VerifyReport, error) {
	var report datatypes.VerifyReport
	err := s.view(ctx, "verify", func(txn *badger.Txn) error {
		headers, err := scanHeaders(txn)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(headers))
		for _, h := range headers {
			known[h.ID] = struct{}{}
			chat, err := loadChat(txn, h.ID)
			if err != nil {
				return err
			}
			if len(chat.Messages) != h.MessageCount {
				report.Problems = append(report.Problems,
					fmt.Sprintf("chat %s: header count %d, stored messages %d", h.ID, h.MessageCount, len(chat.Messages)))
			}
			report.Problems = verifyChat(chat, report.Problems)
		}
		report.ChatsChecked = len(headers)

		prefix := []byte(msgPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := key[len(msgPrefix):]
			if len(rest) < 11 {
				continue
			}
			id := rest[:len(rest)-11]
			if _, ok := known[id]; !ok {
				report.Problems = append(report.Problems, "orphaned message key "+key)
			}
		}
		return nil
	})
	return report, err
}

// =============================================================================
// Transaction helpers
// =============================================================================

// update runs fn in a read-write transaction, retrying optimistic
// conflicts, and wraps storage failures in *datatypes.PersistenceError.
func (s *BadgerStore) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.withTxn(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return classify(op, err)
}

func (s *BadgerStore) view(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	return classify(op, s.db.withReadTxn(ctx, fn))
}

// classify passes domain errors through and wraps everything else.
func classify(op string, err error) error {
	if err == nil || datatypes.IsNotFound(err) || datatypes.IsValidation(err) || datatypes.IsPersistence(err) {
		return err
	}
	return &datatypes.PersistenceError{Op: op, Err: err}
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func loadHeader(txn *badger.Txn, id string) (*chatHeader, error) {
	var h chatHeader
	if err := getJSON(txn, chatKey(id), &h); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, datatypes.NewChatNotFound(id)
		}
		return nil, err
	}
	return &h, nil
}

// loadChat reads the header and all messages of id in ordinal order.
func loadChat(txn *badger.Txn, id string) (*datatypes.ChatSession, error) {
	h, err := loadHeader(txn, id)
	if err != nil {
		return nil, err
	}
	chat := &datatypes.ChatSession{
		ID:         h.ID,
		Title:      h.Title,
		OwnerToken: h.OwnerToken,
		CreatedAt:  h.CreatedAt,
		UpdatedAt:  h.UpdatedAt,
		Messages:   make([]datatypes.Message, 0, h.MessageCount),
	}

	prefix := msgPrefixFor(id)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var m datatypes.Message
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
			return nil, err
		}
		chat.Messages = append(chat.Messages, m)
	}
	return chat, nil
}

func scanHeaders(txn *badger.Txn) ([]*chatHeader, error) {
	var headers []*chatHeader
	prefix := []byte(chatPrefix)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var h chatHeader
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &h) }); err != nil {
			return nil, err
		}
		headers = append(headers, &h)
	}
	return headers, nil
}

// deleteChatTxn removes header, owner index and messages of id within txn.
func deleteChatTxn(txn *badger.Txn, id string) error {
	h, err := loadHeader(txn, id)
	if err != nil {
		return err
	}

	var keys [][]byte
	prefix := msgPrefixFor(id)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	keys = append(keys, chatKey(id), ownerKey(h.OwnerToken, id))
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func recordSpanError(span trace.Span, err error) {
	if datatypes.IsNotFound(err) || datatypes.IsValidation(err) {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
