// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Coordinating the store, the retriever and the composer for one turn
//   - Applying business rules and validation
//   - Mapping collaborator failures onto the domain error taxonomy
//
// Dependencies are injected via constructors and every method accepts a
// context for cancellation and tracing.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/truthwindow/services/orchestrator/composer"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/observability"
	"github.com/AleutianAI/truthwindow/services/orchestrator/retrieval"
	"github.com/AleutianAI/truthwindow/services/orchestrator/storage"
)

var conversationTracer = otel.Tracer("truthwindow.services.conversation")

// MaxTitleLength is the rune length at which a first question is cut when
// it becomes the chat title. A cut title is MaxTitleLength runes plus the
// ellipsis.
const MaxTitleLength = 40

const titleEllipsis = "..."

// =============================================================================
// Turn state machine
// =============================================================================

// TurnState is a step of one question/answer turn.
type TurnState string

const (
	StateReceived   TurnState = "RECEIVED"
	StateRetrieving TurnState = "RETRIEVING"
	StateComposing  TurnState = "COMPOSING"
	StatePersisting TurnState = "PERSISTING"
	StateDone       TurnState = "DONE"
	StateErrored    TurnState = "ERRORED"
)

// nextState is the only forward edge out of each state. ERRORED is
// reachable from every state except DONE and is checked separately.
var nextState = map[TurnState]TurnState{
	StateReceived:   StateRetrieving,
	StateRetrieving: StateComposing,
	StateComposing:  StatePersisting,
	StatePersisting: StateDone,
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to TurnState) bool {
	if to == StateErrored {
		return from != StateDone && from != StateErrored
	}
	return nextState[from] == to
}

// turn tracks one PostMessage call through the state machine and records
// every transition as a log line, a metric and a span event.
type turn struct {
	chatID  string
	state   TurnState
	started time.Time
	span    trace.Span
	logger  *slog.Logger
	metrics *observability.Metrics
}

func (t *turn) advance(to TurnState) {
	from := t.state
	if !canTransition(from, to) {
		// Unreachable unless PostMessage is edited incorrectly.
		t.logger.Error("illegal turn transition", "chat_id", t.chatID, "from", from, "to", to)
		return
	}
	t.state = to
	t.metrics.RecordTransition(string(from), string(to))
	t.span.AddEvent("turn_state", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	t.logger.Debug("turn transition", "chat_id", t.chatID, "from", from, "to", to)
}

// fail moves the turn to ERRORED and returns err unchanged.
func (t *turn) fail(err error) error {
	failedIn := t.state
	t.advance(StateErrored)
	outcome := outcomeFor(err)
	t.metrics.RecordTurn(outcome, time.Since(t.started))
	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, string(outcome))

	level := slog.LevelError
	if outcome == observability.OutcomeValidation || outcome == observability.OutcomeNotFound {
		level = slog.LevelInfo
	}
	t.logger.Log(context.Background(), level, "turn failed",
		"chat_id", t.chatID, "state", failedIn, "outcome", outcome, "error", err)
	return err
}

func outcomeFor(err error) observability.Outcome {
	var (
		retrieval *datatypes.RetrievalUnavailableError
		timeout   *datatypes.CompositionTimeoutError
		upstream  *datatypes.CompositionUpstreamError
	)
	switch {
	case datatypes.IsValidation(err):
		return observability.OutcomeValidation
	case datatypes.IsNotFound(err):
		return observability.OutcomeNotFound
	case errors.As(err, &retrieval):
		return observability.OutcomeRetrievalUnavailable
	case errors.As(err, &timeout):
		return observability.OutcomeCompositionTimeout
	case errors.As(err, &upstream):
		return observability.OutcomeCompositionUpstream
	case datatypes.IsPersistence(err):
		return observability.OutcomePersistence
	default:
		return observability.OutcomeInternal
	}
}

// =============================================================================
// Service
// =============================================================================

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	// Chat is the chat after the append, including the new title when the
	// question was the first message.
	Chat *datatypes.ChatSession

	// Message is the persisted bot message.
	Message datatypes.Message
}

// ConversationService runs one question through retrieval, composition and
// persistence.
//
// # Description
//
// A turn moves RECEIVED -> RETRIEVING -> COMPOSING -> PERSISTING -> DONE,
// or to ERRORED from any state before DONE. Nothing is written to the
// store unless the turn reaches PERSISTING, and both messages are appended
// in one atomic store call.
//
// Once COMPOSING begins the turn is detached from the caller's context: a
// client that disconnects mid-answer does not abort the model call or the
// persist, so a completed answer is never lost.
//
// # Thread Safety
//
// Safe for concurrent use. Turns on the same chat may interleave their
// retrieval and composition; the store serializes their appends so each
// pair of messages stays adjacent.
type ConversationService struct {
	store     storage.ChatStore
	retriever retrieval.Retriever
	composer  composer.Composer
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewConversationService wires a ConversationService. A nil metrics uses
// unregistered collectors; a nil logger uses slog.Default().
func NewConversationService(
	store storage.ChatStore,
	retriever retrieval.Retriever,
	comp composer.Composer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *ConversationService {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		store:     store,
		retriever: retriever,
		composer:  comp,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// PostMessage answers question in the chat identified by chatID.
//
// # Inputs
//
//   - ctx: Request context. Honoured until composition starts.
//   - chatID: Existing chat id.
//   - question: Raw question text; surrounding whitespace is trimmed.
//
// # Outputs
//
//   - *TurnResult: The persisted bot message and the updated chat.
//   - error: *datatypes.ValidationError, *datatypes.NotFoundError,
//     *datatypes.RetrievalUnavailableError, *datatypes.CompositionTimeoutError,
//     *datatypes.CompositionUpstreamError or *datatypes.PersistenceError.
func (s *ConversationService) PostMessage(ctx context.Context, chatID, question string) (*TurnResult, error) {
	ctx, span := conversationTracer.Start(ctx, "ConversationService.PostMessage",
		trace.WithAttributes(attribute.String("chat.id", chatID)))
	defer span.End()

	t := &turn{
		chatID:  chatID,
		state:   StateReceived,
		started: time.Now(),
		span:    span,
		logger:  s.logger,
		metrics: s.metrics,
	}

	// RECEIVED
	q := strings.TrimSpace(question)
	req := datatypes.PostMessageRequest{Question: q}
	if err := req.Validate(); err != nil {
		return nil, t.fail(err)
	}
	chat, err := s.store.GetChat(ctx, chatID)
	s.metrics.RecordStoreOp("get", ignoreNotFound(err))
	if err != nil {
		return nil, t.fail(err)
	}

	// RETRIEVING
	t.advance(StateRetrieving)
	retrieveStart := time.Now()
	passages, err := s.retriever.Retrieve(ctx, q)
	s.metrics.RecordRetrieval(time.Since(retrieveStart))
	if err != nil {
		var unavailable *datatypes.RetrievalUnavailableError
		if !errors.As(err, &unavailable) {
			err = &datatypes.RetrievalUnavailableError{Attempts: 1, Err: err}
		}
		return nil, t.fail(err)
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))

	// COMPOSING
	t.advance(StateComposing)
	detached := context.WithoutCancel(ctx)
	composeStart := time.Now()
	answer, err := s.composer.Compose(detached, q, chat.Messages, passages)
	if err != nil {
		s.metrics.RecordComposition(time.Since(composeStart), 0, 0)
		if !datatypes.IsRetryable(err) {
			err = &datatypes.CompositionUpstreamError{Err: err}
		}
		return nil, t.fail(err)
	}
	s.metrics.RecordComposition(time.Since(composeStart), answer.DroppedCitations, answer.Redactions)

	// PERSISTING
	t.advance(StatePersisting)
	now := s.now()
	msgs := []datatypes.Message{
		{Content: q, IsBot: false, Timestamp: now},
		{Content: answer.Content, IsBot: true, Timestamp: now, References: answer.References},
	}
	updated, err := s.store.AppendMessages(detached, chatID, msgs, storage.AppendOptions{
		FirstMessageTitle: TitleFromQuestion(q),
	})
	s.metrics.RecordStoreOp("append", ignoreNotFound(err))
	if err != nil {
		if !datatypes.IsNotFound(err) && !datatypes.IsPersistence(err) && !datatypes.IsValidation(err) {
			err = &datatypes.PersistenceError{Op: "append", Err: err}
		}
		return nil, t.fail(err)
	}

	// DONE
	t.advance(StateDone)
	bot := updated.Messages[len(updated.Messages)-1]
	s.metrics.RecordTurn(observability.OutcomeDone, time.Since(t.started))
	span.SetAttributes(
		attribute.Int("message.ordinal", bot.Ordinal),
		attribute.Int("references", len(bot.References)),
	)
	s.logger.Info("turn completed",
		"chat_id", chatID,
		"ordinal", bot.Ordinal,
		"passages", len(passages),
		"references", len(bot.References),
		"duration", time.Since(t.started))

	return &TurnResult{Chat: updated, Message: bot}, nil
}

// TitleFromQuestion derives a chat title from the first question: trimmed,
// whitespace collapsed, cut to MaxTitleLength runes with an ellipsis.
func TitleFromQuestion(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if utf8.RuneCountInString(q) <= MaxTitleLength {
		return q
	}
	runes := []rune(q)
	return strings.TrimRight(string(runes[:MaxTitleLength]), " ") + titleEllipsis
}

// ignoreNotFound keeps a missing chat out of the store error metric.
func ignoreNotFound(err error) error {
	if datatypes.IsNotFound(err) {
		return nil
	}
	return err
}

// String implements fmt.Stringer.
func (s TurnState) String() string { return string(s) }
