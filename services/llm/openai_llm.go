// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("truthwindow.llm")

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey  *memguard.Enclave
	Model   string
	BaseURL string // empty uses api.openai.com
}

type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ Completer = (*OpenAIClient)(nil)

// NewOpenAIAPI builds the raw go-openai client. The key leaves its enclave
// only for the duration of this call. Shared with the embedder.
func NewOpenAIAPI(apiKey *memguard.Enclave, baseURL string) (*openai.Client, error) {
	var client *openai.Client
	err := withAPIKey(apiKey, func(key string) error {
		cfg := openai.DefaultConfig(key)
		if baseURL != "" {
			cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
		}
		client = openai.NewClientWithConfig(cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	client, err := NewOpenAIAPI(cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("OpenAI model not set, defaulting", "model", model)
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{client: client, model: model}, nil
}

// Complete implements the Completer interface.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.history_turns", len(req.History)),
	)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	params := req.Params
	if params.Temperature != nil {
		chatReq.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		chatReq.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		chatReq.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		chatReq.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "openai call failed")
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		span.SetStatus(codes.Error, "empty completion")
		return "", ErrEmptyCompletion
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	span.SetAttributes(attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}
