// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the language model boundary: one prompt in, one text
// completion out. Backends are OpenAI chat completions and a local Ollama
// server reached through langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// DefaultGenerationParams returns the answer-composition defaults.
func DefaultGenerationParams() GenerationParams {
	temp := float32(0.3)
	maxTokens := 500
	return GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}

// Role identifies the author of a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message handed to the model as conversation history.
type Turn struct {
	Role    Role
	Content string
}

// CompletionRequest is everything a backend needs for one call.
type CompletionRequest struct {
	System  string
	History []Turn
	Prompt  string
	Params  GenerationParams
}

// Completer defines the standard interface for any LLM backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Backend names accepted by New.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	OpenAI  OpenAIConfig
	Ollama  OllamaConfig
}

// New builds the Completer for cfg.Backend.
func New(cfg Config) (Completer, error) {
	switch cfg.Backend {
	case "", BackendOpenAI:
		return NewOpenAIClient(cfg.OpenAI)
	case BackendOllama:
		return NewOllamaClient(cfg.Ollama)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
