// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel matches the model the archive was indexed with.
	DefaultEmbeddingModel = "text-embedding-3-large"

	// DefaultEmbeddingDimensions is the vector width of the archive index.
	DefaultEmbeddingDimensions = 3072

	emptyQueryPlaceholder = "Empty query"
)

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder wraps client. Empty model and non-positive dimensions
// fall back to the archive defaults.
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions int) *OpenAIEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions}
}

// Dimensions returns the configured vector width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{prepareEmbeddingInput(text)},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding response contained no vectors")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dimensions {
		return nil, permanent(fmt.Errorf("embedding has %d dimensions, index expects %d", len(vec), e.dimensions))
	}
	return vec, nil
}

// prepareEmbeddingInput collapses newlines, which degrade embedding quality,
// and substitutes a placeholder for empty input since the API rejects it.
func prepareEmbeddingInput(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	if strings.TrimSpace(text) == "" {
		return emptyQueryPlaceholder
	}
	return text
}

// classifyOpenAIError marks client-side API failures as permanent. Rate
// limits and server errors stay retryable.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return permanent(fmt.Errorf("openai embeddings: %w", err))
		}
	}
	return fmt.Errorf("openai embeddings: %w", err)
}
