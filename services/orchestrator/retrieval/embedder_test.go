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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = server.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func embeddingHandler(t *testing.T, dims int, gotInput *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if gotInput != nil && len(req.Input) > 0 {
			*gotInput = req.Input[0]
		}
		assert.Equal(t, DefaultEmbeddingModel, req.Model)

		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = 0.01
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
		})
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	var input string
	client := newTestOpenAIClient(t, embeddingHandler(t, 8, &input))
	emb := NewOpenAIEmbedder(client, "", 8)

	vec, err := emb.Embed(context.Background(), "línea uno\nlínea dos")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, "línea uno línea dos", input)
}

func TestOpenAIEmbedder_EmptyInputPlaceholder(t *testing.T) {
	var input string
	client := newTestOpenAIClient(t, embeddingHandler(t, 4, &input))
	emb := NewOpenAIEmbedder(client, "", 4)

	_, err := emb.Embed(context.Background(), "  \n ")
	require.NoError(t, err)
	assert.Equal(t, emptyQueryPlaceholder, input)
}

func TestOpenAIEmbedder_DimensionMismatchIsPermanent(t *testing.T) {
	client := newTestOpenAIClient(t, embeddingHandler(t, 4, nil))
	emb := NewOpenAIEmbedder(client, "", 8)

	_, err := emb.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errPermanent))
}

func TestOpenAIEmbedder_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"unauthorized", http.StatusUnauthorized, true},
		{"bad request", http.StatusBadRequest, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			})
			emb := NewOpenAIEmbedder(client, "", 4)

			_, err := emb.Embed(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, errPermanent))
		})
	}
}

func TestPrepareEmbeddingInput(t *testing.T) {
	assert.Equal(t, "a b", prepareEmbeddingInput("a\r\nb"))
	assert.Equal(t, emptyQueryPlaceholder, prepareEmbeddingInput(""))
	assert.Equal(t, "plain", prepareEmbeddingInput("plain"))
}
