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
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// NewWeaviateClient parses rawURL and builds a client for it.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}

// WeaviateSearcher runs nearVector queries against the ArchivePassage class.
type WeaviateSearcher struct {
	client *weaviate.Client
}

var _ Searcher = (*WeaviateSearcher)(nil)

func NewWeaviateSearcher(client *weaviate.Client) *WeaviateSearcher {
	return &WeaviateSearcher{client: client}
}

var passageFields = []graphql.Field{
	{Name: "content"},
	{Name: "title"},
	{Name: "source_id"},
	{Name: "document_id"},
	{Name: "page"},
	{Name: "year"},
	{Name: "url"},
	{Name: "_additional { id distance }"},
}

// Search implements Searcher.
func (w *WeaviateSearcher) Search(ctx context.Context, vector []float32, limit int) ([]datatypes.Passage, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.ArchivePassageClass).
		WithFields(passageFields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("nearVector query: %w", err)
	}

	// A GraphQL error means the query itself is wrong for this index, for
	// example a missing class. Retrying will not change that.
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, permanent(err)
	}

	passages := make([]datatypes.Passage, 0, len(parsed.Get.ArchivePassage))
	for _, r := range parsed.Get.ArchivePassage {
		passages = append(passages, r.ToPassage())
	}
	return passages, nil
}

// Ready reports whether Weaviate answers its readiness probe.
func (w *WeaviateSearcher) Ready(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness: %w", err)
	}
	if !ready {
		return errors.New("weaviate is not ready")
	}
	return nil
}
