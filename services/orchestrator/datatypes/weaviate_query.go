// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Weaviate returns Get results as map[string]models.JSONObject. This helper
// round-trips the Data field through JSON into a typed struct whose json
// tags mirror the query shape. GraphQL-level errors reported in resp.Errors
// are returned as an error rather than silently producing an empty result.
//
// # Inputs
//
//   - resp: The GraphQL response from the client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if resp is nil, carries GraphQL errors, or does not parse.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName(ArchivePassageClass).Do(ctx)
//	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
//	for _, p := range parsed.Get.ArchivePassage { ... }
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// =============================================================================
// Archive passage response
// =============================================================================

// PassageQueryResponse is the shape of a nearVector Get on ArchivePassage.
type PassageQueryResponse struct {
	Get struct {
		ArchivePassage []PassageResult `json:"ArchivePassage"`
	} `json:"Get"`
}

// PassageResult is one ArchivePassage object with its search metadata.
type PassageResult struct {
	Content    string `json:"content"`
	Title      string `json:"title"`
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id"`
	Page       *int   `json:"page"`
	Year       string `json:"year"`
	URL        string `json:"url"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// ToPassage converts the result into the domain Passage. Score is
// 1 - cosine distance; a missing distance scores 0.
func (r PassageResult) ToPassage() Passage {
	p := Passage{
		Text:       r.Content,
		DocumentID: r.DocumentID,
		Title:      r.Title,
		SourceID:   r.SourceID,
		Year:       r.Year,
		URL:        r.URL,
	}
	if p.DocumentID == "" {
		p.DocumentID = r.Additional.ID
	}
	if r.Page != nil {
		p.Page = fmt.Sprintf("%d", *r.Page)
	}
	if r.Additional.Distance != nil {
		p.Score = 1 - *r.Additional.Distance
	}
	return p
}
