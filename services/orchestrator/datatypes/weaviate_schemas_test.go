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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestGetArchivePassageSchema_ReturnsValidClass(t *testing.T) {
	schema := GetArchivePassageSchema()

	require.NotNil(t, schema)
	assert.Equal(t, ArchivePassageClass, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)
}

func TestGetArchivePassageSchema_PropertyDataTypes(t *testing.T) {
	schema := GetArchivePassageSchema()

	want := map[string]string{
		"content":     "text",
		"title":       "text",
		"source_id":   "text",
		"document_id": "text",
		"page":        "int",
		"year":        "text",
		"url":         "text",
	}

	require.Len(t, schema.Properties, len(want))
	for _, prop := range schema.Properties {
		dt, ok := want[prop.Name]
		require.True(t, ok, "unexpected property %s", prop.Name)
		assert.Equal(t, []string{dt}, prop.DataType, "property %s", prop.Name)
	}
}

func TestParseGraphQLResponse_Passages(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"ArchivePassage": []interface{}{
					map[string]interface{}{
						"content":   "La Comisión de la Verdad...",
						"title":     "Hay futuro si hay verdad",
						"source_id": "Tomo 1",
						"page":      12,
						"_additional": map[string]interface{}{
							"id":       "a1",
							"distance": 0.1,
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[PassageQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.ArchivePassage, 1)

	p := parsed.Get.ArchivePassage[0].ToPassage()
	assert.Equal(t, "Tomo 1", p.SourceID)
	assert.Equal(t, "12", p.Page)
	assert.InDelta(t, 0.9, p.Score, 1e-9)
}

func TestParseGraphQLResponse_Errors(t *testing.T) {
	_, err := ParseGraphQLResponse[PassageQueryResponse](nil)
	assert.Error(t, err)

	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}
	_, err = ParseGraphQLResponse[PassageQueryResponse](resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}
