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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ArchivePassageClass is the Weaviate class holding the indexed archive.
const ArchivePassageClass = "ArchivePassage"

// GetArchivePassageSchema returns the class definition for archive passages.
//
// Vectors are supplied by the offline indexer (vectorizer "none") using the
// same embedding model the retriever queries with. Distance is cosine.
func GetArchivePassageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ArchivePassageClass,
		Description: "A chunk of the archive with its bibliographic provenance.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The passage text.",
				Tokenization: "word",
			},
			{
				Name:            "title",
				DataType:        []string{"text"},
				Description:     "Title of the source volume or chapter.",
				IndexFilterable: indexFilterable,
				Tokenization:    "word",
			},
			{
				Name:            "source_id",
				DataType:        []string{"text"},
				Description:     "Volume identifier, e.g. 'Tomo 4'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the originating document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "page",
				DataType:        []string{"int"},
				Description:     "Page number within the source.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "year",
				DataType:        []string{"text"},
				Description:     "Publication year.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "url",
				DataType:     []string{"text"},
				Description:  "Public link to the source, when one exists.",
				Tokenization: "field",
			},
		},
	}
}

// EnsureWeaviateSchema creates the archive passage class if it is missing.
//
// # Description
//
// Existing classes are left untouched; property drift is reported by the
// validate command, not repaired here.
//
// # Inputs
//
//   - ctx: Context for the schema calls.
//   - client: Connected Weaviate client.
//   - logger: Destination for progress messages.
//
// # Outputs
//
//   - error: Non-nil if the class is absent and cannot be created.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client, logger *slog.Logger) error {
	class := GetArchivePassageSchema()

	exists, err := client.Schema().ClassExistenceChecker().WithClassName(class.Class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check schema for class %s: %w", class.Class, err)
	}
	if exists {
		logger.Info("schema already exists", "class", class.Class)
		return nil
	}

	logger.Info("schema not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	logger.Info("created schema", "class", class.Class)
	return nil
}
