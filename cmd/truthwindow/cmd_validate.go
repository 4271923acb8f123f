// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/truthwindow/services/llm"
	"github.com/AleutianAI/truthwindow/services/orchestrator"
	"github.com/AleutianAI/truthwindow/services/orchestrator/retrieval"
)

const validateTimeout = 20 * time.Second

// errSkipped marks a check that does not apply to the configuration.
var errSkipped = errors.New("skipped")

type check struct {
	name string
	run  func(ctx context.Context) error
}

type checkResult struct {
	name string
	err  error
}

// validationChecks returns the probes for the loaded configuration.
func validationChecks(sc orchestrator.Config) []check {
	return []check{
		{name: "session store", run: func(ctx context.Context) error {
			store, err := orchestrator.OpenStore(sc, logger.Slog())
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Ping(ctx)
		}},
		{name: "weaviate", run: func(ctx context.Context) error {
			if sc.WeaviateURL == "" {
				return fmt.Errorf("%w: no weaviate_url, every question will fail", errSkipped)
			}
			client, err := retrieval.NewWeaviateClient(sc.WeaviateURL)
			if err != nil {
				return err
			}
			return retrieval.NewWeaviateSearcher(client).Ready(ctx)
		}},
		{name: "embeddings", run: func(ctx context.Context) error {
			if sc.WeaviateURL == "" {
				return errSkipped
			}
			key, err := llm.LoadAPIKey("OPENAI_API_KEY", keyFile(sc))
			if err != nil {
				return err
			}
			api, err := llm.NewOpenAIAPI(key, sc.OpenAIBaseURL)
			if err != nil {
				return err
			}
			embedder := retrieval.NewOpenAIEmbedder(api, sc.EmbeddingModel, sc.EmbeddingDimensions)
			_, err = embedder.Embed(ctx, "Comisión de la Verdad")
			return err
		}},
		{name: "llm credentials", run: func(context.Context) error {
			if sc.LLMBackend != llm.BackendOpenAI && sc.LLMBackend != "" {
				return errSkipped
			}
			_, err := llm.LoadAPIKey("OPENAI_API_KEY", keyFile(sc))
			return err
		}},
	}
}

func keyFile(sc orchestrator.Config) string {
	if sc.OpenAIKeyFile != "" {
		return sc.OpenAIKeyFile
	}
	return llm.DefaultOpenAIKeySecret
}

// runChecks runs every check concurrently. One failing check never cancels
// the others.
func runChecks(ctx context.Context, checks []check) []checkResult {
	results := make([]checkResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = checkResult{name: c.name, err: c.run(ctx)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), validateTimeout)
	defer cancel()

	results := runChecks(ctx, validationChecks(cfg.Server))

	failed := 0
	styles := newStatusStyles(cmd.OutOrStdout())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, r := range results {
		switch {
		case r.err == nil:
			fmt.Fprintf(w, "%s\t%s\n", r.name, styles.ok.Render("ok"))
		case errors.Is(r.err, errSkipped):
			fmt.Fprintf(w, "%s\t%s\n", r.name, styles.warn.Render(r.err.Error()))
		default:
			failed++
			fmt.Fprintf(w, "%s\t%s\n", r.name, styles.fail.Render("FAILED: "+r.err.Error()))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}
	return nil
}
