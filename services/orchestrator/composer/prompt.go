// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package composer

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/truthwindow/services/llm"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// systemPrompt sets persona, citation format and sensitivity rules.
const systemPrompt = `You are 'Window to Truth', an academic researcher specialized in the Colombian armed conflict and the final report of the Truth Commission. Answer CONCRETELY, SPECIFICALLY and CONCISELY, based EXCLUSIVELY on the numbered documents provided.

1. FORMAT:
   - Start with a clear, direct answer to the question.
   - Present specific data, figures and documented facts.
   - Keep the answer brief and focused.

2. CITATIONS:
   - Cite every claim inline with the number of the document it comes from, like [1] or [2, 3].
   - Only use the numbers of the documents provided. Never invent a number.
   - Do NOT add a "Sources" or "References" section at the end; references are attached automatically.

3. ETHICAL STANDARDS:
   - DO NOT reveal names of victims or specific locations that could endanger individuals.
   - Do not include contact details or identity document numbers.
   - Use precise, objective and neutral language.
   - If the documents do not contain the answer, say which information is missing instead of guessing.

Answer in the language of the question.`

const noContextNotice = "No relevant information was found for this question in the archive."

const untitledDocument = "Untitled document"

// buildContext renders passages as numbered documents. The number of each
// passage is its 1-based position, which is what citation markers refer to.
func buildContext(passages []datatypes.Passage) string {
	pieces := make([]string, 0, len(passages))
	for i, p := range passages {
		var b strings.Builder
		fmt.Fprintf(&b, "[%d]\n", i+1)
		title := p.Title
		if title == "" {
			title = untitledDocument
		}
		fmt.Fprintf(&b, "Title: %s\n", title)
		if p.SourceID != "" {
			fmt.Fprintf(&b, "Source: %s\n", p.SourceID)
		}
		if p.Page != "" {
			fmt.Fprintf(&b, "Page: %s\n", p.Page)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.Text))
		pieces = append(pieces, b.String())
	}
	if len(pieces) == 0 {
		return noContextNotice
	}
	return strings.Join(pieces, "\n\n---\n\n")
}

// buildPrompt wraps the rendered context and the question into the user
// message sent to the model.
func buildPrompt(question, context string) string {
	return fmt.Sprintf(`Documents from the Colombian Truth Commission archive:

%s

Question: %s

Answer using only the documents above and cite them by number.`, context, question)
}

// historyWindow selects the prior turns sent to the model: at most maxTurns
// of the most recent messages, then oldest dropped until the total content
// length fits charBudget.
func historyWindow(history []datatypes.Message, maxTurns, charBudget int) []llm.Turn {
	if maxTurns <= 0 || len(history) == 0 {
		return nil
	}
	start := len(history) - maxTurns
	if start < 0 {
		start = 0
	}
	window := history[start:]

	total := 0
	for _, m := range window {
		total += len(m.Content)
	}
	for len(window) > 0 && total > charBudget {
		total -= len(window[0].Content)
		window = window[1:]
	}

	turns := make([]llm.Turn, 0, len(window))
	for _, m := range window {
		role := llm.RoleUser
		if m.IsBot {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}
	return turns
}
