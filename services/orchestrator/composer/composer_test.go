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
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/truthwindow/services/llm"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/policy_engine"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCompleter struct {
	reply string
	err   error
	delay time.Duration

	mu       sync.Mutex
	requests []llm.CompletionRequest

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) lastRequest() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func passages(n int) []datatypes.Passage {
	out := make([]datatypes.Passage, n)
	for i := range out {
		out[i] = datatypes.Passage{
			Text:       "Pasaje " + string(rune('A'+i)),
			DocumentID: "doc-" + string(rune('a'+i)),
			Title:      "Documento " + string(rune('A'+i)),
			SourceID:   "informe-final",
			Page:       "1" + string(rune('0'+i)),
			Score:      1 - float64(i)/10,
		}
	}
	return out
}

func newTestService(c llm.Completer, cfg Config) *Service {
	return NewService(c, nil, cfg, nil)
}

// =============================================================================
// Compose
// =============================================================================

func TestCompose_DropsAndRenumbersDanglingCitations(t *testing.T) {
	c := &fakeCompleter{reply: "Primero [1]. Luego [3]. Finalmente [2]."}
	svc := newTestService(c, Config{})

	answer, err := svc.Compose(context.Background(), "q", nil, passages(2))
	require.NoError(t, err)

	assert.Equal(t, "Primero [1]. Luego. Finalmente [2].", answer.Content)
	require.Len(t, answer.References, 2)
	assert.Equal(t, 1, answer.References[0].Number)
	assert.Equal(t, "Documento A", answer.References[0].Title)
	assert.Equal(t, 2, answer.References[1].Number)
	assert.Equal(t, "Documento B", answer.References[1].Title)
	assert.Equal(t, 1, answer.DroppedCitations)
}

func TestCompose_RenumbersInFirstUseOrder(t *testing.T) {
	c := &fakeCompleter{reply: "Según [3], y también [1]; de nuevo [3]."}
	svc := newTestService(c, Config{})

	answer, err := svc.Compose(context.Background(), "q", nil, passages(3))
	require.NoError(t, err)

	assert.Equal(t, "Según [1], y también [2]; de nuevo [1].", answer.Content)
	require.Len(t, answer.References, 2)
	assert.Equal(t, "Documento C", answer.References[0].Title)
	assert.Equal(t, "Documento A", answer.References[1].Title)
}

func TestCompose_StripsSourcesSection(t *testing.T) {
	c := &fakeCompleter{reply: "La respuesta [1].\n\n**Fuentes:**\n[1] Documento A, p. 10\n[2] Documento B"}
	svc := newTestService(c, Config{})

	answer, err := svc.Compose(context.Background(), "q", nil, passages(2))
	require.NoError(t, err)
	assert.Equal(t, "La respuesta [1].", answer.Content)
	assert.Len(t, answer.References, 1)
}

func TestCompose_NoCitationsMeansNoReferences(t *testing.T) {
	c := &fakeCompleter{reply: "No hay información suficiente en los documentos."}
	svc := newTestService(c, Config{})

	answer, err := svc.Compose(context.Background(), "q", nil, passages(3))
	require.NoError(t, err)
	assert.Empty(t, answer.References)
	assert.NotNil(t, answer.References)
}

func TestCompose_ReferenceMetadataDefaults(t *testing.T) {
	c := &fakeCompleter{reply: "Dato [1] y [2]."}
	svc := newTestService(c, Config{})
	ps := []datatypes.Passage{
		{Text: "x", SourceID: "", Title: ""},
		{Text: "y", SourceID: "cap-3", Title: "Tomo 5: Sufrir la guerra", Year: "2023", URL: "https://example.org/t5"},
	}

	answer, err := svc.Compose(context.Background(), "q", nil, ps)
	require.NoError(t, err)
	require.Len(t, answer.References, 2)

	first := answer.References[0]
	assert.Equal(t, untitledDocument, first.Title)
	assert.Equal(t, DefaultYear, first.Year)
	assert.Equal(t, DefaultPublisher, first.Publisher)

	second := answer.References[1]
	assert.Equal(t, "Tomo 5: Sufrir la guerra", second.SourceID)
	assert.Equal(t, "2023", second.Year)
	assert.Equal(t, "https://example.org/t5", second.URL)
}

func TestCompose_Timeout(t *testing.T) {
	c := &fakeCompleter{reply: "late", delay: time.Second}
	svc := newTestService(c, Config{Timeout: 20 * time.Millisecond})

	_, err := svc.Compose(context.Background(), "q", nil, passages(1))
	var timeout *datatypes.CompositionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.True(t, datatypes.IsRetryable(err))
}

func TestCompose_UpstreamError(t *testing.T) {
	c := &fakeCompleter{err: errors.New("502 bad gateway")}
	svc := newTestService(c, Config{})

	_, err := svc.Compose(context.Background(), "q", nil, passages(1))
	var upstream *datatypes.CompositionUpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, err.Error(), "502")
}

func TestCompose_EmptyAfterStripIsUpstreamError(t *testing.T) {
	c := &fakeCompleter{reply: "References\n[1] Documento A"}
	svc := newTestService(c, Config{})

	_, err := svc.Compose(context.Background(), "q", nil, passages(1))
	var upstream *datatypes.CompositionUpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}

func TestCompose_BoundsConcurrentModelCalls(t *testing.T) {
	c := &fakeCompleter{reply: "ok", delay: 20 * time.Millisecond}
	svc := newTestService(c, Config{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Compose(context.Background(), "q", nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.maxInFlight.Load(), int32(2))
}

func TestCompose_PromptCarriesPassagesAndHistory(t *testing.T) {
	c := &fakeCompleter{reply: "ok"}
	svc := newTestService(c, Config{})
	history := []datatypes.Message{
		{Ordinal: 0, Content: "¿Qué es la Comisión?"},
		{Ordinal: 1, Content: "Es una entidad [1].", IsBot: true},
	}

	_, err := svc.Compose(context.Background(), "¿Y el informe?", history, passages(2))
	require.NoError(t, err)

	req := c.lastRequest()
	assert.Contains(t, req.System, "Window to Truth")
	assert.Contains(t, req.Prompt, "[1]\nTitle: Documento A\nSource: informe-final\nPage: 10")
	assert.Contains(t, req.Prompt, "[2]\nTitle: Documento B")
	assert.Contains(t, req.Prompt, "\n\n---\n\n")
	assert.Contains(t, req.Prompt, "Question: ¿Y el informe?")
	require.Len(t, req.History, 2)
	assert.Equal(t, llm.RoleUser, req.History[0].Role)
	assert.Equal(t, llm.RoleAssistant, req.History[1].Role)
	require.NotNil(t, req.Params.Temperature)
	assert.InDelta(t, 0.3, *req.Params.Temperature, 1e-6)
}

func TestCompose_NoPassagesUsesNotice(t *testing.T) {
	c := &fakeCompleter{reply: "No encontré información [1]."}
	svc := newTestService(c, Config{})

	answer, err := svc.Compose(context.Background(), "q", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, c.lastRequest().Prompt, noContextNotice)
	assert.Equal(t, "No encontré información.", answer.Content)
	assert.Empty(t, answer.References)
}

func TestCompose_RedactsSensitiveContent(t *testing.T) {
	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)

	c := &fakeCompleter{reply: "El contacto fue testigo@example.org [1]."}
	svc := NewService(c, engine, Config{}, nil)

	answer, err := svc.Compose(context.Background(), "q", nil, passages(1))
	require.NoError(t, err)
	assert.NotContains(t, answer.Content, "testigo@example.org")
	assert.Contains(t, answer.Content, policy_engine.RedactionMarker)
	assert.Contains(t, answer.Content, "[1]")
	assert.Equal(t, 1, answer.Redactions)
}

// =============================================================================
// Citation rewriting
// =============================================================================

func TestRewriteCitations(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		k       int
		want    string
		order   []int
		dropped int
	}{
		{"single", "a [1]", 3, "a [1]", []int{0}, 0},
		{"group", "a [1, 3]", 3, "a [1, 2]", []int{0, 2}, 0},
		{"group no spaces", "a [2,1]", 3, "a [1, 2]", []int{1, 0}, 0},
		{"group with dangling", "a [1, 9, 2].", 2, "a [1, 2].", []int{0, 1}, 1},
		{"duplicate in group", "a [2, 2]", 2, "a [1]", []int{1}, 0},
		{"zero is invalid", "a [0] b", 2, "a b", nil, 1},
		{"all dangling", "Texto [4].", 3, "Texto.", nil, 1},
		{"adjacent", "x [2][1]", 2, "x [1][2]", []int{1, 0}, 0},
		{"no markers", "sin citas", 2, "sin citas", nil, 0},
		{"not a marker", "lista [a] y [1-2]", 2, "lista [a] y [1-2]", nil, 0},
		{"keeps newlines", "uno [5]\n\ndos [1]", 1, "uno\n\ndos [1]", []int{0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rewriteCitations(tt.text, tt.k)
			assert.Equal(t, tt.want, got.Text)
			assert.Equal(t, tt.order, got.Order)
			assert.Len(t, got.Dropped, tt.dropped)
		})
	}
}

// TestRewriteCitations_ContiguousProperty checks that every marker left in
// the text resolves and that the numbers used are exactly 1..m.
func TestRewriteCitations_ContiguousProperty(t *testing.T) {
	inputs := []string{
		"[5] [3] [9] [3] [1]",
		"[2, 7] texto [4] [1,1] [6]",
		"[10] [1] [2] [3]",
	}
	for _, in := range inputs {
		res := rewriteCitations(in, 5)
		seen := map[int]bool{}
		for _, m := range citationPattern.FindAllStringSubmatch(res.Text, -1) {
			for _, part := range strings.Split(m[1], ",") {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				require.NoError(t, err)
				assert.GreaterOrEqual(t, n, 1)
				assert.LessOrEqual(t, n, len(res.Order))
				seen[n] = true
			}
		}
		assert.Len(t, seen, len(res.Order), in)
	}
}

// =============================================================================
// Sources section
// =============================================================================

func TestStripSourcesSection(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain heading", "Cuerpo [1].\n\nSources\n[1] A", "Cuerpo [1]."},
		{"markdown heading", "Cuerpo.\n## Referencias\n- A", "Cuerpo."},
		{"bold with colon", "Cuerpo.\n**References:**\n1. A", "Cuerpo."},
		{"colon outside bold", "Cuerpo.\n**Bibliografía**:\n1. A", "Cuerpo."},
		{"lowercase", "Cuerpo.\nfuentes:\n- x", "Cuerpo."},
		{"word in body kept", "The sources of the conflict are many.\nReferences to land appear often.", "The sources of the conflict are many.\nReferences to land appear often."},
		{"inline label kept", "Fuentes: entrevistas y archivos", "Fuentes: entrevistas y archivos"},
		{"no heading", "Solo cuerpo.", "Solo cuerpo."},
		{"label with list", "La Comisión entregó su informe en 2022 [1].\n\nSources: [1] Hay futuro si hay verdad, Tomo 1, p. 12.", "La Comisión entregó su informe en 2022 [1]."},
		{"bold label with list", "Cuerpo [1].\n\n**Fuentes:** Informe final, Tomo 1.\n[2] Tomo 5", "Cuerpo [1]."},
		{"label in middle paragraph kept", "Cuerpo.\n\nFuentes: entrevistas.\n\nConclusión.", "Cuerpo.\n\nFuentes: entrevistas.\n\nConclusión."},
		{"final paragraph without colon kept", "Cuerpo.\n\nSources say the archive is large.", "Cuerpo.\n\nSources say the archive is large."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripSourcesSection(tt.in))
		})
	}
}

// =============================================================================
// History window
// =============================================================================

func TestHistoryWindow(t *testing.T) {
	msgs := make([]datatypes.Message, 14)
	for i := range msgs {
		msgs[i] = datatypes.Message{Ordinal: i, Content: strings.Repeat("x", 100), IsBot: i%2 == 1}
	}

	turns := historyWindow(msgs, 10, 6000)
	assert.Len(t, turns, 10)

	turns = historyWindow(msgs, 10, 450)
	assert.Len(t, turns, 4)
	assert.Equal(t, llm.RoleUser, turns[0].Role)

	assert.Nil(t, historyWindow(msgs, 0, 6000))
	assert.Nil(t, historyWindow(nil, 10, 6000))
}

func TestNormalizeSourceID(t *testing.T) {
	assert.Equal(t, "Tomo 3", normalizeSourceID("Tomo 3", "Otro"))
	assert.Equal(t, "vol-2", normalizeSourceID("vol-2", "Tomo 2"))
	assert.Equal(t, "Tomo 7: Mi cuerpo es la verdad", normalizeSourceID("abc", "Tomo 7: Mi cuerpo es la verdad"))
	assert.Equal(t, "abc", normalizeSourceID("abc", "Hallazgos"))
}
