package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindscribe/journal-backend/internal/history"
	"github.com/mindscribe/journal-backend/internal/llm"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
}

func newTestSynthesizer(gen llm.Generator) (*Synthesizer, *history.MemoryStore) {
	hist := history.NewMemoryStore()
	return NewSynthesizer(gen, hist, zerolog.Nop(), fixedNow), hist
}

func TestRespond_DataBackedBranch(t *testing.T) {
	gen := &stubGenerator{response: `{"title": "Exam Week", "date": "2024-03-10", "message": "You wrote about exams."}`}
	synth, hist := newTestSynthesizer(gen)

	resp, err := synth.Respond(context.Background(), SynthesisInput{
		OwnerID: "u1",
		Query:   "what did I write about exams?",
		Records: []ContextRecord{{Content: "studied hard", Title: "Exam prep", Date: "2024-03-05"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "You wrote about exams.", resp.Message.Message)
	assert.Equal(t, "Exam Week", resp.Message.Title)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "intelligent journaling assistant")
	assert.Contains(t, gen.prompts[0], "Exam prep", "journal data must be part of the grounding prompt")

	turns, err := hist.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "what did I write about exams?", turns[0].UserQuery)
	assert.Equal(t, "You wrote about exams.", turns[0].Response.Message)
}

func TestRespond_EmptyDataBranch(t *testing.T) {
	gen := &stubGenerator{response: `{"title": "unknown", "date": "NA", "message": "Cannot understand your question, please provide some details"}`}
	synth, _ := newTestSynthesizer(gen)

	_, err := synth.Respond(context.Background(), SynthesisInput{
		OwnerID: "u1",
		Query:   "what happened in january?",
	})
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "The journal data is empty")
}

func TestRespond_HistoryBranchWithEmptyHistory(t *testing.T) {
	gen := &stubGenerator{response: `{"message": "I don't have any prior conversation history to base my response on."}`}
	synth, _ := newTestSynthesizer(gen)

	_, err := synth.Respond(context.Background(), SynthesisInput{
		OwnerID:   "u1",
		Query:     "what did I ask before?",
		IsHistory: true,
	})
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "no conversation history available")
	assert.Empty(t, gen.history)
}

func TestRespond_HistoryBranchReplaysTurns(t *testing.T) {
	gen := &stubGenerator{response: `{"message": "You asked about your exams."}`}
	synth, _ := newTestSynthesizer(gen)

	prior := []history.Turn{
		{UserQuery: "how were my exams?", Response: history.Response{Message: "They went well."}},
		{UserQuery: "and my mood?", Response: history.Response{Message: "Mostly optimistic."}},
	}
	_, err := synth.Respond(context.Background(), SynthesisInput{
		OwnerID:   "u1",
		Query:     "what did I ask you before?",
		History:   prior,
		IsHistory: true,
	})
	require.NoError(t, err)

	require.Len(t, gen.history, 4, "each turn expands into a user and a model message")
	assert.Equal(t, llm.RoleUser, gen.history[0].Role)
	assert.Equal(t, "how were my exams?", gen.history[0].Text)
	assert.Equal(t, llm.RoleModel, gen.history[1].Role)
	assert.Equal(t, "They went well.", gen.history[1].Text)
	assert.Equal(t, llm.RoleModel, gen.history[3].Role)

	assert.Contains(t, gen.prompts[0], "using the conversation history")
}

func TestRespond_StripsFencesAroundModelJSON(t *testing.T) {
	gen := &stubGenerator{response: "```json\n{\"message\": \"fenced answer\"}\n```"}
	synth, _ := newTestSynthesizer(gen)

	resp, err := synth.Respond(context.Background(), SynthesisInput{OwnerID: "u1", Query: "q", Records: []ContextRecord{{}}})
	require.NoError(t, err)
	assert.Equal(t, "fenced answer", resp.Message.Message)
}

func TestRespond_NormalizesArrayResponse(t *testing.T) {
	gen := &stubGenerator{response: `[
        {"title": "Monday", "date": "2024-03-04", "message": "Went to the gym."},
        {"title": "Tuesday", "date": "2024-03-05", "message": "Studied networks."}
    ]`}
	synth, _ := newTestSynthesizer(gen)

	resp, err := synth.Respond(context.Background(), SynthesisInput{OwnerID: "u1", Query: "q", Records: []ContextRecord{{}}})
	require.NoError(t, err)

	assert.Equal(t, "List of Journal Entries", resp.Message.Title)
	assert.Equal(t, "2024-03-10", resp.Message.Date)
	assert.Contains(t, resp.Message.Message, "1. Monday (2024-03-04): Went to the gym.")
	assert.Contains(t, resp.Message.Message, "2. Tuesday (2024-03-05): Studied networks.")
}

func TestRespond_MalformedModelJSONIsSynthesisError(t *testing.T) {
	gen := &stubGenerator{response: "here are your entries: gym, networks"}
	synth, hist := newTestSynthesizer(gen)

	_, err := synth.Respond(context.Background(), SynthesisInput{OwnerID: "u1", Query: "q", Records: []ContextRecord{{}}})
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "parse", synthErr.Op)

	turns, _ := hist.Load(context.Background(), "u1")
	assert.Empty(t, turns, "history is only persisted on full success")
}

func TestRespond_GeneratorErrorIsSynthesisError(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("quota exceeded")}
	synth, _ := newTestSynthesizer(gen)

	_, err := synth.Respond(context.Background(), SynthesisInput{OwnerID: "u1", Query: "q"})
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "generate", synthErr.Op)
}

func TestRespond_CancelledContextSkipsPersist(t *testing.T) {
	gen := &stubGenerator{response: `{"message": "late answer"}`}
	synth, hist := newTestSynthesizer(gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := synth.Respond(ctx, SynthesisInput{OwnerID: "u1", Query: "q", Records: []ContextRecord{{}}})
	require.NoError(t, err)
	assert.Equal(t, "late answer", resp.Message.Message)

	turns, _ := hist.Load(context.Background(), "u1")
	assert.Empty(t, turns, "cancelled exchanges must not be recorded")
}

func TestRespondStream_EmitsResponseThenComplete(t *testing.T) {
	gen := &stubGenerator{response: `{"title": "T", "message": "streamed answer"}`}
	synth, hist := newTestSynthesizer(gen)

	var events []StreamEvent
	synth.RespondStream(context.Background(), SynthesisInput{
		OwnerID: "u1",
		Query:   "q",
		Records: []ContextRecord{{}},
	}, func(ev StreamEvent) { events = append(events, ev) })

	require.Len(t, events, 2)
	assert.Equal(t, "response", events[0].Event)
	resp, ok := events[0].Data.(ChatResponse)
	require.True(t, ok)
	assert.Equal(t, "streamed answer", resp.Message.Message)
	assert.Equal(t, "complete", events[1].Event)

	turns, _ := hist.Load(context.Background(), "u1")
	assert.Len(t, turns, 1)
}

func TestRespondStream_ErrorBecomesSingleErrorEvent(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("stream broke")}
	synth, hist := newTestSynthesizer(gen)

	var events []StreamEvent
	synth.RespondStream(context.Background(), SynthesisInput{OwnerID: "u1", Query: "q"},
		func(ev StreamEvent) { events = append(events, ev) })

	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Event)
	data, ok := events[0].Data.(map[string]string)
	require.True(t, ok)
	assert.NotContains(t, data["message"], "stream broke", "raw provider errors stay out of user-facing text")

	turns, _ := hist.Load(context.Background(), "u1")
	assert.Empty(t, turns)
}
