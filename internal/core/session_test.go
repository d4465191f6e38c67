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
	"github.com/mindscribe/journal-backend/internal/store"
)

type fakeParser struct {
	intent QueryIntent
	err    error
}

func (f *fakeParser) Parse(_ context.Context, _ string, _ time.Time) (QueryIntent, error) {
	if f.err != nil {
		return DefaultIntent(), f.err
	}
	return f.intent, nil
}

type fakeRetriever struct {
	result RetrievalResult
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _ string, _ QueryIntent) (RetrievalResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeSynth struct {
	resp   ChatResponse
	err    error
	inputs []SynthesisInput
}

func (f *fakeSynth) Respond(_ context.Context, in SynthesisInput) (ChatResponse, error) {
	f.inputs = append(f.inputs, in)
	return f.resp, f.err
}

func (f *fakeSynth) RespondStream(_ context.Context, in SynthesisInput, emit func(StreamEvent)) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		emit(StreamEvent{Event: "error", Data: map[string]string{"message": genericFailureMessage}})
		return
	}
	emit(StreamEvent{Event: "response", Data: f.resp})
	emit(StreamEvent{Event: "complete", Data: nil})
}

type failingHistory struct {
	loadErr error
	saveErr error
	saved   map[string][]history.Turn
}

func (f *failingHistory) Load(_ context.Context, _ string) ([]history.Turn, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return []history.Turn{}, nil
}

func (f *failingHistory) Save(_ context.Context, ownerID string, turns []history.Turn) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saved == nil {
		f.saved = make(map[string][]history.Turn)
	}
	f.saved[ownerID] = turns
	return nil
}

func (f *failingHistory) Clear(_ context.Context, _ string) error { return nil }

func newTestSession(parser intentParser, retriever journalRetriever, synth responseSynthesizer, hist history.Store) *Session {
	return NewSession(parser, retriever, synth, hist, zerolog.Nop(), fixedNow)
}

func TestHandle_UnrelatedQueryIsRefusedAndRecorded(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: false, IsHistory: false}}
	retriever := &fakeRetriever{}
	synth := &fakeSynth{}
	hist := history.NewMemoryStore()

	s := newTestSession(parser, retriever, synth, hist)
	resp, err := s.Handle(context.Background(), "u1", "solve x^2 + 3x = 0")
	require.NoError(t, err)

	assert.Equal(t, refusalMessage, resp.Message.Message)
	assert.Zero(t, retriever.calls, "refused queries never reach the retriever")
	assert.Empty(t, synth.inputs, "refused queries never reach the synthesizer")

	turns, _ := hist.Load(context.Background(), "u1")
	require.Len(t, turns, 1, "a refusal still counts as a turn")
	assert.Equal(t, "solve x^2 + 3x = 0", turns[0].UserQuery)
	assert.Equal(t, refusalMessage, turns[0].Response.Message)
}

func TestHandle_RefusalPersistFailureStillAnswers(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: false, IsHistory: false}}
	hist := &failingHistory{saveErr: fmt.Errorf("redis down")}

	s := newTestSession(parser, &fakeRetriever{}, &fakeSynth{}, hist)
	resp, err := s.Handle(context.Background(), "u1", "tell me a joke")
	require.NoError(t, err, "a failed history write costs the turn, not the response")
	assert.Equal(t, refusalMessage, resp.Message.Message)
}

func TestHandle_HistoryQuerySkipsRetriever(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsHistory: true, IsRelated: true}}
	retriever := &fakeRetriever{}
	synth := &fakeSynth{resp: ChatResponse{Message: history.Response{Message: "You asked about exams."}}}

	s := newTestSession(parser, retriever, synth, history.NewMemoryStore())
	resp, err := s.Handle(context.Background(), "u1", "what did I ask you before?")
	require.NoError(t, err)

	assert.Equal(t, "You asked about exams.", resp.Message.Message)
	assert.Zero(t, retriever.calls)
	require.Len(t, synth.inputs, 1)
	assert.True(t, synth.inputs[0].IsHistory)
	assert.Empty(t, synth.inputs[0].Records)
}

func TestHandle_DataBackedQueryFlattensEntries(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: true}}
	retriever := &fakeRetriever{result: RetrievalResult{
		Data: []store.JournalEntry{
			{ID: "a", Title: "Gym day", Content: "lifted weights", CreatedAt: day("2024-03-04"), Moods: map[string]float64{"joy": 0.9}},
			{ID: "b", Title: "Study day", Content: "networks lecture", CreatedAt: day("2024-03-05")},
		},
		SemanticResult: []store.SimilarityMatch{{EntryID: "a", Similarity: 0.8}},
		TitleSearch:    []store.SimilarityMatch{{EntryID: "b", Similarity: 0.7}},
	}}
	synth := &fakeSynth{resp: ChatResponse{Message: history.Response{Message: "answer"}}}

	s := newTestSession(parser, retriever, synth, history.NewMemoryStore())
	_, err := s.Handle(context.Background(), "u1", "what did I do this week?")
	require.NoError(t, err)

	require.Len(t, synth.inputs, 1)
	records := synth.inputs[0].Records
	require.Len(t, records, 2)
	assert.Equal(t, "Gym day", records[0].Title)
	assert.Equal(t, "2024-03-04", records[0].Date)
	// Both auxiliary lists ride along on every record.
	assert.Len(t, records[0].SemanticResult, 1)
	assert.Len(t, records[1].TitleSearch, 1)
}

func TestHandle_ParseFailureDegradesToDefaultIntent(t *testing.T) {
	parser := &fakeParser{err: fmt.Errorf("provider timeout")}
	retriever := &fakeRetriever{}
	synth := &fakeSynth{resp: ChatResponse{Message: history.Response{Message: "answer"}}}

	s := newTestSession(parser, retriever, synth, history.NewMemoryStore())
	_, err := s.Handle(context.Background(), "u1", "show me everything")
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.calls, "default intent proceeds as an unfiltered journal query")
}

func TestHandle_HistoryLoadFailureIsSoft(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: true}}
	synth := &fakeSynth{resp: ChatResponse{Message: history.Response{Message: "answer"}}}
	hist := &failingHistory{loadErr: fmt.Errorf("redis down")}

	s := newTestSession(parser, &fakeRetriever{}, synth, hist)
	resp, err := s.Handle(context.Background(), "u1", "show my entries")
	require.NoError(t, err, "a history load failure must not fail the request")
	assert.Equal(t, "answer", resp.Message.Message)
	require.Len(t, synth.inputs, 1)
	assert.Empty(t, synth.inputs[0].History)
}

func TestHandle_RetrievalErrorAborts(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: true}}
	retriever := &fakeRetriever{err: &RetrievalError{Stage: "date", Err: fmt.Errorf("db closed")}}
	synth := &fakeSynth{}

	s := newTestSession(parser, retriever, synth, history.NewMemoryStore())
	_, err := s.Handle(context.Background(), "u1", "show my entries")

	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.Empty(t, synth.inputs)
}

func TestHandleStream_RefusalEmitsResponseAndComplete(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: false, IsHistory: false}}
	hist := history.NewMemoryStore()

	s := newTestSession(parser, &fakeRetriever{}, &fakeSynth{}, hist)
	var events []StreamEvent
	s.HandleStream(context.Background(), "u1", "tell me a joke", func(ev StreamEvent) { events = append(events, ev) })

	require.Len(t, events, 2)
	assert.Equal(t, "response", events[0].Event)
	assert.Equal(t, "complete", events[1].Event)

	turns, _ := hist.Load(context.Background(), "u1")
	assert.Len(t, turns, 1)
}

func TestHandleStream_RetrievalErrorEmitsErrorEvent(t *testing.T) {
	parser := &fakeParser{intent: QueryIntent{IsRelated: true}}
	retriever := &fakeRetriever{err: &RetrievalError{Stage: "date", Err: fmt.Errorf("db closed")}}

	s := newTestSession(parser, retriever, &fakeSynth{}, history.NewMemoryStore())
	var events []StreamEvent
	s.HandleStream(context.Background(), "u1", "show my entries", func(ev StreamEvent) { events = append(events, ev) })

	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Event)
}
