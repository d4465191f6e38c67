package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindscribe/journal-backend/internal/history"
)

// refusalMessage is the fixed reply for queries that are neither about the
// journal nor about the conversation. The refused exchange still counts as a
// turn.
const refusalMessage = "I can only help with questions related to your journals. " +
	"If you have a query about a specific entry, topic, mood, or time period in your journals, feel free to ask!"

type intentParser interface {
	Parse(ctx context.Context, rawQuery string, asOf time.Time) (QueryIntent, error)
}

type journalRetriever interface {
	Retrieve(ctx context.Context, ownerID, rawQuery string, intent QueryIntent) (RetrievalResult, error)
}

type responseSynthesizer interface {
	Respond(ctx context.Context, in SynthesisInput) (ChatResponse, error)
	RespondStream(ctx context.Context, in SynthesisInput, emit func(StreamEvent))
}

// Session orchestrates one chatbot request: parse intent, load history,
// branch, retrieve if needed, synthesize, persist. Requests are independent;
// the only shared state is the externally-owned history blob.
type Session struct {
	parser    intentParser
	retriever journalRetriever
	synth     responseSynthesizer
	history   history.Store
	log       zerolog.Logger
	now       func() time.Time
}

func NewSession(parser intentParser, retriever journalRetriever, synth responseSynthesizer, hist history.Store, log zerolog.Logger, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		parser:    parser,
		retriever: retriever,
		synth:     synth,
		history:   hist,
		log:       log,
		now:       now,
	}
}

// Handle answers one query. Only retrieval and synthesis failures abort;
// intent parsing and history loading degrade to defaults.
func (s *Session) Handle(ctx context.Context, ownerID, query string) (ChatResponse, error) {
	intent, turns := s.prepare(ctx, ownerID, query)

	if !intent.IsRelated && !intent.IsHistory {
		return s.refuse(ctx, ownerID, query, turns), nil
	}

	in, err := s.buildInput(ctx, ownerID, query, intent, turns)
	if err != nil {
		return ChatResponse{}, err
	}
	return s.synth.Respond(ctx, in)
}

// HandleStream is Handle over an event stream. Failures become one "error"
// event; nothing is raised past the emit boundary.
func (s *Session) HandleStream(ctx context.Context, ownerID, query string, emit func(StreamEvent)) {
	intent, turns := s.prepare(ctx, ownerID, query)

	if !intent.IsRelated && !intent.IsHistory {
		resp := s.refuse(ctx, ownerID, query, turns)
		emit(StreamEvent{Event: "response", Data: resp})
		emit(StreamEvent{Event: "complete", Data: nil})
		return
	}

	in, err := s.buildInput(ctx, ownerID, query, intent, turns)
	if err != nil {
		s.log.Error().Err(err).Str("owner", ownerID).Msg("retrieval failed for streaming query")
		emit(StreamEvent{Event: "error", Data: map[string]string{"message": genericFailureMessage}})
		return
	}
	s.synth.RespondStream(ctx, in, emit)
}

// prepare runs the soft-fail stages: a parse failure collapses to the default
// intent and a history load failure to an empty history, both logged.
func (s *Session) prepare(ctx context.Context, ownerID, query string) (QueryIntent, []history.Turn) {
	intent, err := s.parser.Parse(ctx, query, s.now())
	if err != nil {
		s.log.Warn().Err(err).Str("owner", ownerID).Msg("intent parsing degraded to default")
		intent = DefaultIntent()
	}
	s.log.Debug().
		Str("owner", ownerID).
		Bool("is_history", intent.IsHistory).
		Bool("is_related", intent.IsRelated).
		Strs("moods", intent.Moods).
		Strs("tags", intent.Tags).
		Msg("parsed query intent")

	turns, err := s.history.Load(ctx, ownerID)
	if err != nil {
		s.log.Error().Err(err).Str("owner", ownerID).Msg("failed to load history, continuing with empty")
		turns = []history.Turn{}
	}
	return intent, turns
}

// buildInput assembles the synthesis input, running retrieval for data-backed
// queries. History queries never touch the journal store.
func (s *Session) buildInput(ctx context.Context, ownerID, query string, intent QueryIntent, turns []history.Turn) (SynthesisInput, error) {
	in := SynthesisInput{
		OwnerID:   ownerID,
		Query:     query,
		History:   turns,
		IsHistory: intent.IsHistory,
	}
	if intent.IsHistory {
		return in, nil
	}

	result, err := s.retriever.Retrieve(ctx, ownerID, query, intent)
	if err != nil {
		return SynthesisInput{}, err
	}

	for _, entry := range result.Data {
		in.Records = append(in.Records, ContextRecord{
			Content:        entry.Content,
			Title:          entry.Title,
			Date:           entry.CreatedAt.Format("2006-01-02"),
			Moods:          entry.Moods,
			SemanticResult: result.SemanticResult,
			TitleSearch:    result.TitleSearch,
		})
	}
	return in, nil
}

// refuse records the refusal as a normal turn and returns the fixed message.
func (s *Session) refuse(ctx context.Context, ownerID, query string, turns []history.Turn) ChatResponse {
	resp := history.Response{Message: refusalMessage}

	if ctx.Err() == nil {
		updated := append(turns, history.Turn{UserQuery: query, Response: resp})
		if err := s.history.Save(ctx, ownerID, updated); err != nil {
			s.log.Error().Err(err).Str("owner", ownerID).Msg("failed to persist refusal turn")
		}
	}
	return ChatResponse{Message: resp}
}
