package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/mindscribe/journal-backend/internal/history"
	"github.com/mindscribe/journal-backend/internal/llm"
	"github.com/mindscribe/journal-backend/internal/store"
)

// ContextRecord is one journal entry flattened for the model, with the two
// auxiliary match lists attached.
type ContextRecord struct {
	Content        string                  `json:"content"`
	Title          string                  `json:"title"`
	Date           string                  `json:"date"`
	Moods          map[string]float64      `json:"moods"`
	SemanticResult []store.SimilarityMatch `json:"semantic_result"`
	TitleSearch    []store.SimilarityMatch `json:"title_search"`
}

// ChatResponse is what the chat endpoints return.
type ChatResponse struct {
	Message history.Response `json:"message"`
}

// SynthesisInput carries everything one synthesis needs.
type SynthesisInput struct {
	OwnerID   string
	Query     string
	Records   []ContextRecord
	History   []history.Turn
	IsHistory bool
}

// StreamEvent is one SSE frame payload.
type StreamEvent struct {
	Event string `json:"event"` // "response", "error" or "complete"
	Data  any    `json:"data"`
}

// Synthesizer drives the final multi-turn generative call, parses its
// structured output and persists the completed exchange.
type Synthesizer struct {
	gen     llm.Generator
	history history.Store
	log     zerolog.Logger
	now     func() time.Time
}

func NewSynthesizer(gen llm.Generator, hist history.Store, log zerolog.Logger, now func() time.Time) *Synthesizer {
	if now == nil {
		now = time.Now
	}
	return &Synthesizer{gen: gen, history: hist, log: log, now: now}
}

// Respond produces the answer for one exchange and appends it to the owner's
// history. Provider and parse failures surface as SynthesisError; a failed
// history write is logged but does not fail the already-computed answer.
func (s *Synthesizer) Respond(ctx context.Context, in SynthesisInput) (ChatResponse, error) {
	prompt := s.buildPrompt(in)

	raw, err := s.gen.Chat(ctx, replayHistory(in.History), prompt)
	if err != nil {
		return ChatResponse{}, &SynthesisError{Op: "generate", Err: err}
	}

	parsed, err := s.parseModelResponse(raw)
	if err != nil {
		return ChatResponse{}, &SynthesisError{Op: "parse", Err: err}
	}

	s.persistExchange(ctx, in, parsed)
	return ChatResponse{Message: parsed}, nil
}

// RespondStream is the incremental variant. The provider response is consumed
// as a stream, then a single "response" event mirroring Respond's output is
// emitted followed by "complete". Any failure becomes one "error" event; the
// method never panics past the stream boundary.
func (s *Synthesizer) RespondStream(ctx context.Context, in SynthesisInput, emit func(StreamEvent)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("panic during streaming synthesis")
			emit(StreamEvent{Event: "error", Data: map[string]string{"message": genericFailureMessage}})
		}
	}()

	prompt := s.buildPrompt(in)

	raw, err := s.gen.ChatStream(ctx, replayHistory(in.History), prompt, nil)
	if err != nil {
		s.log.Error().Err(err).Str("owner", in.OwnerID).Msg("streaming generation failed")
		emit(StreamEvent{Event: "error", Data: map[string]string{"message": genericFailureMessage}})
		return
	}

	parsed, err := s.parseModelResponse(raw)
	if err != nil {
		s.log.Error().Err(err).Str("owner", in.OwnerID).Msg("streaming response parse failed")
		emit(StreamEvent{Event: "error", Data: map[string]string{"message": genericFailureMessage}})
		return
	}

	s.persistExchange(ctx, in, parsed)

	emit(StreamEvent{Event: "response", Data: ChatResponse{Message: parsed}})
	emit(StreamEvent{Event: "complete", Data: nil})
}

// genericFailureMessage is the user-facing text for any internal failure; raw
// provider errors stay in the logs.
const genericFailureMessage = "I'm sorry, I ran into a problem answering that. Please try again."

func (s *Synthesizer) buildPrompt(in SynthesisInput) string {
	today := s.now().Format("2006-01-02")

	switch {
	case in.IsHistory && len(in.History) == 0:
		return fmt.Sprintf(`This is the user query = '%s'.
There is no conversation history available.
Only respond if the user query is clearly related to journals, journal content, or journal history.
Respond in JSON format like:
{
    "title": "unknown",
    "date": "NA",
    "message": "I don't have any prior conversation history to base my response on. How can I assist you?"
}`, in.Query)

	case in.IsHistory:
		return fmt.Sprintf(`This is the user query = '%s'.
Respond to this query using the conversation history provided.
Only respond if the user query is clearly related to journals, journal content, or journal history.
Use natural language and incorporate context from the history to answer the query.
Respond in JSON format like:
{
    "title": "Conversation Summary",
    "date": "%s",
    "message": "your natural language response here"
}`, in.Query, today)

	case len(in.Records) == 0:
		return fmt.Sprintf(`This is the user query = '%s'.
The journal data is empty.
Only respond if the user query is clearly related to journals, journal content, or journal history.
Respond in JSON format like:
{
    "title": "unknown",
    "date": "NA",
    "message": "Cannot understand your question, please provide some details"
}`, in.Query)

	default:
		data, err := json.Marshal(in.Records)
		if err != nil {
			// Records are plain structs; this only fires on future type changes.
			data = []byte("[]")
		}
		return fmt.Sprintf(`You are an intelligent journaling assistant.
Only respond if the user query is clearly related to journals, journal content, or journal history.
If the query is unrelated (e.g. about movies, news, random facts), respond with:
{
    "message": "I'm here to help with your journal-related questions. This query doesn't seem related to your journals or past entries, so I won't generate a response."
}

When responding to journal-related queries, format your response with proper markdown:

### title with descriptive heading related to the query

**Date:** %s

Main content with appropriate markdown formatting:
- Use **bold** for emphasis
- Use *italics* for subtle emphasis
- Use ### for section headings
- Use bullet points or numbered lists when appropriate
- Include blockquotes for journal excerpts

This is the user query = '%s'.
Respond to this query with the help of this data: %s.
Use natural language and incorporate context from the conversation history if available.
Always ensure the response is properly escaped JSON.

Respond in JSON format like:
{
    "title": "unknown",
    "date": "NA",
    "message": "your response here"
}`, today, in.Query, string(data))
	}
}

// parseModelResponse decodes the provider output after stripping code fences.
// A JSON array (an observed provider inconsistency) is normalized into one
// numbered message under a synthetic title.
func (s *Synthesizer) parseModelResponse(raw string) (history.Response, error) {
	cleaned := StripCodeFences(raw)
	if cleaned == "" {
		return history.Response{}, fmt.Errorf("empty model response")
	}

	if strings.HasPrefix(cleaned, "[") {
		var list []history.Response
		if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
			return history.Response{}, fmt.Errorf("failed to decode model response array: %w", err)
		}
		var sb strings.Builder
		for i, item := range list {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%d. %s (%s): %s", i+1, item.Title, item.Date, item.Message)
		}
		return history.Response{
			Title:   "List of Journal Entries",
			Date:    s.now().Format("2006-01-02"),
			Message: sb.String(),
		}, nil
	}

	var resp history.Response
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return history.Response{}, fmt.Errorf("failed to decode model response: %w", err)
	}
	if resp.Message == "" {
		return history.Response{}, fmt.Errorf("model response missing message field")
	}
	return resp, nil
}

// persistExchange appends the completed turn and rewrites the owner's whole
// history. Cancelled exchanges are never recorded; write failures cost the
// turn, not the response.
func (s *Synthesizer) persistExchange(ctx context.Context, in SynthesisInput, resp history.Response) {
	if ctx.Err() != nil {
		s.log.Warn().Str("owner", in.OwnerID).Msg("request cancelled, skipping history persist")
		return
	}

	turns := append(in.History, history.Turn{UserQuery: in.Query, Response: resp})
	if err := s.history.Save(ctx, in.OwnerID, turns); err != nil {
		s.log.Error().Err(err).Str("owner", in.OwnerID).Msg("failed to persist conversation turn")
	}
}

// replayHistory expands stored turns into alternating user/model messages.
func replayHistory(turns []history.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Text: t.UserQuery},
			llm.Message{Role: llm.RoleModel, Text: t.Response.Message},
		)
	}
	return msgs
}
