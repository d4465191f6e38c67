package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mindscribe/journal-backend/internal/llm"
)

// moodTaxonomy is the GoEmotions label set journal moods are classified
// against at write time; parsed intents may only reference these labels.
var moodTaxonomy = []string{
	"admiration", "amusement", "annoyance", "approval", "caring",
	"confusion", "curiosity", "desire", "disappointment", "disapproval",
	"disgust", "embarrassment", "excitement", "fear", "gratitude",
	"grief", "joy", "love", "nervousness", "optimism",
	"pride", "realization", "relief", "remorse", "sadness",
	"surprise", "neutral",
}

var moodTaxonomySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(moodTaxonomy))
	for _, m := range moodTaxonomy {
		set[m] = struct{}{}
	}
	return set
}()

// DateRange bounds a query in ISO dates ("2006-01-02"). Empty means unbounded.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// QueryIntent is the structured search intent extracted from one free-text
// query. Never persisted; a missing field means "no filter".
type QueryIntent struct {
	DateRange DateRange `json:"date_range"`
	Moods     []string  `json:"moods"`
	Tags      []string  `json:"tags"`
	Title     string    `json:"title"`
	IsHistory bool      `json:"is_history"`
	IsRelated bool      `json:"is_related"`
}

// DefaultIntent is what a malformed provider response collapses to: no
// filters, treated as an on-topic journal query so the request still proceeds.
func DefaultIntent() QueryIntent {
	return QueryIntent{IsRelated: true}
}

const intentPromptTemplate = `You are a helpful assistant for an AI journaling app.
Your job is to parse a user's natural language query and any accompanying recollections into structured JSON to help the app search journal entries or determine if the query is purely conversational.
Return ONLY JSON with these keys:
1. "date_range": {"start": "...", "end": "..."} - extract any specific or relative time references like "last month", "yesterday", "April 6", etc. Use today's date as: %s
2. "moods": List of relevant emotions from this list (account for negation): [%s]
3. "tags": Any related tags such as activities (e.g. study, code, work), subjects (e.g. networks), people (e.g. classmates, teacher), or contexts (e.g. class, lecture, exam). Use present tense for activities and ensure that any verb forms like "working" are replaced by the correct noun form like "work". Give it in singular form where applicable.
4. "title": Provide a concise one-sentence title based on the user's query that accurately captures the core subject for effective semantic search. If the query doesn't explicitly mention a title, return an empty string.
5. "is_history": Boolean - Set to true if the query does not involve fetching journal data (e.g., purely conversational queries like "What did I ask earlier?" or "tell me something from previous responses" or "Tell me a joke"), and false if it involves fetching journal data (e.g., mentions dates, moods, tags, titles, or journal-related terms like "show", "filter", "find").
6. "is_related": Boolean - Set false if you think the user query is not related to the journal, for example "a mathematics equation" or "a programming problem", unless explicitly asked to do a journal related task with it.

Respond with valid JSON only.

Query and recall: "%s"`

// codeFenceRE strips a leading/trailing markdown code fence the model often
// wraps its JSON in.
var codeFenceRE = regexp.MustCompile("(?m)^```(?:json)?\\s*|\\s*```$")

// StripCodeFences removes markdown code fences around a model response.
func StripCodeFences(raw string) string {
	return strings.TrimSpace(codeFenceRE.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// IntentParser turns raw user text into a QueryIntent through one generative
// call. Stateless; safe to retry.
type IntentParser struct {
	gen llm.Generator
}

func NewIntentParser(gen llm.Generator) *IntentParser {
	return &IntentParser{gen: gen}
}

// Parse resolves relative dates against asOf, not the wall clock. A provider
// error is returned to the caller; provider output that is not valid JSON
// degrades to DefaultIntent without error.
func (p *IntentParser) Parse(ctx context.Context, rawQuery string, asOf time.Time) (QueryIntent, error) {
	prompt := fmt.Sprintf(intentPromptTemplate,
		asOf.Format("2006-01-02"),
		strings.Join(moodTaxonomy, ", "),
		rawQuery,
	)

	raw, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return DefaultIntent(), fmt.Errorf("intent generation failed: %w", err)
	}

	cleaned := StripCodeFences(raw)

	// is_related defaults to true when the key is absent: a query is only
	// refused when the model affirmatively marked it off-topic.
	var decoded struct {
		DateRange DateRange `json:"date_range"`
		Moods     []string  `json:"moods"`
		Tags      []string  `json:"tags"`
		Title     string    `json:"title"`
		IsHistory bool      `json:"is_history"`
		IsRelated *bool     `json:"is_related"`
	}
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return DefaultIntent(), nil
	}

	intent := QueryIntent{
		DateRange: decoded.DateRange,
		Moods:     validMoods(decoded.Moods),
		Tags:      decoded.Tags,
		Title:     strings.TrimSpace(decoded.Title),
		IsHistory: decoded.IsHistory,
		IsRelated: decoded.IsRelated == nil || *decoded.IsRelated,
	}
	return intent, nil
}

// validMoods keeps only labels in the taxonomy, lowercased.
func validMoods(moods []string) []string {
	var out []string
	for _, m := range moods {
		m = strings.ToLower(strings.TrimSpace(m))
		if _, ok := moodTaxonomySet[m]; ok {
			out = append(out, m)
		}
	}
	return out
}
