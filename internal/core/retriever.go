package core

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mindscribe/journal-backend/internal/llm"
	"github.com/mindscribe/journal-backend/internal/store"
)

// maxSemanticMatches caps the auxiliary title and topic match lists.
const maxSemanticMatches = 5

// JournalReader is the slice of the journal store the retriever needs.
type JournalReader interface {
	EntriesByOwner(ctx context.Context, ownerID string, from, until *time.Time) ([]store.JournalEntry, error)
	SearchSimilar(ctx context.Context, field store.SearchField, query []float32, candidateIDs []string, limit int) ([]store.SimilarityMatch, error)
}

// RetrievalResult is the candidate set plus the two auxiliary semantic match
// lists. The lists are independently capped and not deduplicated against each
// other.
type RetrievalResult struct {
	Data           []store.JournalEntry    `json:"data"`
	SemanticResult []store.SimilarityMatch `json:"semantic_result"`
	TitleSearch    []store.SimilarityMatch `json:"title_search"`
}

// Retriever executes a parsed intent against the journal store: a mandatory
// date-scoped fetch, two optional semantic annotations over the candidate
// ids, then mood and tag filters that fall back to the unfiltered set rather
// than return nothing.
type Retriever struct {
	journals JournalReader
	embedder llm.Embedder
}

func NewRetriever(journals JournalReader, embedder llm.Embedder) *Retriever {
	return &Retriever{journals: journals, embedder: embedder}
}

// Retrieve runs the staged pipeline. Only called for on-topic, non-history
// queries. Any store or embedding failure aborts with a RetrievalError; there
// are no partial results.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, rawQuery string, intent QueryIntent) (RetrievalResult, error) {
	from, until := dateBounds(intent.DateRange)

	entries, err := r.journals.EntriesByOwner(ctx, ownerID, from, until)
	if err != nil {
		return RetrievalResult{}, &RetrievalError{Stage: "date", Err: err}
	}

	candidateIDs := make([]string, len(entries))
	for i, e := range entries {
		candidateIDs[i] = e.ID
	}

	// The title and topic searches annotate the same candidate set and are
	// independent of each other.
	titleSearch := []store.SimilarityMatch{}
	semanticResult := []store.SimilarityMatch{}

	if len(candidateIDs) > 0 {
		g, gctx := errgroup.WithContext(ctx)

		if intent.Title != "" {
			g.Go(func() error {
				matches, err := r.searchByText(gctx, store.FieldTitle, intent.Title, candidateIDs)
				if err != nil {
					return &RetrievalError{Stage: "title_search", Err: err}
				}
				titleSearch = matches
				return nil
			})
		}

		g.Go(func() error {
			matches, err := r.searchByText(gctx, store.FieldContent, rawQuery, candidateIDs)
			if err != nil {
				return &RetrievalError{Stage: "semantic_search", Err: err}
			}
			semanticResult = matches
			return nil
		})

		if err := g.Wait(); err != nil {
			return RetrievalResult{}, err
		}
	}

	filtered := filterByMoods(entries, intent.Moods)
	filtered = filterByTags(filtered, intent.Tags)

	return RetrievalResult{
		Data:           filtered,
		SemanticResult: semanticResult,
		TitleSearch:    titleSearch,
	}, nil
}

func (r *Retriever) searchByText(ctx context.Context, field store.SearchField, text string, candidateIDs []string) ([]store.SimilarityMatch, error) {
	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return r.journals.SearchSimilar(ctx, field, embedding, candidateIDs, maxSemanticMatches)
}

// dateBounds converts an ISO date range into an inclusive lower bound and an
// exclusive upper bound. A start without an end is treated as a single-day
// range. Unparseable dates are ignored as if unset.
func dateBounds(dr DateRange) (from, until *time.Time) {
	start, startOK := parseISODate(dr.Start)
	end, endOK := parseISODate(dr.End)

	if startOK && !endOK {
		end, endOK = start, true
	}

	if startOK {
		from = &start
	}
	if endOK {
		next := end.AddDate(0, 0, 1)
		until = &next
	}
	return from, until
}

func parseISODate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// filterByMoods keeps entries whose mood labels intersect the requested
// moods, preserving the order a mood-by-mood scan produces. An empty result
// falls back to the input set so filtering never silently returns nothing.
func filterByMoods(entries []store.JournalEntry, moods []string) []store.JournalEntry {
	if len(moods) == 0 {
		return entries
	}

	seen := make(map[string]struct{})
	var filtered []store.JournalEntry
	for _, mood := range moods {
		for _, entry := range entries {
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			if _, ok := entry.Moods[mood]; ok {
				seen[entry.ID] = struct{}{}
				filtered = append(filtered, entry)
			}
		}
	}

	if len(filtered) == 0 {
		return entries
	}
	return filtered
}

// filterByTags mirrors filterByMoods over the entry tag sets, with the same
// empty-result fallback.
func filterByTags(entries []store.JournalEntry, tags []string) []store.JournalEntry {
	if len(tags) == 0 {
		return entries
	}

	seen := make(map[string]struct{})
	var filtered []store.JournalEntry
	for _, tag := range tags {
		for _, entry := range entries {
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			if hasTag(entry.Tags, tag) {
				seen[entry.ID] = struct{}{}
				filtered = append(filtered, entry)
			}
		}
	}

	if len(filtered) == 0 {
		return entries
	}
	return filtered
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
