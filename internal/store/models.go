package store

import "time"

type User struct {
	ID           string    `json:"id"` // UUID
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

// JournalEntry is one journal record. Moods maps emotion labels to scores
// (top three plus the dominant label, assigned when the entry was authored).
// Both embeddings are always present and sized to the configured model.
type JournalEntry struct {
	ID               string             `json:"id"` // UUID
	OwnerID          string             `json:"owner_id"`
	Title            string             `json:"title"`
	Content          string             `json:"content"`
	RichText         string             `json:"rich_text"`
	CreatedAt        time.Time          `json:"created_at"`
	Moods            map[string]float64 `json:"moods"`
	Tags             []string           `json:"tags"`
	ContentEmbedding []float32          `json:"-"` // Internal, never serialized out
	TitleEmbedding   []float32          `json:"-"`
}

// SearchField selects which embedding a similarity search runs over.
type SearchField string

const (
	FieldTitle   SearchField = "title"
	FieldContent SearchField = "content"
)

// SimilarityMatch is one nearest-neighbor hit from a candidate-scoped search.
type SimilarityMatch struct {
	EntryID    string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float32   `json:"similarity"`
}
