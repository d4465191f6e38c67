// Package history stores per-user conversation history as a single JSON blob
// with a 30-day expiry, rewritten wholesale on every append.
package history

import "context"

// Response is the assistant's half of a turn. Title and Date are optional
// decorations; Message always carries the answer body.
type Response struct {
	Title     string   `json:"title,omitempty"`
	Date      string   `json:"date,omitempty"`
	Message   string   `json:"message"`
	Citations []string `json:"citations,omitempty"`
}

// Turn is one completed exchange, oldest-first in the stored sequence.
type Turn struct {
	UserQuery string   `json:"user_query"`
	Response  Response `json:"response"`
}

// Store reads and writes a user's whole conversation history. Save replaces
// the blob and refreshes its TTL; concurrent saves for the same owner are
// last-writer-wins.
type Store interface {
	Load(ctx context.Context, ownerID string) ([]Turn, error)
	Save(ctx context.Context, ownerID string, turns []Turn) error
	Clear(ctx context.Context, ownerID string) error
}
