// Package llm defines the embedding and generation capabilities the query
// pipeline consumes, plus the Gemini and OpenAI implementations.
package llm

import "context"

// Message roles as replayed to the provider.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one prior conversation turn, provider-neutral.
type Message struct {
	Role string
	Text string
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces model text. Chat replays prior turns before sending the
// prompt as the final user message; ChatStream does the same but delivers the
// response incrementally through onChunk and returns the full text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Chat(ctx context.Context, history []Message, prompt string) (string, error)
	ChatStream(ctx context.Context, history []Message, prompt string, onChunk func(text string)) (string, error)
}

// Provider bundles both capabilities; the concrete clients implement it.
type Provider interface {
	Embedder
	Generator
	Close() error
}
