// Package llm defines the text-generation collaborator interface and its
// OpenRouter-backed implementation.
package llm

import "context"

// Message roles in a generation request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a generation prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one increment of a streaming generation.
// A Chunk with Err set is terminal; the stream closes immediately after.
type Chunk struct {
	// Delta is the new text in this chunk (typically a token or two).
	Delta string

	// Err is set if the stream failed upstream.
	Err error
}

// Provider generates persona replies from conversation history.
// The returned channel is finite, closed on completion or failure, and not
// restartable.
type Provider interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// GenerateStream starts a streaming completion for the given messages.
	// Chunks arrive on the returned channel until generation completes or
	// fails; cancellation of ctx aborts the stream.
	GenerateStream(ctx context.Context, messages []Message) (<-chan Chunk, error)
}
