// Package llm adapts chat-completion providers to the SQL generation step
// consumed by the correction loop.
package llm

import "context"

// Client is the minimal chat-completion surface the generator needs.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Complete generates a completion for the prompt under the system
	// message.
	Complete(ctx context.Context, systemMessage, prompt string, temperature float64) (string, error)

	// Model returns the configured model name.
	Model() string
}
