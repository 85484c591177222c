// Package llm calls external model providers for the planner and the
// continuation evaluator. Providers are HTTP adapters behind a single
// Complete interface; the Caller adds retry, model fallback, and rate
// limiting on top.
package llm

import "context"

// Message is one conversation message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model     string
	APIKey    string
	BaseURL   string
	System    string
	Messages  []Message
	MaxTokens int
}

// Provider is a model backend. Complete returns the assistant text of a
// single non-streaming completion.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
