package domain

import "context"

// ChatMessage is one turn passed to the LLM.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// GenerateRequest carries everything a provider needs for one completion.
type GenerateRequest struct {
	System      string
	Messages    []ChatMessage
	Advanced    bool // select the larger model when the provider has one
	MaxTokens   int
	Temperature float64
}

// Provider is the interface all LLM providers must implement.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Healthy(ctx context.Context) error
}

// StreamingProvider is an optional extension for providers that can deliver
// the completion as incremental text chunks. The provider closes out before
// returning.
type StreamingProvider interface {
	Provider
	GenerateStream(ctx context.Context, req GenerateRequest, out chan<- string) error
}
