// Package providers normalizes heterogeneous completion services behind
// one interface. Callers only ever see the closed error taxonomy
// {RateLimited, Timeout, AuthError, Unavailable, Malformed}.
package providers

import (
	"context"
	"encoding/json"
)

// Message is one chat turn sent to a completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries one completion call. Zero values fall back to the
// provider's configured defaults.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Usage reports token accounting when the service supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the normalized response from any provider.
type Completion struct {
	Content  string
	Model    string
	Provider string
	Usage    Usage
	Raw      json.RawMessage
}

// Provider is the capability-set interface implemented once per external
// service variant. Complete returns either a Completion or an error from
// the closed taxonomy; it never panics and never leaks provider-specific
// error types.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}
