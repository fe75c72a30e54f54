// Package provider defines the model backend interface and the resilient
// client that turns conversation state into the next desktop action.
package provider

import (
	"context"

	"github.com/GoCodeAlone/pilot/action"
	"github.com/GoCodeAlone/pilot/history"
)

// Request is one logical "get next action" call to a model backend.
type Request struct {
	System    string         `json:"system"`
	Turns     []history.Turn `json:"turns"`
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
}

// ToolUse is the raw tool invocation block extracted from a model response,
// before action decoding.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Usage tracks token consumption reported by the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a completed model response. Action is populated by the
// Client after decoding ToolUse; backends leave it zero.
type Response struct {
	Text    string        `json:"text,omitempty"`
	ToolUse *ToolUse      `json:"tool_use,omitempty"`
	Action  action.Action `json:"action"`
	Usage   Usage         `json:"usage"`
}

// Provider is a model backend that proposes the next action.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "mock").
	Name() string

	// NextAction sends one request and returns the raw response. Errors
	// must be classified: *TransientError for retryable failures,
	// *FatalError for everything that retrying cannot fix.
	NextAction(ctx context.Context, req *Request) (*Response, error)
}
