// Package llm holds the provider-neutral completion interface and its
// Bedrock and Gemini implementations.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Request struct {
	Model    string
	System   []string
	Messages []Message
	// MaxTokens of zero leaves the provider default.
	MaxTokens int32
	// Temperature below zero leaves the provider default.
	Temperature float32
	TopP        float32
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client completes a prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
