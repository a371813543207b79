// Package llm defines the provider-agnostic interface for large language
// model backends used by the scoring pipeline.
//
// Implementations live in subpackages (openai, anyllm) and adapt a concrete
// vendor SDK to the Provider interface. The mock subpackage provides a
// scriptable fake for tests.
package llm

import "context"

// CompletionRequest carries everything needed for a single (non-streaming)
// chat completion.
type CompletionRequest struct {
	// Messages is the conversation history, oldest first.
	Messages []Message

	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Tools lists the tools the model may invoke. Empty means no tools.
	Tools []ToolDefinition

	// ResponseSchema, when non-nil, requests structured JSON output.
	ResponseSchema *ResponseSchema

	// Temperature controls sampling randomness. Nil uses the backend default.
	Temperature *float64

	// MaxTokens caps the completion length. Nil uses the backend default.
	MaxTokens *int
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	// Content is the assistant's text output. Empty when the model responded
	// only with tool calls.
	Content string

	// ToolCalls lists tool invocations the model requested, if any.
	ToolCalls []ToolCall

	// Usage reports token accounting when the backend provides it.
	Usage Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete performs a single chat completion. The call blocks until the
	// backend responds or ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities reports what the configured model supports.
	Capabilities() ModelCapabilities
}
