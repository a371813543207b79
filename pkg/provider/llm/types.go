package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// Audio is optional raw audio evidence attached to a user message for
	// native multimodal understanding. Providers without audio support must
	// return an error rather than silently dropping the evidence.
	Audio []byte

	// AudioFormat is the container format of Audio (e.g., "wav", "mp3").
	AudioFormat string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ResponseSchema constrains the model to emit a single JSON object matching
// the given JSON Schema. Providers with native structured output use it as a
// hard decoding constraint; others may fall back to prompt-level enforcement,
// in which case the caller must still validate the result.
type ResponseSchema struct {
	// Name labels the schema in the request (provider requirement).
	Name string

	// Description is an optional hint about the expected output.
	Description string

	// Schema is the JSON Schema as a generic map.
	Schema map[string]any
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsAudioInput indicates the model can process raw audio evidence.
	SupportsAudioInput bool

	// SupportsStructuredOutput indicates native JSON-schema constrained output.
	SupportsStructuredOutput bool
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}
