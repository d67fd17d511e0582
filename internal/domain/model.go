package domain

import "context"

// Model is the language-model capability. The core treats it as a black box:
// given a system prompt, messages, and optionally tool schemas, it returns
// text and/or a tool-call request.
type Model interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// Embedder produces a vector for a piece of text. Typically implemented by
// the same provider as Model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall carries the model's requested tool invocation. Arguments is the
// raw JSON string as produced by the model; the pipeline parses it and
// substitutes an empty argument set when it is malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is the schema surface offered to the model for one tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
