// Package llm talks to OpenAI-compatible chat-completion backends with
// streaming enabled, and assembles the fragmented tool-call directives the
// wire format delivers.
package llm

import "context"

// Message is one entry of the conversation sent to the backend.
// Content is a pointer so an assistant message carrying only tool calls
// serializes with an explicit null content, the shape backends expect.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Text builds a message with plain string content.
func Text(role, content string) Message {
	return Message{Role: role, Content: &content}
}

// ToolCall is a fully assembled tool-call directive.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function-call descriptor offered to the backend.
type Tool struct {
	Type     string       `json:"type"`
	Function FunctionTool `json:"function"`
}

type FunctionTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Completion is the fully accumulated result of one streamed response.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider streams one chat completion. Content deltas are forwarded to
// onDelta as they arrive; the returned Completion holds the accumulated
// text and any assembled tool calls.
type Provider interface {
	StreamCompletion(ctx context.Context, messages []Message, tools []Tool, onDelta func(string)) (*Completion, error)
}
