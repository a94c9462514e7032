package agent

import (
	"context"
	"encoding/json"

	"spockchat/internal/llm"
)

type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "toolcall"
	EventToolResult EventType = "toolresult"
	EventMeta       EventType = "meta"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ToolCallData is the payload of an EventToolCall event.
type ToolCallData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Timestamp int64  `json:"timestamp"`
}

// ToolResultData is the payload of an EventToolResult event. Result carries
// the UI-bound copy of the tool result, which omits raw data when truncated.
type ToolResultData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Result    json.RawMessage `json:"result"`
	Timestamp int64           `json:"timestamp"`
}

// Runner drives one user turn end to end, pushing stream events through emit
// in production order.
type Runner interface {
	Run(ctx context.Context, sessionID, prompt string, history []llm.Message, emit func(Event)) error
}
