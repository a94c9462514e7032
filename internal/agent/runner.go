package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"spockchat/internal/history"
	"spockchat/internal/llm"
	"spockchat/internal/mcp"
	"spockchat/internal/trace"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const defaultSystemPrompt = "You are a helpful assistant. When you receive tool results, format them in a clear, human-readable way using proper markdown.\n\nIMPORTANT - For tabular data, you MUST use this exact markdown table format:\n\n| Column1 | Column2 | Column3 |\n|---------|---------|----------|\n| Value1  | Value2  | Value3  |\n\nEach cell must be separated by pipes (|) with spaces, and the header row must be followed by a separator row with dashes.\n\nOther formatting rules:\n- Use bullet points (- or *) for lists\n- Use ```language code blocks for code or JSON\n- Use # ## ### for headers\n- Always explain what the tool did before showing results\n- Present data in an organized, visually appealing manner"

type Option func(*TurnRunner)

func WithSystemPrompt(s string) Option {
	return func(r *TurnRunner) { r.systemPrompt = s }
}

// WithMaxToolRounds caps how many tool-execution round-trips a single turn
// may perform. Once the cap is reached the follow-up request withholds the
// tool list, so the backend cannot chain further calls.
func WithMaxToolRounds(n int) Option {
	return func(r *TurnRunner) { r.maxToolRounds = n }
}

// WithStore enables best-effort transcript persistence.
func WithStore(s *history.Store) Option {
	return func(r *TurnRunner) { r.store = s }
}

// TurnRunner is the state machine behind one chat turn: build the message
// list, stream the completion, execute any tool calls sequentially in
// declared order, feed results back, and re-stream until the backend
// produces an answer with no pending tool calls.
type TurnRunner struct {
	provider      llm.Provider
	registry      *mcp.Registry
	tools         *mcp.Client
	store         *history.Store
	systemPrompt  string
	maxToolRounds int
}

func NewTurnRunner(provider llm.Provider, registry *mcp.Registry, tools *mcp.Client, opts ...Option) *TurnRunner {
	r := &TurnRunner{
		provider:      provider,
		registry:      registry,
		tools:         tools,
		systemPrompt:  defaultSystemPrompt,
		maxToolRounds: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *TurnRunner) Run(ctx context.Context, sessionID, prompt string, histMsgs []llm.Message, emit func(Event)) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := trace.Tracer().Start(ctx, "agent.turn.run",
		oteltrace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("history.messages", len(histMsgs)),
		),
	)
	defer span.End()

	messages := r.buildMessages(histMsgs, prompt)

	backendTools := r.backendTools()
	if len(backendTools) > 0 {
		emit(Event{Type: EventMeta, Data: map[string]any{"toolsAvailable": len(backendTools)}})
	}

	var answer string
	var toolCallCount int

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			emit(Event{Type: EventError, Data: "request cancelled"})
			return err
		}

		// Tools are only offered while rounds remain; the final pass runs
		// bare so the backend has to answer instead of chaining more calls.
		var offered []llm.Tool
		if round < r.maxToolRounds {
			offered = backendTools
		}

		comp, err := r.stream(ctx, messages, offered, round, emit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			emit(Event{Type: EventError, Data: err.Error()})
			return err
		}
		answer += comp.Content

		if len(comp.ToolCalls) == 0 || round >= r.maxToolRounds {
			break
		}

		toolCallCount += len(comp.ToolCalls)
		messages = append(messages, assistantToolCallMessage(comp))
		for _, call := range comp.ToolCalls {
			messages = append(messages, r.executeToolCall(ctx, call, emit))
		}
	}

	r.persist(ctx, sessionID, prompt, answer, toolCallCount)

	emit(Event{Type: EventDone})
	return nil
}

// buildMessages prepends the system instruction unless the caller-supplied
// history already starts with one, and appends the current prompt unless it
// is already the trailing message.
func (r *TurnRunner) buildMessages(histMsgs []llm.Message, prompt string) []llm.Message {
	var messages []llm.Message
	if len(histMsgs) > 0 && histMsgs[0].Role == "system" {
		messages = append(messages, histMsgs...)
	} else {
		messages = append(messages, llm.Text("system", r.systemPrompt))
		messages = append(messages, histMsgs...)
	}

	if n := len(messages); n > 0 {
		last := messages[n-1]
		if last.Role == "user" && last.Content != nil && *last.Content == prompt {
			return messages
		}
	}
	return append(messages, llm.Text("user", prompt))
}

func (r *TurnRunner) stream(ctx context.Context, messages []llm.Message, tools []llm.Tool, round int, emit func(Event)) (*llm.Completion, error) {
	ctx, span := trace.Tracer().Start(ctx, "llm.stream",
		oteltrace.WithAttributes(
			attribute.Int("llm.round", round),
			attribute.Int("llm.tools_offered", len(tools)),
		),
	)
	defer span.End()

	comp, err := r.provider.StreamCompletion(ctx, messages, tools, func(delta string) {
		emit(Event{Type: EventText, Data: delta})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.content_bytes", len(comp.Content)),
		attribute.Int("llm.tool_calls", len(comp.ToolCalls)),
	)
	return comp, nil
}

// executeToolCall resolves and invokes one tool call, emitting the
// started/finished events, and returns the tool-role message to feed back.
// Failures never escape: they become structured error payloads the backend
// can react to on the follow-up pass.
func (r *TurnRunner) executeToolCall(ctx context.Context, call llm.ToolCall, emit func(Event)) llm.Message {
	name := call.Function.Name
	emit(Event{Type: EventToolCall, Data: ToolCallData{
		ID:        call.ID,
		Name:      name,
		Arguments: call.Function.Arguments,
		Timestamp: time.Now().UnixMilli(),
	}})

	ctx, span := trace.Tracer().Start(ctx, "tool.call",
		oteltrace.WithAttributes(attribute.String("tool.name", name)),
	)
	defer span.End()

	result := r.invoke(ctx, call)

	llmCopy, uiCopy := truncateResult(result)

	emit(Event{Type: EventToolResult, Data: ToolResultData{
		ID:        call.ID,
		Name:      name,
		Result:    uiCopy,
		Timestamp: time.Now().UnixMilli(),
	}})

	return llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Content:    strPtr(string(llmCopy)),
	}
}

func (r *TurnRunner) invoke(ctx context.Context, call llm.ToolCall) json.RawMessage {
	name := call.Function.Name

	argsJSON := call.Function.Arguments
	if argsJSON == "" {
		argsJSON = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		slog.Warn("tool call has malformed arguments", "tool", name, "error", err)
		return errorPayload(fmt.Sprintf("invalid tool arguments: %v", err))
	}

	ref, ok := r.registry.Lookup(name)
	if !ok {
		slog.Warn("unknown tool call", "tool", name)
		return errorPayload(fmt.Sprintf("No server found for tool: %s", name))
	}

	result, err := r.tools.CallTool(ctx, ref.URL, ref.Credential, name, args)
	if err != nil {
		slog.Warn("tool call failed", "tool", name, "provider", ref.ProviderName, "error", err)
		return errorPayload(fmt.Sprintf("Error calling tool on MCP server %q: %v", ref.ProviderName, err))
	}
	return result
}

func (r *TurnRunner) backendTools() []llm.Tool {
	entries := r.registry.List()
	if len(entries) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(entries))
	for _, e := range entries {
		var params any = json.RawMessage(e.InputSchema)
		if len(e.InputSchema) == 0 {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.FunctionTool{
				Name:        e.Name,
				Description: e.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func (r *TurnRunner) persist(ctx context.Context, sessionID, prompt, answer string, toolCalls int) {
	if r.store == nil {
		return
	}
	if err := r.store.EnsureSession(ctx, sessionID); err != nil {
		slog.Warn("failed to ensure session", "session_id", sessionID, "error", err)
		return
	}
	if err := r.store.SaveTurn(ctx, sessionID, prompt, answer, toolCalls); err != nil {
		slog.Warn("failed to save turn", "session_id", sessionID, "error", err)
	}
}

func assistantToolCallMessage(comp *llm.Completion) llm.Message {
	msg := llm.Message{Role: "assistant", ToolCalls: comp.ToolCalls}
	if comp.Content != "" {
		msg.Content = strPtr(comp.Content)
	}
	return msg
}

func errorPayload(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

func strPtr(s string) *string {
	return &s
}
