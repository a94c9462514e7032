package llm

import "fmt"

// ToolCallDelta is one index-addressed fragment of a tool call as it
// appears inside a streaming chunk.
type ToolCallDelta struct {
	Index    int            `json:"index"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function *FunctionDelta `json:"function,omitempty"`
}

type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Assembler accumulates tool-call fragments by index. The backend may split
// one logical call across many chunks; name and arguments fragments for the
// same index are concatenated, never replaced. Purely in-memory, no I/O.
type Assembler struct {
	calls []ToolCall
	seen  []bool
}

// Add merges a batch of fragments into the accumulator.
func (a *Assembler) Add(deltas []ToolCallDelta) {
	for _, d := range deltas {
		if d.Index < 0 {
			continue
		}
		for d.Index >= len(a.calls) {
			a.calls = append(a.calls, ToolCall{})
			a.seen = append(a.seen, false)
		}
		if !a.seen[d.Index] {
			id := d.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", d.Index)
			}
			a.calls[d.Index] = ToolCall{ID: id, Type: "function"}
			a.seen[d.Index] = true
		}
		if d.Function != nil {
			a.calls[d.Index].Function.Name += d.Function.Name
			a.calls[d.Index].Function.Arguments += d.Function.Arguments
		}
	}
}

// Calls returns the assembled calls in index order. Indexes the stream never
// touched are dropped.
func (a *Assembler) Calls() []ToolCall {
	var out []ToolCall
	for i, c := range a.calls {
		if a.seen[i] {
			out = append(out, c)
		}
	}
	return out
}
