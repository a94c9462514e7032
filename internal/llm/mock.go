package llm

import (
	"context"
	"fmt"
)

// Mock echoes the last user message back as a single delta. It keeps the
// gateway usable before credentials are configured.
type Mock struct{}

func (Mock) StreamCompletion(ctx context.Context, messages []Message, tools []Tool, onDelta func(string)) (*Completion, error) {
	prompt := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != nil {
			prompt = *messages[i].Content
			break
		}
	}
	reply := fmt.Sprintf("Echo (mock model): %s", prompt)
	if onDelta != nil {
		onDelta(reply)
	}
	return &Completion{Content: reply}, nil
}
