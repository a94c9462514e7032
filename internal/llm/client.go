package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultMaxTokens = 800

// Mode selects how the request is shaped toward the backend.
type Mode string

const (
	// ModeOpenAI posts to baseURL + /chat/completions with a bearer token.
	ModeOpenAI Mode = "openai"
	// ModeAzure posts to a fixed full endpoint URL with an api-key header.
	// Azure rejects a model field in the body; the deployment is in the URL.
	ModeAzure Mode = "azure"
)

// BackendError is a non-2xx response from the backend before any streaming
// started. It aborts the turn.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("model API error: %d %s", e.Status, e.Body)
}

// Client streams chat completions from an OpenAI-compatible backend.
// The streaming and fragment-assembly path is shared by both modes; they
// differ only in URL construction and the authentication header.
type Client struct {
	mode      Mode
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	hc        *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient builds a streaming client. For ModeOpenAI baseURL is the API
// base (e.g. https://api.openai.com/v1); for ModeAzure it is the complete
// chat-completions endpoint including deployment and api-version.
func NewClient(mode Mode, baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		mode:      mode,
		apiKey:    apiKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		model:     model,
		maxTokens: defaultMaxTokens,
		hc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Model      string    `json:"model,omitempty"`
	Messages   []Message `json:"messages"`
	MaxTokens  int       `json:"max_tokens"`
	Stream     bool      `json:"stream"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
}

type chunk struct {
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Delta chunkDelta `json:"delta"`
}

type chunkDelta struct {
	Content   string          `json:"content"`
	ToolCalls []ToolCallDelta `json:"tool_calls"`
}

// StreamCompletion issues the request with stream:true and consumes the
// response as data: frames up to the [DONE] sentinel. Malformed frames are
// skipped; the stream itself is never aborted by one bad frame.
func (c *Client) StreamCompletion(ctx context.Context, messages []Message, tools []Tool, onDelta func(string)) (*Completion, error) {
	req := completionRequest{
		Messages:  messages,
		MaxTokens: c.maxTokens,
		Stream:    true,
	}
	if c.mode != ModeAzure {
		req.Model = c.model
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.mode == ModeAzure {
		httpReq.Header.Set("api-key", c.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Status: resp.StatusCode, Body: string(b)}
	}

	return decodeStream(resp.Body, onDelta)
}

func (c *Client) endpoint() string {
	if c.mode == ModeAzure {
		return c.baseURL
	}
	return c.baseURL + "/chat/completions"
}

// decodeStream reads newline-delimited "data: <json>" frames, forwarding
// content deltas and feeding tool-call fragments into the assembler.
func decodeStream(body io.Reader, onDelta func(string)) (*Completion, error) {
	scanner := bufio.NewScanner(body)
	// Frames carrying large tool arguments can exceed the default buffer.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	var asm Assembler

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ch chunk
		if err := json.Unmarshal([]byte(data), &ch); err != nil {
			continue
		}
		if len(ch.Choices) == 0 {
			continue
		}
		delta := ch.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		if len(delta.ToolCalls) > 0 {
			asm.Add(delta.ToolCalls)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	return &Completion{Content: content.String(), ToolCalls: asm.Calls()}, nil
}
