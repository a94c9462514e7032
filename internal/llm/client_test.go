package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func streamHandler(t *testing.T, frames []string, check func(*http.Request)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestStreamCompletionContentDeltas(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"choices":[{"delta":{"content":"hi "}}]}`,
		`{"choices":[{"delta":{"content":"there"}}]}`,
	}, nil))
	defer srv.Close()

	c := NewClient(ModeOpenAI, srv.URL, "key", "gpt-4o", WithHTTPClient(srv.Client()))

	var deltas []string
	comp, err := c.StreamCompletion(context.Background(), []Message{Text("user", "hello")}, nil, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(deltas, []string{"hi ", "there"}) {
		t.Errorf("deltas = %v", deltas)
	}
	if comp.Content != "hi there" {
		t.Errorf("content = %q", comp.Content)
	}
	if len(comp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %+v", comp.ToolCalls)
	}
}

func TestStreamCompletionAssemblesToolCalls(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"sea"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"rch","arguments":"{\"query\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
	}, nil))
	defer srv.Close()

	c := NewClient(ModeOpenAI, srv.URL, "key", "gpt-4o", WithHTTPClient(srv.Client()))

	comp, err := c.StreamCompletion(context.Background(), []Message{Text("user", "weather?")}, []Tool{{Type: "function"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(comp.ToolCalls))
	}
	call := comp.ToolCalls[0]
	if call.Function.Name != "search" {
		t.Errorf("name = %q", call.Function.Name)
	}
	if call.Function.Arguments != `{"query":"x"}` {
		t.Errorf("arguments = %q", call.Function.Arguments)
	}
}

func TestStreamCompletionSkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"choices":[{"delta":{"content":"ok"}}]}`,
		`{not json`,
		`{"choices":[{"delta":{"content":"!"}}]}`,
	}, nil))
	defer srv.Close()

	c := NewClient(ModeOpenAI, srv.URL, "key", "gpt-4o", WithHTTPClient(srv.Client()))

	comp, err := c.StreamCompletion(context.Background(), []Message{Text("user", "hi")}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Content != "ok!" {
		t.Errorf("content = %q", comp.Content)
	}
}

func TestStreamCompletionOpenAIRequestShape(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(streamHandler(t, nil, func(r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := NewClient(ModeOpenAI, srv.URL+"/v1", "sk-test", "gpt-4o", WithHTTPClient(srv.Client()))
	if _, err := c.StreamCompletion(context.Background(), []Message{Text("user", "hi")}, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestStreamCompletionAzureRequestShape(t *testing.T) {
	var gotPath, gotKey, gotAuth string
	srv := httptest.NewServer(streamHandler(t, nil, func(r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	endpoint := srv.URL + "/openai/deployments/gpt-4o/chat/completions?api-version=2024-05-01-preview"
	c := NewClient(ModeAzure, endpoint, "azure-key", "", WithHTTPClient(srv.Client()))
	if _, err := c.StreamCompletion(context.Background(), []Message{Text("user", "hi")}, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotPath, "api-version=2024-05-01-preview") {
		t.Errorf("azure endpoint not used verbatim: %q", gotPath)
	}
	if gotKey != "azure-key" {
		t.Errorf("api-key = %q", gotKey)
	}
	if gotAuth != "" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
}

func TestStreamCompletionBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ModeOpenAI, srv.URL, "key", "gpt-4o", WithHTTPClient(srv.Client()))

	_, err := c.StreamCompletion(context.Background(), []Message{Text("user", "hi")}, nil, nil)
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", be.Status)
	}
	if !strings.Contains(be.Body, "upstream exploded") {
		t.Errorf("body = %q", be.Body)
	}
}
