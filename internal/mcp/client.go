// Package mcp speaks JSON-RPC 2.0 over HTTP to remote MCP tool providers,
// negotiating sessions across the protocol variants seen in the wild and
// maintaining the tool-name-to-provider registry.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

var missingSessionRe = regexp.MustCompile(`(?i)Missing\s+session\s+ID`)

func isSessionMethod(method string) bool {
	switch method {
	case "initialize", "notifications/initialized":
		return true
	}
	for _, m := range legacySessionMethods {
		if method == m {
			return true
		}
	}
	return false
}

// Client performs single JSON-RPC calls against provider endpoints, with a
// content-negotiation retry on 406 and a one-shot session-recovery retry on
// a 400 that reports a missing session id.
type Client struct {
	hc       *http.Client
	sessions *SessionManager
}

func NewClient(hc *http.Client, sessions *SessionManager) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{hc: hc, sessions: sessions}
}

// Call posts {jsonrpc:"2.0", id:1, method, params} to endpoint and returns
// the response's result field if present, else its error field, else the
// whole body. A non-nil error is raised only for unrecoverable HTTP or
// transport failures.
func (c *Client) Call(ctx context.Context, endpoint, method string, params map[string]any, credential string) (json.RawMessage, error) {
	var s Session
	if !isSessionMethod(method) {
		s = c.sessions.EnsureSession(ctx, endpoint, credential)
	}

	resp, err := c.send(ctx, endpoint, method, params, credential, s, acceptDefault)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	// Some servers enforce content negotiation strictly; retry once with an
	// explicit quality-weighted list ending in a wildcard.
	if resp.StatusCode == http.StatusNotAcceptable {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		resp, err = c.send(ctx, endpoint, method, params, credential, s, acceptPermissive)
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}
	}

	if resp.StatusCode == http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !missingSessionRe.Match(body) {
			return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
		}
		// Server lost or never had our session: renegotiate and retry the
		// original call exactly once with the fresh id.
		c.sessions.Invalidate(endpoint)
		s = c.sessions.EnsureSession(ctx, endpoint, credential)
		resp, err = c.send(ctx, endpoint, method, params, credential, s, acceptDefault)
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	return unwrap(decodeBody(body)), nil
}

func (c *Client) send(ctx context.Context, endpoint, method string, params map[string]any, credential string, s Session, accept string) (*http.Response, error) {
	rpc := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	if s.ID != "" && !isSessionMethod(method) {
		merged := make(map[string]any, len(params)+len(sessionCompat.bodyKeys))
		for k, v := range params {
			merged[k] = v
		}
		for _, key := range sessionCompat.bodyKeys {
			if _, ok := merged[key]; !ok {
				merged[key] = s.ID
			}
		}
		rpc.Params = merged
	}

	body, err := json.Marshal(rpc)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	applyCredential(req.Header, credential)
	applySession(req.Header, s)

	return c.hc.Do(req)
}

func applyCredential(h http.Header, credential string) {
	if credential == "" {
		return
	}
	h.Set("Authorization", "Bearer "+credential)
	h.Set("X-API-Key", credential)
}

func applySession(h http.Header, s Session) {
	if s.ID == "" {
		return
	}
	for _, name := range sessionCompat.headers {
		h.Set(name, s.ID)
	}
	if s.Cookie != "" {
		h.Set("Cookie", s.Cookie)
	} else {
		h.Set("Cookie", "sessionId="+s.ID)
	}
}

// decodeBody accepts either a plain JSON body or a single SSE-framed body,
// in which case the first data: line is the payload.
func decodeBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data: ") {
			return json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}
	return trimmed
}

// unwrap returns payload.result if present, else payload.error, else the
// payload itself.
func unwrap(payload json.RawMessage) json.RawMessage {
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return payload
	}
	if len(envelope.Result) > 0 && !bytes.Equal(envelope.Result, []byte("null")) {
		return envelope.Result
	}
	if len(envelope.Error) > 0 && !bytes.Equal(envelope.Error, []byte("null")) {
		return envelope.Error
	}
	return payload
}

// CatalogEntry is one tool as declared by a provider's tools/list.
type CatalogEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListTools fetches the provider's tool catalog.
func (c *Client) ListTools(ctx context.Context, endpoint, credential string) ([]CatalogEntry, error) {
	raw, err := c.Call(ctx, endpoint, "tools/list", map[string]any{}, credential)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []CatalogEntry `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list response: %w", err)
	}
	if result.Tools == nil {
		return nil, fmt.Errorf("invalid tools/list response: no tools array")
	}
	return result.Tools, nil
}

// CallTool invokes a named tool with already-parsed arguments.
func (c *Client) CallTool(ctx context.Context, endpoint, credential, name string, args map[string]any) (json.RawMessage, error) {
	return c.Call(ctx, endpoint, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, credential)
}
