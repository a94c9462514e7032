package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

var legacySessionMethods = []string{"session/create", "session/start", "sessions/create"}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var selfInfo = clientInfo{Name: "spockchat", Version: "0.1.0"}

// Session is the cached negotiation state for one provider endpoint.
type Session struct {
	ID     string
	Cookie string
}

// sessionEntry holds one endpoint's cached session and the lock that
// serializes negotiation against that endpoint only.
type sessionEntry struct {
	mu    sync.Mutex
	ready bool
	s     Session
}

// SessionManager caches one session per provider endpoint. Negotiation is
// attempted over the structured initialize handshake first, then a short
// list of legacy session-creation methods, and finally falls back to a
// locally synthesized id, so EnsureSession never fails.
//
// Locking is per endpoint: the manager's own mutex guards only the map, so
// a slow negotiation against one provider never delays cache hits or
// negotiations for another.
type SessionManager struct {
	hc *http.Client

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func NewSessionManager(hc *http.Client) *SessionManager {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &SessionManager{
		hc:      hc,
		entries: make(map[string]*sessionEntry),
	}
}

func (m *SessionManager) entry(endpoint string) *sessionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[endpoint]
	if !ok {
		e = &sessionEntry{}
		m.entries[endpoint] = e
	}
	return e
}

// EnsureSession returns the cached session for endpoint, negotiating one if
// none exists. Repeated calls without an intervening Invalidate are pure
// cache hits. Concurrent callers for the same endpoint share one
// negotiation; callers for other endpoints proceed independently.
func (m *SessionManager) EnsureSession(ctx context.Context, endpoint, credential string) Session {
	e := m.entry(endpoint)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return e.s
	}
	e.s = m.negotiate(ctx, endpoint, credential)
	e.ready = true
	return e.s
}

// Invalidate drops the cached session so the next call renegotiates.
// Called when a provider reports the session as missing mid-call.
func (m *SessionManager) Invalidate(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, endpoint)
}

func (m *SessionManager) negotiate(ctx context.Context, endpoint, credential string) Session {
	if s, ok := m.initialize(ctx, endpoint, credential); ok {
		slog.Debug("mcp session negotiated", "endpoint", endpoint, "strategy", "initialize")
		return s
	}

	for _, method := range legacySessionMethods {
		if s, ok := m.createSession(ctx, endpoint, credential, method); ok {
			slog.Debug("mcp session negotiated", "endpoint", endpoint, "strategy", method)
			return s
		}
	}

	// The provider may accept client-chosen ids; synthesize one so callers
	// can always proceed.
	s := Session{ID: uuid.NewString()}
	slog.Debug("mcp session synthesized locally", "endpoint", endpoint, "session_id", s.ID)
	return s
}

// initialize performs the structured MCP handshake: an initialize call whose
// session id arrives in a response header or body field, followed by a
// fire-and-forget initialized notification.
func (m *SessionManager) initialize(ctx context.Context, endpoint, credential string) (Session, bool) {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      selfInfo,
	}
	resp, err := m.post(ctx, endpoint, credential, Session{}, rpcRequest{
		JSONRPC: "2.0", ID: 1, Method: "initialize", Params: params,
	})
	if err != nil {
		return Session{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Session{}, false
	}

	s := Session{
		ID:     resp.Header.Get("Mcp-Session-Id"),
		Cookie: resp.Header.Get("Set-Cookie"),
	}

	body, err := io.ReadAll(resp.Body)
	if err == nil && s.ID == "" {
		s.ID = sessionIDFromBody(body)
	}
	if s.ID == "" {
		return Session{}, false
	}

	m.notifyInitialized(ctx, endpoint, credential, s)
	return s, true
}

func (m *SessionManager) createSession(ctx context.Context, endpoint, credential, method string) (Session, bool) {
	params := map[string]any{"clientInfo": selfInfo}
	resp, err := m.post(ctx, endpoint, credential, Session{}, rpcRequest{
		JSONRPC: "2.0", ID: 1, Method: method, Params: params,
	})
	if err != nil {
		return Session{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Session{}, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, false
	}
	id := sessionIDFromBody(body)
	if id == "" {
		return Session{}, false
	}
	return Session{ID: id, Cookie: resp.Header.Get("Set-Cookie")}, true
}

// notifyInitialized completes the handshake. The notification carries no id
// and its response is ignored.
func (m *SessionManager) notifyInitialized(ctx context.Context, endpoint, credential string, s Session) {
	resp, err := m.post(ctx, endpoint, credential, s, rpcRequest{
		JSONRPC: "2.0", Method: "notifications/initialized",
	})
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (m *SessionManager) post(ctx context.Context, endpoint, credential string, s Session, rpc rpcRequest) (*http.Response, error) {
	body, err := json.Marshal(rpc)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptDefault)
	applyCredential(req.Header, credential)
	applySession(req.Header, s)
	return m.hc.Do(req)
}

// sessionIDFromBody digs a session id out of a negotiation response,
// tolerating both result-wrapped and bare shapes and several field names.
func sessionIDFromBody(body []byte) string {
	payload := decodeBody(body)

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	if len(envelope.Result) > 0 && string(envelope.Result) != "null" {
		payload = envelope.Result
	}

	var fields struct {
		SessionID  string `json:"sessionId"`
		SessionID2 string `json:"session_id"`
		SessionID3 string `json:"sessionID"`
		ID         any    `json:"id"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	switch {
	case fields.SessionID != "":
		return fields.SessionID
	case fields.SessionID2 != "":
		return fields.SessionID2
	case fields.SessionID3 != "":
		return fields.SessionID3
	}
	if id, ok := fields.ID.(string); ok {
		return id
	}
	return ""
}
