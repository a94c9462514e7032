package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decodeRPC(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decoding rpc request: %v", err)
	}
	return req
}

func TestEnsureSessionInitializeHandshake(t *testing.T) {
	var initCount, notifyCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		switch req.Method {
		case "initialize":
			initCount++
			w.Header().Set("Mcp-Session-Id", "sess-123")
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05"}}`)
		case "notifications/initialized":
			notifyCount++
			if got := r.Header.Get("Mcp-Session-Id"); got != "sess-123" {
				t.Errorf("initialized notification missing session header, got %q", got)
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
	}))
	defer srv.Close()

	m := NewSessionManager(srv.Client())
	s := m.EnsureSession(context.Background(), srv.URL, "")
	if s.ID != "sess-123" {
		t.Fatalf("session id = %q", s.ID)
	}
	if initCount != 1 || notifyCount != 1 {
		t.Errorf("handshake counts: initialize=%d initialized=%d", initCount, notifyCount)
	}
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	var negotiations int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		if req.Method == "initialize" {
			negotiations++
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"sessionId":"once"}}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSessionManager(srv.Client())
	first := m.EnsureSession(context.Background(), srv.URL, "")
	second := m.EnsureSession(context.Background(), srv.URL, "")

	if first.ID != "once" || second.ID != "once" {
		t.Errorf("ids: %q, %q", first.ID, second.ID)
	}
	if negotiations != 1 {
		t.Errorf("expected exactly one negotiation, got %d", negotiations)
	}
}

func TestEnsureSessionLegacyMethodFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		switch req.Method {
		case "initialize", "session/create":
			http.Error(w, "method not found", http.StatusNotFound)
		case "session/start":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"session_id":"legacy-42"}}`)
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
	}))
	defer srv.Close()

	m := NewSessionManager(srv.Client())
	s := m.EnsureSession(context.Background(), srv.URL, "")
	if s.ID != "legacy-42" {
		t.Errorf("session id = %q", s.ID)
	}
}

func TestEnsureSessionSynthesizesWhenAllStrategiesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewSessionManager(srv.Client())
	s := m.EnsureSession(context.Background(), srv.URL, "")
	if s.ID == "" {
		t.Fatal("fallback did not synthesize a session id")
	}

	// The synthesized id is cached like any other.
	again := m.EnsureSession(context.Background(), srv.URL, "")
	if again.ID != s.ID {
		t.Errorf("synthesized id not cached: %q then %q", s.ID, again.ID)
	}
}

func TestEnsureSessionIsolatesEndpoints(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"sessionId":"slow"}}`)
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		if req.Method == "initialize" {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"sessionId":"fast"}}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer fast.Close()

	m := NewSessionManager(nil)
	warm := m.EnsureSession(context.Background(), fast.URL, "")

	negotiating := make(chan struct{})
	go func() {
		close(negotiating)
		m.EnsureSession(context.Background(), slow.URL, "")
	}()
	<-negotiating
	// Give the goroutine time to reach the provider and park there.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	got := m.EnsureSession(context.Background(), fast.URL, "")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cache hit took %v while another endpoint was negotiating", elapsed)
	}
	if got.ID != warm.ID {
		t.Errorf("cache hit returned %q, warmed session was %q", got.ID, warm.ID)
	}
}

func TestInvalidateForcesRenegotiation(t *testing.T) {
	var negotiations int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		if req.Method == "initialize" {
			negotiations++
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"sessionId":"gen-%d"}}`, negotiations)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSessionManager(srv.Client())
	first := m.EnsureSession(context.Background(), srv.URL, "")
	m.Invalidate(srv.URL)
	second := m.EnsureSession(context.Background(), srv.URL, "")

	if first.ID == second.ID {
		t.Errorf("expected a fresh session after invalidation, got %q twice", first.ID)
	}
	if negotiations != 2 {
		t.Errorf("negotiations = %d", negotiations)
	}
}
