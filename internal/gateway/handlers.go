package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"spockchat/internal/agent"
	"spockchat/internal/llm"
	"spockchat/internal/mcp"
)

type chatRequest struct {
	Prompt    string        `json:"prompt"`
	SessionID string        `json:"sessionId"`
	Messages  []llm.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"missing prompt"}`, http.StatusBadRequest)
		return
	}

	sse := NewSSEWriter(w)
	var sentError bool

	err := s.runner.Run(r.Context(), req.SessionID, req.Prompt, req.Messages, func(ev agent.Event) {
		switch ev.Type {
		case agent.EventText:
			sse.SendData(ev.Data)
		case agent.EventToolCall:
			sse.Send("toolcall", ev.Data)
		case agent.EventToolResult:
			sse.Send("toolresult", ev.Data)
		case agent.EventMeta:
			sse.Send("meta", ev.Data)
		case agent.EventError:
			sentError = true
			sse.Send("error", map[string]any{"message": ev.Data})
		case agent.EventDone:
			sse.Send("done", map[string]any{})
		}
	})

	if err != nil && !sentError {
		sse.Send("error", map[string]any{"message": err.Error()})
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	results := s.registry.Reload(r.Context(), s.providers)
	s.SetInitResults(results)

	toolCount := s.registry.Len()
	var failed []string
	for _, res := range results {
		if !res.Success {
			failed = append(failed, res.ProviderName)
		}
	}

	resp := map[string]any{
		"success":   len(failed) == 0,
		"toolCount": toolCount,
		"results":   results,
	}
	if len(failed) > 0 {
		resp["message"] = fmt.Sprintf("Loaded %d tools, but %d server(s) failed: %s",
			toolCount, len(failed), strings.Join(failed, ", "))
	} else {
		resp["message"] = fmt.Sprintf("Successfully loaded %d tools from %d server(s)",
			toolCount, len(results))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if len(s.providers) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "No MCP servers configured",
			"tools":   []any{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tools":   s.registry.List(),
	})
}

type testRequest struct {
	Method     string         `json:"method"`
	Params     map[string]any `json:"params"`
	ServerName string         `json:"serverName"`
}

// handleTest runs an ad-hoc JSON-RPC call against a configured provider,
// a debugging aid for new server setups.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}

	provider, ok := s.findProvider(req.ServerName)
	if !ok {
		status := http.StatusBadRequest
		msg := "No MCP server URL available"
		if req.ServerName != "" {
			msg = fmt.Sprintf("Server %q not found", req.ServerName)
		}
		writeJSON(w, status, map[string]any{"success": false, "error": msg})
		return
	}

	method := req.Method
	if method == "" {
		method = "tools/list"
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	result, err := s.mcpClient.Call(r.Context(), provider.URL, method, params, provider.Credential)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) handleInitStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	results := s.lastReload
	s.mu.Unlock()
	if results == nil {
		results = []mcp.ReloadResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "transcript store disabled"})
		return
	}
	turns, err := s.store.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) findProvider(name string) (mcp.Provider, bool) {
	for _, p := range s.providers {
		if p.URL == "" {
			continue
		}
		if name == "" || p.Name == name {
			return p, true
		}
	}
	return mcp.Provider{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
