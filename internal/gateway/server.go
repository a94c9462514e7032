// Package gateway exposes the chat turn and MCP management surface over
// HTTP, relaying orchestrator events as server-sent event frames.
package gateway

import (
	"net/http"
	"sync"

	"spockchat/internal/agent"
	"spockchat/internal/history"
	"spockchat/internal/mcp"
)

type Server struct {
	runner    agent.Runner
	registry  *mcp.Registry
	mcpClient *mcp.Client
	providers []mcp.Provider
	store     *history.Store
	mux       *http.ServeMux

	mu         sync.Mutex
	lastReload []mcp.ReloadResult
}

func NewServer(runner agent.Runner, registry *mcp.Registry, mcpClient *mcp.Client, providers []mcp.Provider, store *history.Store) *Server {
	s := &Server{
		runner:    runner,
		registry:  registry,
		mcpClient: mcpClient,
		providers: providers,
		store:     store,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/mcp/reload", s.handleReload)
	s.mux.HandleFunc("GET /api/mcp/tools", s.handleTools)
	s.mux.HandleFunc("POST /api/mcp/test", s.handleTest)
	s.mux.HandleFunc("GET /api/mcp/init-status", s.handleInitStatus)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleTranscript)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// SetInitResults records the startup reload outcome for /api/mcp/init-status.
func (s *Server) SetInitResults(results []mcp.ReloadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReload = results
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}
