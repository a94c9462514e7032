package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"spockchat/internal/agent"
	"spockchat/internal/config"
	"spockchat/internal/db"
	"spockchat/internal/gateway"
	"spockchat/internal/history"
	"spockchat/internal/llm"
	"spockchat/internal/mcp"
	"spockchat/internal/trace"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var addr string

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if addr != "" {
			cfg.Gateway.Addr = addr
		}

		ctx := cmd.Context()

		if cfg.Trace.Endpoint != "" {
			shutdown, err := trace.Init(ctx, trace.Config{
				Endpoint: cfg.Trace.Endpoint,
				URLPath:  cfg.Trace.URLPath,
				APIKey:   cfg.Trace.APIKey,
			})
			if err != nil {
				return fmt.Errorf("initializing tracing: %w", err)
			}
			defer shutdown(context.Background())
		}

		provider, err := buildProvider(cfg)
		if err != nil {
			return err
		}

		// Tool calls get a generous fixed timeout; the LLM stream is
		// bounded by the backend's own termination instead.
		mcpHC := &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		sessions := mcp.NewSessionManager(mcpHC)
		mcpClient := mcp.NewClient(mcpHC, sessions)
		registry := mcp.NewRegistry(mcpClient)

		providers := make([]mcp.Provider, 0, len(cfg.MCPServers))
		for _, srv := range cfg.MCPServers {
			providers = append(providers, mcp.Provider{
				Name:       srv.Name,
				URL:        srv.URL,
				Credential: srv.APIKey,
			})
		}

		store := openStore(cfg.DB.Path)

		runnerOpts := []agent.Option{}
		if store != nil {
			runnerOpts = append(runnerOpts, agent.WithStore(store))
		}
		runner := agent.NewTurnRunner(provider, registry, mcpClient, runnerOpts...)

		srv := gateway.NewServer(runner, registry, mcpClient, providers, store)

		if len(providers) > 0 {
			results := registry.Reload(ctx, providers)
			srv.SetInitResults(results)
			logReload(results, registry.Len())
		} else {
			slog.Info("no MCP servers configured, skipping tool load")
		}

		slog.Info("starting gateway", "addr", cfg.Gateway.Addr, "model", cfg.Model.Type)
		return srv.ListenAndServe(cfg.Gateway.Addr)
	},
}

func init() {
	Cmd.Flags().StringVarP(&addr, "addr", "a", "", "override gateway listen address")
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.Model.Type {
	case "", "mock":
		return llm.Mock{}, nil
	case "openai":
		if cfg.Model.APIKey == "" {
			return nil, fmt.Errorf("model api key not configured")
		}
		return llm.NewClient(llm.ModeOpenAI, cfg.Model.APIBase, cfg.Model.APIKey, cfg.Model.Model), nil
	case "azure":
		if cfg.Model.APIKey == "" {
			return nil, fmt.Errorf("model api key not configured")
		}
		return llm.NewClient(llm.ModeAzure, cfg.Model.APIBase, cfg.Model.APIKey, cfg.Model.Model), nil
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Model.Type)
	}
}

// openStore opens the transcript database. Persistence is best effort,
// so a failure only disables it.
func openStore(path string) *history.Store {
	database, err := db.Open(path)
	if err != nil {
		slog.Warn("transcript store disabled", "path", path, "error", err)
		return nil
	}
	if err := database.Migrate(); err != nil {
		slog.Warn("transcript store disabled", "path", path, "error", err)
		database.Close()
		return nil
	}
	return history.NewStore(database)
}

func logReload(results []mcp.ReloadResult, toolCount int) {
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
			slog.Warn("MCP server failed to load", "server", r.ProviderName, "error", r.Error)
		}
	}
	slog.Info("MCP initialization complete", "succeeded", succeeded, "failed", failed, "tools", toolCount)
}
