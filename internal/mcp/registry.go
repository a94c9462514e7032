package mcp

import (
	"context"
	"log/slog"
	"sync"
)

// Provider is one configured MCP server.
type Provider struct {
	Name       string
	URL        string
	Credential string
}

// ProviderRef is what a tool name resolves to.
type ProviderRef struct {
	ProviderName string
	URL          string
	Credential   string
}

// ReloadResult reports one provider's outcome during a registry rebuild.
type ReloadResult struct {
	ProviderName string `json:"serverName"`
	URL          string `json:"url,omitempty"`
	Success      bool   `json:"success"`
	ToolCount    int    `json:"toolCount,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RegistryEntry is a catalog entry annotated with its owning provider,
// exposed for introspection.
type RegistryEntry struct {
	CatalogEntry
	ProviderName string `json:"serverName"`
}

// Registry maps tool names to the provider that implements them. The live
// map is replaced wholesale on Reload, never merged, so lookups can't see
// a mix of generations. Safe for concurrent readers with one reloader.
type Registry struct {
	client *Client

	mu      sync.RWMutex
	byName  map[string]ProviderRef
	catalog []RegistryEntry
}

func NewRegistry(client *Client) *Registry {
	return &Registry{
		client: client,
		byName: make(map[string]ProviderRef),
	}
}

// Reload queries every provider's tool catalog and rebuilds the registry.
// One provider's failure never aborts the reload; its error is recorded
// and the next provider is attempted. After Reload returns, the registry
// holds exactly the union of the successful providers' tools. Duplicate
// tool names resolve to the last provider in configuration order.
func (r *Registry) Reload(ctx context.Context, providers []Provider) []ReloadResult {
	results := make([]ReloadResult, 0, len(providers))
	next := make(map[string]ProviderRef)
	var catalog []RegistryEntry

	for _, p := range providers {
		if p.URL == "" {
			results = append(results, ReloadResult{
				ProviderName: p.Name,
				Error:        "No HTTP URL configured",
			})
			continue
		}

		tools, err := r.client.ListTools(ctx, p.URL, p.Credential)
		if err != nil {
			slog.Warn("mcp reload: provider failed", "provider", p.Name, "error", err)
			results = append(results, ReloadResult{
				ProviderName: p.Name,
				URL:          p.URL,
				Error:        err.Error(),
			})
			continue
		}

		for _, t := range tools {
			next[t.Name] = ProviderRef{
				ProviderName: p.Name,
				URL:          p.URL,
				Credential:   p.Credential,
			}
			catalog = append(catalog, RegistryEntry{CatalogEntry: t, ProviderName: p.Name})
		}
		results = append(results, ReloadResult{
			ProviderName: p.Name,
			URL:          p.URL,
			Success:      true,
			ToolCount:    len(tools),
		})
	}

	r.mu.Lock()
	r.byName = next
	r.catalog = catalog
	r.mu.Unlock()

	return results
}

// Lookup resolves a tool name to its provider.
func (r *Registry) Lookup(toolName string) (ProviderRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.byName[toolName]
	return ref, ok
}

// List returns the current catalog snapshot.
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// Len reports how many tools are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
