package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func toolServer(t *testing.T, tools string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(sessionAware(t, "s", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-Method") != "tools/list" {
			t.Errorf("unexpected method %q", r.Header.Get("X-Test-Method"))
		}
		fmt.Fprintf(w, `{"result":{"tools":%s}}`, tools)
	}))
}

func TestReloadRegistersTools(t *testing.T) {
	srv := toolServer(t, `[{"name":"search","description":"find things","inputSchema":{"type":"object"}},{"name":"fetch","description":"get a url"}]`)
	defer srv.Close()

	r := NewRegistry(newTestClient(srv))
	results := r.Reload(context.Background(), []Provider{{Name: "P", URL: srv.URL}})

	if len(results) != 1 || !results[0].Success || results[0].ToolCount != 2 {
		t.Fatalf("results = %+v", results)
	}
	ref, ok := r.Lookup("search")
	if !ok || ref.ProviderName != "P" || ref.URL != srv.URL {
		t.Errorf("lookup search = %+v, %v", ref, ok)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d", r.Len())
	}
}

func TestReloadIsolatesProviderFailures(t *testing.T) {
	good := toolServer(t, `[{"name":"alpha"}]`)
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusInternalServerError)
	}))
	defer bad.Close()

	r := NewRegistry(newTestClient(good))
	results := r.Reload(context.Background(), []Provider{
		{Name: "A", URL: good.URL},
		{Name: "B", URL: bad.URL},
	})

	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if !results[0].Success {
		t.Errorf("provider A should have succeeded: %+v", results[0])
	}
	if results[1].Success || results[1].Error == "" {
		t.Errorf("provider B should have failed with an error: %+v", results[1])
	}

	if _, ok := r.Lookup("alpha"); !ok {
		t.Error("tool from the healthy provider is missing")
	}
	if r.Len() != 1 {
		t.Errorf("registry should hold only A's tools, len = %d", r.Len())
	}
}

func TestReloadReplacesStaleEntries(t *testing.T) {
	first := toolServer(t, `[{"name":"old_tool"}]`)
	defer first.Close()
	second := toolServer(t, `[{"name":"new_tool"}]`)
	defer second.Close()

	r := NewRegistry(newTestClient(first))
	r.Reload(context.Background(), []Provider{{Name: "P", URL: first.URL}})
	r.Reload(context.Background(), []Provider{{Name: "Q", URL: second.URL}})

	if _, ok := r.Lookup("old_tool"); ok {
		t.Error("stale entry survived the reload")
	}
	if _, ok := r.Lookup("new_tool"); !ok {
		t.Error("fresh entry missing after reload")
	}
}

func TestReloadDuplicateToolLastWriterWins(t *testing.T) {
	first := toolServer(t, `[{"name":"shared"}]`)
	defer first.Close()
	second := toolServer(t, `[{"name":"shared"}]`)
	defer second.Close()

	r := NewRegistry(newTestClient(first))
	r.Reload(context.Background(), []Provider{
		{Name: "First", URL: first.URL},
		{Name: "Second", URL: second.URL},
	})

	ref, ok := r.Lookup("shared")
	if !ok {
		t.Fatal("shared tool missing")
	}
	if ref.ProviderName != "Second" {
		t.Errorf("expected configuration-order last writer, got %q", ref.ProviderName)
	}
}

func TestReloadSkipsProvidersWithoutURL(t *testing.T) {
	r := NewRegistry(NewClient(http.DefaultClient, NewSessionManager(http.DefaultClient)))
	results := r.Reload(context.Background(), []Provider{{Name: "NoURL"}})

	if len(results) != 1 || results[0].Success {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Error == "" {
		t.Error("expected an error for the unconfigured provider")
	}
}
