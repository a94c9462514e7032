package mcp

// Session-propagation compatibility table. MCP server implementations in the
// wild disagree on where the session id travels, so every call carries it
// under all known aliases at once. This breadth is intentional; do not trim
// it to a single header without checking the providers it keeps working.
var sessionCompat = struct {
	headers  []string
	bodyKeys []string
}{
	headers:  []string{"Mcp-Session-Id", "X-Session-Id", "X-Session", "X-MCP-Session-Id"},
	bodyKeys: []string{"sessionId", "session_id"},
}

const (
	acceptDefault    = "application/json; charset=utf-8, text/event-stream"
	acceptPermissive = "application/json; q=0.9, text/event-stream; q=0.8, */*; q=0.1"
)
