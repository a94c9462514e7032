package mcp

import "fmt"

// HTTPError is a non-2xx response from a tool provider that was not
// recoverable by the content-negotiation or session retry paths.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mcp http error: %d %s", e.Status, e.Body)
}

// TransportError is a network-level failure (DNS, timeout, reset) against
// a tool provider.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp transport error for %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
