package agent

import "encoding/json"

// Tool results above this size are replaced by a marker object before being
// fed back to the backend, keeping follow-up requests inside context limits.
const maxToolResultBytes = 50_000

type truncatedResult struct {
	Truncated    bool   `json:"_truncated"`
	OriginalSize int    `json:"_originalSize"`
	Data         string `json:"data,omitempty"`
}

// truncateResult returns the LLM-bound and UI-bound copies of a serialized
// tool result. At or under the threshold both copies are the result itself.
// Over it, the LLM copy keeps a prefix of the raw data inside the marker
// object; the UI copy carries only the marker.
func truncateResult(raw json.RawMessage) (llmCopy, uiCopy json.RawMessage) {
	if len(raw) <= maxToolResultBytes {
		return raw, raw
	}

	llmCopy, _ = json.Marshal(truncatedResult{
		Truncated:    true,
		OriginalSize: len(raw),
		Data:         string(raw[:maxToolResultBytes]),
	})
	uiCopy, _ = json.Marshal(truncatedResult{
		Truncated:    true,
		OriginalSize: len(raw),
	})
	return llmCopy, uiCopy
}
