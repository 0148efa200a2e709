package provider

import (
	"encoding/json"
	"strings"
)

// Block is one element of a block-structured response content list. Only text
// blocks contribute to the flattened answer; tool_use blocks are surfaced as
// ToolCalls by the adapter that parsed them.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// FlattenContent projects a vendor content field to plain text. The field may
// be a string, a list of blocks, or absent; an empty or unrecognized value
// yields "" rather than a sentinel.
func FlattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, blk := range blocks {
			if blk.Type == "" || blk.Type == "text" {
				b.WriteString(blk.Text)
			}
		}
		return b.String()
	}
	return ""
}
