package orchestrator

import "github.com/canopybank/llm-gateway/internal/provider"

// Sanitize repairs the transcript for the adapter's tool schema. Transcripts
// can accumulate tool messages from earlier providers or truncated turns;
// vendors reject tool records that do not pair with a preceding tool-call
// declaration, so orphans are dropped before every call.
func Sanitize(messages []provider.Message, schema provider.ToolSchema) []provider.Message {
	switch schema {
	case provider.ToolSchemaFunctions:
		return sanitizeFunctions(messages)
	case provider.ToolSchemaBlocks:
		return sanitizeBlocks(messages)
	default:
		// Text schema: the adapter inlines tool records itself.
		return messages
	}
}

// sanitizeFunctions keeps a tool message only when the immediately preceding
// assistant turn declared a matching tool-call id.
func sanitizeFunctions(messages []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(messages))
	pending := map[string]bool{}
	for _, msg := range messages {
		switch {
		case msg.Role == provider.RoleAssistant && len(msg.ToolCalls) > 0:
			pending = make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
			out = append(out, msg)
		case msg.Role == provider.RoleTool:
			if pending[msg.ToolCallID] {
				out = append(out, msg)
			}
		default:
			pending = map[string]bool{}
			out = append(out, msg)
		}
	}
	return out
}

// sanitizeBlocks keeps tool messages only when they follow an assistant turn
// that declared tool calls. Consecutive tool messages after one declaration
// are all kept; the adapter renders them as user-role result blocks.
func sanitizeBlocks(messages []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(messages))
	afterToolCalls := false
	for _, msg := range messages {
		switch {
		case msg.Role == provider.RoleAssistant && len(msg.ToolCalls) > 0:
			afterToolCalls = true
			out = append(out, msg)
		case msg.Role == provider.RoleTool:
			if afterToolCalls {
				out = append(out, msg)
			}
		default:
			afterToolCalls = false
			out = append(out, msg)
		}
	}
	return out
}
