// Package provider defines the uniform adapter interface over the supported
// LLM vendors and the internal message, tool, and capability types exchanged
// between the orchestrator and the adapters.
package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Message roles used in the internal transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolSchema identifies the wire convention a vendor uses to express tool
// calls and their results inside the transcript.
type ToolSchema string

const (
	// ToolSchemaFunctions: assistant messages carry tool_calls[], each result
	// is a separate tool-role message bearing the originating call id.
	ToolSchemaFunctions ToolSchema = "functions"
	// ToolSchemaBlocks: assistant content mixes text and tool_use blocks,
	// results travel as user-role tool_result blocks referencing the use id.
	ToolSchemaBlocks ToolSchema = "blocks"
	// ToolSchemaText: no structured tool convention, results are inlined as
	// plain text in the transcript.
	ToolSchemaText ToolSchema = "text"
)

// Message is a role-tagged transcript record. It is the internal wire format
// between the orchestrator and the adapters; each adapter renders it into the
// vendor's native shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolCallResult pairs an executed call with its outcome for transcript
// feedback and response reporting.
type ToolCallResult struct {
	Call    ToolCall        `json:"call"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Elapsed time.Duration   `json:"-"`
	// Denied marks a call rejected by permission gating before execution.
	Denied bool `json:"-"`
}

// ToolDescriptor is the internal tool definition handed to adapters:
// Parameters is a JSON Schema object with properties and required.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Capabilities reports what a (provider, model) pair supports. One record per
// pair; computed by the registry from a provider rule table.
type Capabilities struct {
	Provider               string     `json:"provider"`
	Model                  string     `json:"model"`
	SupportsStreaming      bool       `json:"supports_streaming"`
	SupportsToolCalls      bool       `json:"supports_tool_calls"`
	SupportsSystemMessages bool       `json:"supports_system_messages"`
	SupportsReasoning      bool       `json:"supports_reasoning"`
	Schema                 ToolSchema `json:"tool_schema"`
	MaxContextLength       int        `json:"max_context_length"`
}

// ChatParams are the per-request generation parameters. Adapters consume only
// what their model family accepts; the rest is dropped at the adapter edge.
type ChatParams struct {
	Temperature     *float32
	MaxTokens       int
	ReasoningEffort string
	// ToolCallTurn marks a turn whose purpose is tool selection; adapters
	// clamp temperature toward determinism on such turns.
	ToolCallTurn bool
}

// TurnResult is the outcome of one model turn with tools enabled.
type TurnResult struct {
	Text      string
	ToolCalls []ToolCall
}

// StreamChunk is one element of the cooperative streaming sequence. The
// channel is closed after a chunk with Done set.
type StreamChunk struct {
	Text string
	Err  error
	Done bool
}

// ProbeResult reports a connectivity test against the configured model.
type ProbeResult struct {
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Sample  string        `json:"sample,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Adapter is the uniform interface each vendor implements. Adapters hold no
// per-request state and are safe for concurrent use.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// Chat runs a single tool-free turn and returns the answer text.
	Chat(ctx context.Context, messages []Message, params ChatParams) (string, error)

	// ChatWithTools runs one turn with tool definitions attached.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error)

	// ChatStream returns a lazy, finite sequence of text chunks. Adapters
	// without native streaming synthesize chunks from a completed response.
	ChatStream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamChunk, error)

	// Test issues a minimal probe request against the configured model.
	Test(ctx context.Context) (*ProbeResult, error)
}

// DecodeArgs parses a tool-call argument payload. Vendors emit either a JSON
// object or a JSON-encoded string; anything that fails to parse yields an
// empty map rather than an error so a malformed call still reaches the
// executor.
func DecodeArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m != nil {
		return m
	}
	// Double-encoded: a JSON string containing the object.
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		if err := json.Unmarshal([]byte(s), &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}

// MarshalArgs renders an argument map for vendor requests. Marshal failures
// degrade to an empty object.
func MarshalArgs(args map[string]any) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// LastUserContent returns the content of the most recent user message, or ""
// when none exists. Used as the default retrieval query.
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
