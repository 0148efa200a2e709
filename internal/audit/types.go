// Package audit provides structured audit logging for tool invocations,
// permission decisions, and thread lifecycle events.
package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	EventToolInvocation EventType = "tool.invocation"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"

	EventPermissionGranted EventType = "permission.granted"
	EventPermissionDenied  EventType = "permission.denied"

	EventThreadClosed EventType = "thread.closed"

	EventGatewayError EventType = "gateway.error"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Level      Level          `json:"level"`
	Timestamp  time.Time      `json:"timestamp"`
	ThreadID   string         `json:"thread_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Action     string         `json:"action"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config controls audit logging behavior.
type Config struct {
	Enabled bool
	Level   Level
	Format  Format
	// Output is "stdout", "stderr", or "file:<path>".
	Output string
	// BufferSize bounds the async event queue.
	BufferSize int
	// FlushInterval drains the buffer even when quiet.
	FlushInterval time.Duration
	// IncludeToolInput logs raw tool arguments; otherwise only a hash is
	// recorded.
	IncludeToolInput bool
	// IncludeToolOutput logs tool output up to MaxFieldSize.
	IncludeToolOutput bool
	// MaxFieldSize truncates logged inputs and outputs.
	MaxFieldSize int
}
