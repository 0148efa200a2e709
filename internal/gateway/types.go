package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/canopybank/llm-gateway/internal/provider"
)

// Request body bounds.
const (
	maxBodyBytes   = 1 << 20
	minMaxTokens   = 1
	maxMaxTokens   = 4096
	maxTemperature = 2.0
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the chat endpoint body. Exactly one of Messages or Prompt
// must be set.
type chatRequest struct {
	Messages        []chatMessage             `json:"messages,omitempty"`
	Prompt          string                    `json:"prompt,omitempty"`
	UseRAG          bool                      `json:"use_rag"`
	UseFunctions    bool                      `json:"use_functions"`
	Functions       []provider.ToolDescriptor `json:"functions,omitempty"`
	Stream          bool                      `json:"stream,omitempty"`
	Temperature     *float32                  `json:"temperature,omitempty"`
	MaxTokens       int                       `json:"max_tokens,omitempty"`
	ReasoningEffort string                    `json:"reasoning_effort,omitempty"`
	SessionID       string                    `json:"session_id,omitempty"`
}

func (r *chatRequest) validate() error {
	hasMessages := len(r.Messages) > 0
	hasPrompt := strings.TrimSpace(r.Prompt) != ""
	if hasMessages == hasPrompt {
		return fmt.Errorf("exactly one of messages or prompt is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > maxTemperature) {
		return fmt.Errorf("temperature must be between 0 and %g", maxTemperature)
	}
	if r.MaxTokens != 0 && (r.MaxTokens < minMaxTokens || r.MaxTokens > maxMaxTokens) {
		return fmt.Errorf("max_tokens must be between %d and %d", minMaxTokens, maxMaxTokens)
	}
	for _, msg := range r.Messages {
		switch msg.Role {
		case provider.RoleSystem, provider.RoleUser, provider.RoleAssistant:
		default:
			return fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return nil
}

// toMessages converts the body into internal messages.
func (r *chatRequest) toMessages() []provider.Message {
	if strings.TrimSpace(r.Prompt) != "" {
		return []provider.Message{{Role: provider.RoleUser, Content: r.Prompt}}
	}
	out := make([]provider.Message, 0, len(r.Messages))
	for _, msg := range r.Messages {
		out = append(out, provider.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// toolCallReport is the client-facing record of one tool call.
type toolCallReport struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments map[string]any  `json:"arguments"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ElapsedMS int64           `json:"elapsed_ms,omitempty"`
}

func reportToolCalls(results []provider.ToolCallResult) []toolCallReport {
	if len(results) == 0 {
		return nil
	}
	out := make([]toolCallReport, len(results))
	for i, res := range results {
		out[i] = toolCallReport{
			ID:        res.Call.ID,
			Name:      res.Call.Name,
			Arguments: res.Call.Args,
			Result:    res.Result,
			Error:     res.Error,
			ElapsedMS: res.Elapsed.Milliseconds(),
		}
	}
	return out
}

// chatResponse is the non-streaming chat reply.
type chatResponse struct {
	Response      string           `json:"response"`
	FunctionCalls []toolCallReport `json:"function_calls,omitempty"`
	SessionID     string           `json:"session_id"`
	RequestID     string           `json:"request_id,omitempty"`
	SessionEnded  bool             `json:"session_ended,omitempty"`
}

// switchModelRequest is the switch-model endpoint body.
type switchModelRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Validate bool   `json:"validate"`
}
