package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// capturedRequest is the subset of the chat-completions body the tests
// inspect.
type capturedRequest struct {
	Model               string           `json:"model"`
	Temperature         *float64         `json:"temperature,omitempty"`
	MaxTokens           int              `json:"max_tokens,omitempty"`
	MaxCompletionTokens int              `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string           `json:"reasoning_effort,omitempty"`
	Messages            []map[string]any `json:"messages"`
	Tools               []map[string]any `json:"tools,omitempty"`
}

func chatCompletionBody(content string, toolCalls ...map[string]any) map[string]any {
	message := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": "stop"},
		},
	}
}

func newMockOpenAI(t *testing.T, status int, body map[string]any, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func testAdapter(server *httptest.Server, caps Capabilities) Adapter {
	return NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
		Model:   "gpt-4o",
	}, caps)
}

func TestOpenAIForwardsTemperature(t *testing.T) {
	var captured capturedRequest
	server := newMockOpenAI(t, http.StatusOK, chatCompletionBody("hi"), &captured)
	defer server.Close()

	temp := float32(0.7)
	adapter := testAdapter(server, Capabilities{SupportsSystemMessages: true})
	text, err := adapter.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hello"}},
		ChatParams{Temperature: &temp, MaxTokens: 100})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if text != "hi" {
		t.Errorf("text = %q, want hi", text)
	}
	if captured.Temperature == nil || *captured.Temperature != 0.7 {
		t.Errorf("temperature not forwarded: %v", captured.Temperature)
	}
	if captured.MaxTokens != 100 {
		t.Errorf("max_tokens = %d, want 100", captured.MaxTokens)
	}
	if captured.MaxCompletionTokens != 0 || captured.ReasoningEffort != "" {
		t.Errorf("reasoning parameters leaked onto a one-shot model")
	}
}

func TestOpenAIReasoningDropsTemperature(t *testing.T) {
	var captured capturedRequest
	server := newMockOpenAI(t, http.StatusOK, chatCompletionBody("hi"), &captured)
	defer server.Close()

	temp := float32(0.7)
	adapter := testAdapter(server, Capabilities{SupportsReasoning: true})
	_, err := adapter.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hello"}},
		ChatParams{Temperature: &temp, MaxTokens: 100, ReasoningEffort: "low"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if captured.Temperature != nil {
		t.Errorf("temperature forwarded to reasoning model: %v", *captured.Temperature)
	}
	if captured.MaxCompletionTokens != 100 {
		t.Errorf("max_completion_tokens = %d, want 100", captured.MaxCompletionTokens)
	}
	if captured.ReasoningEffort != "low" {
		t.Errorf("reasoning_effort = %q, want low", captured.ReasoningEffort)
	}
}

func TestOpenAISystemFold(t *testing.T) {
	var captured capturedRequest
	server := newMockOpenAI(t, http.StatusOK, chatCompletionBody("hi"), &captured)
	defer server.Close()

	adapter := testAdapter(server, Capabilities{SupportsReasoning: true, SupportsSystemMessages: false})
	_, err := adapter.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hello"},
	}, ChatParams{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(captured.Messages) != 1 {
		t.Fatalf("message count = %d, want 1 (system folded)", len(captured.Messages))
	}
	if captured.Messages[0]["role"] != "user" {
		t.Errorf("role = %v, want user", captured.Messages[0]["role"])
	}
	content, _ := captured.Messages[0]["content"].(string)
	if content != "be helpful\n\nhello" {
		t.Errorf("content = %q, want folded system prompt", content)
	}
}

func TestOpenAIToolCallParsing(t *testing.T) {
	body := chatCompletionBody("", map[string]any{
		"id":   "call_1",
		"type": "function",
		"function": map[string]any{
			"name":      "transfer_funds",
			"arguments": `{"from_account":"checking","amount":25}`,
		},
	}, map[string]any{
		"id":   "call_2",
		"type": "function",
		"function": map[string]any{
			"name":      "list_recipients",
			"arguments": `{"name": "Ali`, // malformed on purpose
		},
	})
	server := newMockOpenAI(t, http.StatusOK, body, nil)
	defer server.Close()

	adapter := testAdapter(server, Capabilities{SupportsToolCalls: true, SupportsSystemMessages: true})
	turn, err := adapter.ChatWithTools(context.Background(),
		[]Message{{Role: RoleUser, Content: "send money"}},
		[]ToolDescriptor{{Name: "transfer_funds", Parameters: json.RawMessage(`{"type":"object"}`)}},
		ChatParams{})
	if err != nil {
		t.Fatalf("chat with tools: %v", err)
	}
	if len(turn.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(turn.ToolCalls))
	}
	if turn.ToolCalls[0].Name != "transfer_funds" || turn.ToolCalls[0].Args["amount"] != float64(25) {
		t.Errorf("first call = %+v", turn.ToolCalls[0])
	}
	// Malformed arguments degrade to an empty map, never an error.
	if len(turn.ToolCalls[1].Args) != 0 {
		t.Errorf("malformed arguments should yield empty map, got %v", turn.ToolCalls[1].Args)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Reason
	}{
		{"rate limit", http.StatusTooManyRequests, ReasonRateLimit},
		{"auth", http.StatusUnauthorized, ReasonAuth},
		{"model not found", http.StatusNotFound, ReasonModelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newMockOpenAI(t, tt.status, map[string]any{
				"error": map[string]any{"message": "nope", "type": "test"},
			}, nil)
			defer server.Close()

			adapter := testAdapter(server, Capabilities{SupportsSystemMessages: true})
			_, err := adapter.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, ChatParams{})
			pe, ok := AsProviderError(err)
			if !ok {
				t.Fatalf("err = %v, want provider error", err)
			}
			if pe.Reason != tt.want {
				t.Errorf("reason = %s, want %s", pe.Reason, tt.want)
			}
		})
	}
}

func TestSimulateStreamChunking(t *testing.T) {
	text := ""
	for i := 0; i < 120; i++ {
		text += "a"
	}
	var got string
	var chunks int
	for chunk := range simulateStream(text) {
		if chunk.Done {
			break
		}
		chunks++
		got += chunk.Text
	}
	if got != text {
		t.Errorf("reassembled text differs")
	}
	if chunks != 3 {
		t.Errorf("chunks = %d, want 3", chunks)
	}
}

func TestOpenAIConfiguredTimeoutApplies(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	adapter := NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
		Model:   "gpt-4o",
		Timeout: 50 * time.Millisecond,
	}, Capabilities{})

	start := time.Now()
	_, err := adapter.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatParams{})
	if err == nil {
		t.Fatal("expected a timeout error from a hung vendor")
	}
	// One attempt plus one retry, each bounded by the client timeout.
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("call took %s, timeout not applied", elapsed)
	}
}
