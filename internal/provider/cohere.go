package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// cohereAdapter implements Adapter for the Cohere v2 chat API over raw HTTP;
// there is no official Go SDK. Cohere is a schema-C vendor: tool outputs are
// inlined into the textual history upstream, so the adapter only renders
// plain role/content messages plus the tool definitions for the current turn.
type cohereAdapter struct {
	base
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	caps    Capabilities
}

var _ Adapter = (*cohereAdapter)(nil)

// CohereConfig configures the Cohere adapter.
type CohereConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewCohere creates the Cohere adapter.
func NewCohere(cfg CohereConfig, caps Capabilities) Adapter {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.cohere.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	caps.Provider = "cohere"
	caps.Model = cfg.Model
	caps.Schema = ToolSchemaText
	return &cohereAdapter{
		base:    newBase("cohere"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		caps:    caps,
	}
}

func (p *cohereAdapter) Name() string               { return p.name }
func (p *cohereAdapter) Capabilities() Capabilities { return p.caps }

func (p *cohereAdapter) Chat(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	result, err := p.ChatWithTools(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (p *cohereAdapter) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error) {
	payload := p.buildRequest(messages, tools, params, false)

	var result *TurnResult
	err := p.retry(ctx, func() error {
		httpResp, callErr := p.post(ctx, payload)
		if callErr != nil {
			return callErr
		}
		defer httpResp.Body.Close()

		var resp cohereChatResponse
		if decErr := json.NewDecoder(httpResp.Body).Decode(&resp); decErr != nil {
			return NewError(p.name, p.model, fmt.Errorf("decode response: %w", decErr))
		}

		result = &TurnResult{Text: resp.Message.text()}
		for _, tc := range resp.Message.ToolCalls {
			id := strings.TrimSpace(tc.ID)
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   id,
				Name: tc.Function.Name,
				Args: DecodeArgs(tc.Function.Arguments),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChatStream streams content-delta events. If the vendor responds without an
// event stream the completed text is sliced into synthetic chunks.
func (p *cohereAdapter) ChatStream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamChunk, error) {
	payload := p.buildRequest(messages, nil, params, true)
	resp, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		defer resp.Body.Close()
		var completed cohereChatResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&completed); decErr != nil {
			return nil, NewError(p.name, p.model, fmt.Errorf("decode response: %w", decErr))
		}
		return simulateStream(completed.Message.text()), nil
	}

	out := make(chan StreamChunk)
	go p.streamResponse(ctx, resp.Body, out)
	return out, nil
}

func (p *cohereAdapter) Test(ctx context.Context) (*ProbeResult, error) {
	start := time.Now()
	text, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "Hello"}}, ChatParams{MaxTokens: 16})
	if err != nil {
		return &ProbeResult{OK: false, Latency: time.Since(start), Error: err.Error()}, err
	}
	return &ProbeResult{OK: true, Latency: time.Since(start), Sample: text}, nil
}

func (p *cohereAdapter) post(ctx context.Context, payload cohereChatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(p.name, p.model, fmt.Errorf("marshal request: %w", err))
	}

	url := p.baseURL + "/v2/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(p.name, p.model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewError(p.name, p.model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewError(p.name, p.model, fmt.Errorf("cohere status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		msg := strings.TrimSpace(string(errBody))
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(errBody, &payload) == nil && payload.Message != "" {
			msg = payload.Message
		}
		return nil, NewError(p.name, p.model, fmt.Errorf("cohere status %d: %s", resp.StatusCode, msg)).WithStatus(resp.StatusCode)
	}
	return resp, nil
}

func (p *cohereAdapter) streamResponse(ctx context.Context, body io.ReadCloser, out chan StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" || line == "[DONE]" {
			continue
		}

		var event cohereStreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			out <- StreamChunk{Err: NewError(p.name, p.model, fmt.Errorf("decode event: %w", err)), Done: true}
			return
		}
		switch event.Type {
		case "content-delta":
			if text := event.Delta.Message.Content.Text; text != "" {
				out <- StreamChunk{Text: text}
			}
		case "message-end":
			out <- StreamChunk{Done: true}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: NewError(p.name, p.model, err), Done: true}
		return
	}
	out <- StreamChunk{Done: true}
}

func (p *cohereAdapter) buildRequest(messages []Message, tools []ToolDescriptor, params ChatParams, stream bool) cohereChatRequest {
	req := cohereChatRequest{
		Model:    p.model,
		Messages: buildCohereMessages(messages),
		Stream:   stream,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if t := effectiveTemperature(params, p.caps); t != nil {
		req.Temperature = t
	}
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 || !json.Valid(schema) {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		req.Tools = append(req.Tools, cohereTool{
			Type: "function",
			Function: cohereToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return req
}

// buildCohereMessages keeps only plain role/content records. Tool-role
// messages have already been inlined into the textual history by the
// schema-C transcript rendering; any stragglers are folded defensively.
func buildCohereMessages(messages []Message) []cohereMessage {
	out := make([]cohereMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			if msg.Content != "" {
				out = append(out, cohereMessage{Role: "assistant", Content: "Function results: " + msg.Content})
			}
		case RoleSystem, RoleUser, RoleAssistant:
			if msg.Content == "" {
				continue
			}
			out = append(out, cohereMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}

type cohereChatRequest struct {
	Model       string          `json:"model"`
	Messages    []cohereMessage `json:"messages"`
	Tools       []cohereTool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
}

type cohereMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cohereTool struct {
	Type     string             `json:"type"`
	Function cohereToolFunction `json:"function"`
}

type cohereToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type cohereChatResponse struct {
	ID           string              `json:"id"`
	FinishReason string              `json:"finish_reason"`
	Message      cohereOutputMessage `json:"message"`
}

type cohereOutputMessage struct {
	Role      string           `json:"role"`
	Content   json.RawMessage  `json:"content"`
	ToolCalls []cohereToolCall `json:"tool_calls"`
}

// Cohere returns content as a block list; older payloads use a bare string.
// FlattenContent accepts both.
func (m cohereOutputMessage) text() string {
	return FlattenContent(m.Content)
}

type cohereToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}
type cohereStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Message struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	} `json:"delta"`
}
