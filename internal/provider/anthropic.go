package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Guard against malformed SSE streams that emit events without payloads.
const maxEmptyStreamEvents = 300

const defaultAnthropicMaxTokens = 4096

// anthropicAdapter implements Adapter for the Anthropic Messages API.
// Anthropic expresses tools as content blocks (schema B): assistant turns mix
// text and tool_use blocks, and tool results travel back as user-role
// tool_result blocks referencing the use id.
type anthropicAdapter struct {
	base
	client anthropic.Client
	model  string
	caps   Capabilities
}

var _ Adapter = (*anthropicAdapter)(nil)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(cfg AnthropicConfig, caps Capabilities) Adapter {
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		options = append(options, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	caps.Provider = "anthropic"
	caps.Model = cfg.Model
	caps.Schema = ToolSchemaBlocks
	return &anthropicAdapter{
		base:   newBase("anthropic"),
		client: anthropic.NewClient(options...),
		model:  cfg.Model,
		caps:   caps,
	}
}

func (p *anthropicAdapter) Name() string               { return p.name }
func (p *anthropicAdapter) Capabilities() Capabilities { return p.caps }

func (p *anthropicAdapter) Chat(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	result, err := p.run(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (p *anthropicAdapter) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error) {
	return p.run(ctx, messages, tools, params)
}

func (p *anthropicAdapter) ChatStream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamChunk, error) {
	msgParams, err := p.buildParams(messages, nil, params)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, msgParams)
		emptyEvents := 0
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					emptyEvents = 0
					select {
					case out <- StreamChunk{Text: delta.Text}:
					case <-ctx.Done():
						out <- StreamChunk{Err: ctx.Err(), Done: true}
						return
					}
					continue
				}
			case "message_stop":
				out <- StreamChunk{Done: true}
				return
			case "error":
				out <- StreamChunk{Err: p.wrapError(errors.New("anthropic stream error")), Done: true}
				return
			}
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out <- StreamChunk{Err: p.wrapError(fmt.Errorf("stream malformed: %d consecutive empty events", emptyEvents)), Done: true}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: p.wrapError(err), Done: true}
			return
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

func (p *anthropicAdapter) Test(ctx context.Context) (*ProbeResult, error) {
	start := time.Now()
	text, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "Hello"}}, ChatParams{MaxTokens: 16})
	if err != nil {
		return &ProbeResult{OK: false, Latency: time.Since(start), Error: err.Error()}, err
	}
	return &ProbeResult{OK: true, Latency: time.Since(start), Sample: text}, nil
}

// run drives one complete turn over the streaming API, accumulating text and
// tool_use blocks into a TurnResult.
func (p *anthropicAdapter) run(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error) {
	msgParams, err := p.buildParams(messages, tools, params)
	if err != nil {
		return nil, err
	}

	var result *TurnResult
	err = p.retry(ctx, func() error {
		result = &TurnResult{}
		stream := p.client.Messages.NewStreaming(ctx, msgParams)

		var text strings.Builder
		var currentCall *ToolCall
		var currentInput strings.Builder
		emptyEvents := 0

		for stream.Next() {
			event := stream.Current()
			processed := false

			switch event.Type {
			case "message_start", "message_delta":
				processed = true
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					use := block.AsToolUse()
					currentCall = &ToolCall{ID: use.ID, Name: use.Name}
					currentInput.Reset()
					processed = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						text.WriteString(delta.Text)
						processed = true
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						currentInput.WriteString(delta.PartialJSON)
						processed = true
					}
				}
			case "content_block_stop":
				if currentCall != nil {
					currentCall.Args = DecodeArgs(currentInput.String())
					result.ToolCalls = append(result.ToolCalls, *currentCall)
					currentCall = nil
					processed = true
				}
			case "message_stop":
				result.Text = text.String()
				return nil
			case "error":
				return p.wrapError(errors.New("anthropic stream error"))
			}

			if processed {
				emptyEvents = 0
			} else {
				emptyEvents++
				if emptyEvents >= maxEmptyStreamEvents {
					return p.wrapError(fmt.Errorf("stream malformed: %d consecutive empty events", emptyEvents))
				}
			}
		}
		if err := stream.Err(); err != nil {
			return p.wrapError(err)
		}
		result.Text = text.String()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *anthropicAdapter) buildParams(messages []Message, tools []ToolDescriptor, params ChatParams) (anthropic.MessageNewParams, error) {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, converted := p.convertMessages(messages)
	out := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		out.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if t := effectiveTemperature(params, p.caps); t != nil {
		out.Temperature = anthropic.Float(float64(*t))
	}
	if len(tools) > 0 {
		converted, err := convertAnthropicTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, p.wrapError(err)
		}
		out.Tools = converted
	}
	return out, nil
}

// convertMessages renders the internal transcript into Anthropic message
// params. System messages are lifted into the dedicated system field, tool
// results become user-role tool_result blocks, and assistant tool calls are
// replayed as tool_use blocks.
func (p *anthropicAdapter) convertMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system strings.Builder
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, MarshalArgs(tc.Args), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		default:
			if msg.Content == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system.String(), out
}

func convertAnthropicTools(tools []ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}
	return out, nil
}

type anthropicErrorPayload struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicAdapter) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		cause := err
		code := ""
		requestID := apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					cause = errors.New(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					code = payload.Error.Type
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		pe := NewError("anthropic", p.model, cause).WithStatus(apiErr.StatusCode)
		if code != "" {
			pe = pe.WithCode(code)
		}
		if requestID != "" {
			pe = pe.WithRequestID(requestID)
		}
		return pe
	}
	return NewError("anthropic", p.model, err)
}
