package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// openAICompat implements Adapter for every vendor that speaks the OpenAI
// chat-completions protocol (OpenAI itself, Mistral, Fireworks). The vendors
// differ only in base URL, model catalog, and which parameters they accept;
// all of that is captured in the Capabilities record at construction time.
type openAICompat struct {
	base
	client *openai.Client
	model  string
	caps   Capabilities
}

var _ Adapter = (*openAICompat)(nil)

// OpenAIConfig configures an OpenAI-protocol adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	OrgID   string
	Model   string
	Timeout time.Duration
}

// NewOpenAI creates the adapter for api.openai.com.
func NewOpenAI(cfg OpenAIConfig, caps Capabilities) Adapter {
	return newOpenAICompat("openai", cfg, caps)
}

func newOpenAICompat(name string, cfg OpenAIConfig, caps Capabilities) *openAICompat {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.OrgID != "" {
		clientCfg.OrgID = cfg.OrgID
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	caps.Provider = name
	caps.Model = cfg.Model
	caps.Schema = ToolSchemaFunctions
	return &openAICompat{
		base:   newBase(name),
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		caps:   caps,
	}
}

func (p *openAICompat) Name() string               { return p.name }
func (p *openAICompat) Capabilities() Capabilities { return p.caps }

func (p *openAICompat) Chat(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	resp, err := p.complete(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openAICompat) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error) {
	resp, err := p.complete(ctx, messages, tools, params)
	if err != nil {
		return nil, err
	}
	result := &TurnResult{}
	if len(resp.Choices) == 0 {
		return result, nil
	}
	choice := resp.Choices[0]
	result.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: DecodeArgs(tc.Function.Arguments),
		})
	}
	return result, nil
}

func (p *openAICompat) ChatStream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamChunk, error) {
	req := p.buildRequest(messages, nil, params)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				out <- StreamChunk{Err: p.wrapError(err), Done: true}
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- StreamChunk{Text: choice.Delta.Content}:
					case <-ctx.Done():
						out <- StreamChunk{Err: ctx.Err(), Done: true}
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (p *openAICompat) Test(ctx context.Context) (*ProbeResult, error) {
	start := time.Now()
	text, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "Hello"}}, ChatParams{MaxTokens: 16})
	if err != nil {
		return &ProbeResult{OK: false, Latency: time.Since(start), Error: err.Error()}, err
	}
	return &ProbeResult{OK: true, Latency: time.Since(start), Sample: text}, nil
}

func (p *openAICompat) complete(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (openai.ChatCompletionResponse, error) {
	req := p.buildRequest(messages, tools, params)
	var resp openai.ChatCompletionResponse
	err := p.retry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, req)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	return resp, err
}

func (p *openAICompat) buildRequest(messages []Message, tools []ToolDescriptor, params ChatParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.convertMessages(messages),
	}

	if p.caps.SupportsReasoning {
		// Reasoning models reject temperature and use the renamed
		// completion-token limit; an effort knob is forwarded when set.
		if params.MaxTokens > 0 {
			req.MaxCompletionTokens = params.MaxTokens
		}
		if params.ReasoningEffort != "" {
			req.ReasoningEffort = params.ReasoningEffort
		}
	} else {
		if params.MaxTokens > 0 {
			req.MaxTokens = params.MaxTokens
		}
		if t := effectiveTemperature(params, p.caps); t != nil {
			req.Temperature = *t
		}
	}

	if len(tools) > 0 {
		req.Tools = convertToOpenAITools(tools)
	}
	return req
}

// convertMessages renders the internal transcript into OpenAI chat messages.
// When the model rejects system messages the leading system prompt is folded
// into the first user message instead.
func (p *openAICompat) convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	var pendingSystem string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if !p.caps.SupportsSystemMessages {
				if pendingSystem != "" {
					pendingSystem += "\n\n"
				}
				pendingSystem += msg.Content
				continue
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case RoleAssistant:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(MarshalArgs(tc.Args)),
					},
				})
			}
			out = append(out, m)
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})
		default:
			content := msg.Content
			if pendingSystem != "" {
				content = pendingSystem + "\n\n" + content
				pendingSystem = ""
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content})
		}
	}

	if pendingSystem != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: pendingSystem})
	}
	return out
}

func convertToOpenAITools(tools []ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := any(json.RawMessage(t.Parameters))
		if len(t.Parameters) == 0 || !json.Valid(t.Parameters) {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (p *openAICompat) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, p.model, errors.New(apiErr.Message)).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok {
			pe = pe.WithCode(code)
		}
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(p.name, p.model, fmt.Errorf("request failed: %w", reqErr.Err)).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewError(p.name, p.model, err)
}
