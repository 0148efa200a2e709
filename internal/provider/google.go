package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/google/uuid"
)

// googleAdapter implements Adapter for the Gemini API. Gemini has no stable
// call ids of its own, so the adapter mints one per function call; results
// are replayed as function_response parts carrying the tool name (schema B).
type googleAdapter struct {
	base
	client *genai.Client
	model  string
	caps   Capabilities
}

var _ Adapter = (*googleAdapter)(nil)

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGoogle creates the Gemini adapter.
func NewGoogle(ctx context.Context, cfg GoogleConfig, caps Capabilities) (Adapter, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, NewError("google", cfg.Model, err)
	}
	caps.Provider = "google"
	caps.Model = cfg.Model
	caps.Schema = ToolSchemaBlocks
	return &googleAdapter{
		base:   newBase("google"),
		client: client,
		model:  cfg.Model,
		caps:   caps,
	}, nil
}

func (p *googleAdapter) Name() string               { return p.name }
func (p *googleAdapter) Capabilities() Capabilities { return p.caps }

func (p *googleAdapter) Chat(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	result, err := p.generate(ctx, messages, nil, params)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (p *googleAdapter) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error) {
	return p.generate(ctx, messages, tools, params)
}

func (p *googleAdapter) ChatStream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamChunk, error) {
	contents := p.convertMessages(messages)
	config := p.buildConfig(messages, nil, params)

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				out <- StreamChunk{Err: p.wrapError(err), Done: true}
				return
			}
			if resp == nil {
				continue
			}
			for _, cand := range resp.Candidates {
				if cand == nil || cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil || part.Text == "" {
						continue
					}
					select {
					case out <- StreamChunk{Text: part.Text}:
					case <-ctx.Done():
						out <- StreamChunk{Err: ctx.Err(), Done: true}
						return
					}
				}
			}
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

func (p *googleAdapter) Test(ctx context.Context) (*ProbeResult, error) {
	start := time.Now()
	text, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "Hello"}}, ChatParams{MaxTokens: 16})
	if err != nil {
		return &ProbeResult{OK: false, Latency: time.Since(start), Error: err.Error()}, err
	}
	return &ProbeResult{OK: true, Latency: time.Since(start), Sample: text}, nil
}

func (p *googleAdapter) generate(ctx context.Context, messages []Message, tools []ToolDescriptor, params ChatParams) (*TurnResult, error) {
	contents := p.convertMessages(messages)
	config := p.buildConfig(messages, tools, params)

	var result *TurnResult
	err := p.retry(ctx, func() error {
		resp, callErr := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		result = p.extract(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *googleAdapter) extract(resp *genai.GenerateContentResponse) *TurnResult {
	result := &TurnResult{}
	if resp == nil {
		return result
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:   "call_" + uuid.NewString(),
					Name: part.FunctionCall.Name,
					Args: args,
				})
			}
		}
	}
	result.Text = text.String()
	return result
}

// convertMessages renders the internal transcript into Gemini contents.
// System messages are lifted into SystemInstruction; tool results are
// replayed as user-role function_response parts named after the call.
func (p *googleAdapter) convertMessages(messages []Message) []*genai.Content {
	toolNames := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	var out []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Role == RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			name := msg.Name
			if name == "" {
				name = toolNames[msg.ToolCallID]
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     name,
					Response: response,
				},
			})
		} else {
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func (p *googleAdapter) buildConfig(messages []Message, tools []ToolDescriptor, params ChatParams) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	var system strings.Builder
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		}
	}
	if system.Len() > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system.String()}},
		}
	}

	if params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(params.MaxTokens)
	}
	if t := effectiveTemperature(params, p.caps); t != nil {
		config.Temperature = genai.Ptr(*t)
	}
	if len(tools) > 0 {
		config.Tools = convertGeminiTools(tools)
	}
	return config
}

func convertGeminiTools(tools []ToolDescriptor) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.Parameters, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type. Gemini
// does not accept raw JSON Schema so the supported subset is mapped field by
// field.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (p *googleAdapter) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	return NewError("google", p.model, err)
}
