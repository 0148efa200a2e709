package provider

import "time"

// Mistral's chat API is wire-compatible with the OpenAI protocol, so the
// adapter reuses the OpenAI client against La Plateforme's endpoint.

const mistralBaseURL = "https://api.mistral.ai/v1"

// MistralConfig configures the Mistral adapter.
type MistralConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewMistral creates the Mistral adapter.
func NewMistral(cfg MistralConfig, caps Capabilities) Adapter {
	return newOpenAICompat("mistral", OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: mistralBaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}, caps)
}
