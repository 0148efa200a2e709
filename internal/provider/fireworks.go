package provider

import "time"

// Fireworks serves open-weight models behind an OpenAI-compatible inference
// API; only the base URL and model namespace differ.

const fireworksBaseURL = "https://api.fireworks.ai/inference/v1"

// FireworksConfig configures the Fireworks adapter.
type FireworksConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewFireworks creates the Fireworks adapter.
func NewFireworks(cfg FireworksConfig, caps Capabilities) Adapter {
	return newOpenAICompat("fireworks", OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: fireworksBaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}, caps)
}
