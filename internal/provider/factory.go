package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default wall-clock limit for one vendor call.
const DefaultVendorTimeout = 60 * time.Second

// Credentials holds the per-vendor API keys.
type Credentials struct {
	OpenAIKey    string
	OpenAIOrg    string
	AnthropicKey string
	GoogleKey    string
	MistralKey   string
	FireworksKey string
	CohereKey    string
}

// Factory constructs and caches adapters per (provider, model). Adapters are
// stateless apart from their pooled HTTP client, so one instance per pair is
// shared across requests.
type Factory struct {
	creds Credentials

	mu    sync.RWMutex
	cache map[string]Adapter
}

// NewFactory creates an adapter factory.
func NewFactory(creds Credentials) *Factory {
	return &Factory{
		creds: creds,
		cache: make(map[string]Adapter),
	}
}

// Get returns the cached adapter for the pair, constructing it on first use.
// caps is the registry-computed capability record for the pair.
func (f *Factory) Get(ctx context.Context, providerName, model string, caps Capabilities) (Adapter, error) {
	key := providerName + "/" + model

	f.mu.RLock()
	adapter, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if adapter, ok := f.cache[key]; ok {
		return adapter, nil
	}

	adapter, err := f.build(ctx, providerName, model, caps)
	if err != nil {
		return nil, err
	}
	f.cache[key] = adapter
	return adapter, nil
}

func (f *Factory) build(ctx context.Context, providerName, model string, caps Capabilities) (Adapter, error) {
	switch providerName {
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  f.creds.OpenAIKey,
			OrgID:   f.creds.OpenAIOrg,
			Model:   model,
			Timeout: DefaultVendorTimeout,
		}, caps), nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:  f.creds.AnthropicKey,
			Model:   model,
			Timeout: DefaultVendorTimeout,
		}, caps), nil
	case "google":
		return NewGoogle(ctx, GoogleConfig{
			APIKey:  f.creds.GoogleKey,
			Model:   model,
			Timeout: DefaultVendorTimeout,
		}, caps)
	case "mistral":
		return NewMistral(MistralConfig{
			APIKey:  f.creds.MistralKey,
			Model:   model,
			Timeout: DefaultVendorTimeout,
		}, caps), nil
	case "fireworks":
		return NewFireworks(FireworksConfig{
			APIKey:  f.creds.FireworksKey,
			Model:   model,
			Timeout: DefaultVendorTimeout,
		}, caps), nil
	case "cohere":
		return NewCohere(CohereConfig{
			APIKey:  f.creds.CohereKey,
			Model:   model,
			Timeout: DefaultVendorTimeout,
		}, caps), nil
	}
	return nil, fmt.Errorf("unknown provider %q", providerName)
}
