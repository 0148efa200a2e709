// Package registry maps friendly model names to vendor API names and reports
// per-model capabilities and defaults. The parsed view is swapped atomically
// on reload so readers never block.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/canopybank/llm-gateway/internal/provider"
)

// Model categories in the registry document.
const (
	CategoryReasoning = "reasoning"
	CategoryOneShot   = "one_shot"
)

// Defaults are optional per-(provider, friendly) parameter overrides.
type Defaults struct {
	MaxTokens          int `yaml:"max_tokens" json:"max_tokens,omitempty"`
	RAGTopK            int `yaml:"rag_k" json:"rag_k,omitempty"`
	RAGMaxContextChars int `yaml:"rag_max_context_chars" json:"rag_max_context_chars,omitempty"`
}

// Resolution is the result of resolving a friendly model name.
type Resolution struct {
	Provider     string                `json:"provider"`
	FriendlyName string                `json:"friendly_name"`
	APIName      string                `json:"api_name"`
	Category     string                `json:"type"`
	Capabilities provider.Capabilities `json:"capabilities"`
	Defaults     Defaults              `json:"defaults"`
}

type document struct {
	ModelRegistry   map[string]map[string]map[string]string `yaml:"model_registry"`
	ModelParameters map[string]map[string]Defaults          `yaml:"model_parameters"`
}

// Registry is the process-wide model registry handle.
type Registry struct {
	path   string
	logger *slog.Logger
	view   atomic.Pointer[document]
}

// Load reads the registry document and returns a ready handle.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{path: path, logger: logger.With("component", "registry")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the document and swaps the in-memory view atomically.
// On failure the previous view is retained.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read model registry: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse model registry: %w", err)
	}
	if len(doc.ModelRegistry) == 0 {
		return fmt.Errorf("model registry %s declares no providers", r.path)
	}
	r.view.Store(&doc)
	r.logger.Info("model registry loaded", "path", r.path, "providers", len(doc.ModelRegistry))
	return nil
}

func (r *Registry) current() *document {
	return r.view.Load()
}

// Providers returns the sorted provider names in the registry.
func (r *Registry) Providers() []string {
	doc := r.current()
	out := make([]string, 0, len(doc.ModelRegistry))
	for name := range doc.ModelRegistry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns the registry snapshot: provider → category → friendly → api.
func (r *Registry) List() map[string]map[string]map[string]string {
	doc := r.current()
	out := make(map[string]map[string]map[string]string, len(doc.ModelRegistry))
	for providerName, categories := range doc.ModelRegistry {
		out[providerName] = make(map[string]map[string]string, len(categories))
		for category, models := range categories {
			inner := make(map[string]string, len(models))
			for friendly, api := range models {
				inner[friendly] = api
			}
			out[providerName][category] = inner
		}
	}
	return out
}

// Resolve maps (provider, friendly) to the API name, category, capability
// record, and defaults.
func (r *Registry) Resolve(providerName, friendly string) (Resolution, error) {
	doc := r.current()
	categories, ok := doc.ModelRegistry[providerName]
	if !ok {
		return Resolution{}, fmt.Errorf("provider %q not found in model registry", providerName)
	}
	for _, category := range []string{CategoryReasoning, CategoryOneShot} {
		if api, ok := categories[category][friendly]; ok {
			return Resolution{
				Provider:     providerName,
				FriendlyName: friendly,
				APIName:      api,
				Category:     category,
				Capabilities: capabilitiesFor(providerName, api, category == CategoryReasoning),
				Defaults:     doc.ModelParameters[providerName][friendly],
			}, nil
		}
	}
	return Resolution{}, fmt.Errorf("model %q not found for provider %q", friendly, providerName)
}

// Validate reports whether the (provider, friendly) combination exists.
func (r *Registry) Validate(providerName, friendly string) bool {
	_, err := r.Resolve(providerName, friendly)
	return err == nil
}

// FriendlyOf maps a vendor API name back to its friendly name.
func (r *Registry) FriendlyOf(providerName, apiName string) (string, bool) {
	doc := r.current()
	for _, models := range doc.ModelRegistry[providerName] {
		for friendly, api := range models {
			if api == apiName {
				return friendly, true
			}
		}
	}
	return "", false
}

// IsReasoning reports whether the friendly name is in the provider's
// reasoning category.
func (r *Registry) IsReasoning(providerName, friendly string) bool {
	doc := r.current()
	_, ok := doc.ModelRegistry[providerName][CategoryReasoning][friendly]
	return ok
}

// capabilitiesFor computes the capability record from the provider rule
// table. The numbers follow each vendor's published model families.
func capabilitiesFor(providerName, apiName string, reasoning bool) provider.Capabilities {
	caps := provider.Capabilities{
		Provider:               providerName,
		Model:                  apiName,
		SupportsStreaming:      true,
		SupportsToolCalls:      true,
		SupportsSystemMessages: true,
		SupportsReasoning:      reasoning,
	}
	switch providerName {
	case "openai":
		caps.MaxContextLength = 128000
		caps.Schema = provider.ToolSchemaFunctions
		// o-family models reject system messages alongside temperature.
		caps.SupportsSystemMessages = !reasoning
	case "anthropic":
		caps.MaxContextLength = 200000
		caps.Schema = provider.ToolSchemaBlocks
	case "google":
		caps.MaxContextLength = 2000000
		caps.Schema = provider.ToolSchemaBlocks
	case "cohere":
		caps.MaxContextLength = 128000
		caps.Schema = provider.ToolSchemaText
	case "mistral":
		caps.MaxContextLength = 32768
		caps.Schema = provider.ToolSchemaFunctions
	case "fireworks":
		caps.MaxContextLength = 32768
		caps.Schema = provider.ToolSchemaFunctions
	default:
		caps.SupportsToolCalls = false
		caps.Schema = provider.ToolSchemaText
	}
	return caps
}
