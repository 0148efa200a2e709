package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canopybank/llm-gateway/internal/provider"
	"github.com/canopybank/llm-gateway/internal/registry"
)

// ModelSelector tracks the active (provider, model) pair and supports
// validated switching with rollback.
type ModelSelector struct {
	registry *registry.Registry
	factory  *provider.Factory
	logger   *slog.Logger

	mu      sync.RWMutex
	current registry.Resolution
}

// NewModelSelector creates a selector pinned to an initial model.
func NewModelSelector(reg *registry.Registry, factory *provider.Factory, providerName, friendly string, logger *slog.Logger) (*ModelSelector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolution, err := reg.Resolve(providerName, friendly)
	if err != nil {
		return nil, fmt.Errorf("initial model: %w", err)
	}
	return &ModelSelector{
		registry: reg,
		factory:  factory,
		logger:   logger.With("component", "selector"),
		current:  resolution,
	}, nil
}

// Current returns the active resolution.
func (s *ModelSelector) Current() registry.Resolution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Switch changes the active model. With validate set, the candidate adapter
// is probed first and the previous model is kept when the probe fails.
func (s *ModelSelector) Switch(ctx context.Context, providerName, friendly string, validate bool) (registry.Resolution, error) {
	resolution, err := s.registry.Resolve(providerName, friendly)
	if err != nil {
		return registry.Resolution{}, err
	}

	if validate {
		adapter, err := s.factory.Get(ctx, resolution.Provider, resolution.APIName, resolution.Capabilities)
		if err != nil {
			return registry.Resolution{}, err
		}
		probe, err := adapter.Test(ctx)
		if err != nil {
			return registry.Resolution{}, fmt.Errorf("model validation failed: %w", err)
		}
		if !probe.OK {
			return registry.Resolution{}, fmt.Errorf("model validation failed: %s", probe.Error)
		}
	}

	s.mu.Lock()
	previous := s.current
	s.current = resolution
	s.mu.Unlock()

	s.logger.Info("active model switched",
		"from", previous.Provider+"/"+previous.FriendlyName,
		"to", resolution.Provider+"/"+resolution.FriendlyName,
		"validated", validate)
	return resolution, nil
}
