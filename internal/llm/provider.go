// Package llm defines the uniform provider contract (spec.md §4.7) that
// the executor, retry wrapper, and fallback chain all depend on, plus the
// factory registry pattern grounded on the teacher's
// infrastructure/llm/provider.go — concrete adapters (internal/llm/anthropic,
// internal/llm/openai) register themselves from init() rather than being
// imported directly by callers.
package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
)

// Provider is the capability contract every vendor adapter implements.
type Provider interface {
	ID() string
	Name() string
	Models() []domain.ModelInfo

	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamChunk, error)

	// Embed returns one vector per input text. Providers that don't
	// support embeddings return a non-retriable rerr.KindOther error.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Config holds configuration for one provider instance.
type Config struct {
	Name     string
	Type     string // "anthropic" | "openai"
	BaseURL  string
	APIKey   string
	Models   []string
	Priority int
}

// Factory creates a Provider from Config.
type Factory func(cfg Config, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each adapter sub-package.
func RegisterFactory(typeName string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// Create instantiates a Provider using the registered factory for
// cfg.Type.
func Create(cfg Config, logger *zap.Logger) (Provider, error) {
	factoryMu.RLock()
	factory, ok := factories[cfg.Type]
	available := make([]string, 0, len(factories))
	for k := range factories {
		available = append(available, k)
	}
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", cfg.Type, available)
	}
	return factory(cfg, logger), nil
}
