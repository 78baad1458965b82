// Package llm holds the provider registry the summarizer resolves its model
// through. Vendor clients live under providers/.
package llm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"deskbridge/pkg/bridge"
)

// ErrUnknownProvider is returned by Resolve for a key no profile defines.
var ErrUnknownProvider = errors.New("llm provider not configured")

// Registry maps profile keys to providers. It is read-only after NewRegistry.
type Registry struct {
	byKey map[string]*labeledProvider
}

// NewRegistry trims every key and rejects blanks, nil providers and keys
// that collide after trimming.
func NewRegistry(providers map[string]bridge.LLMProvider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("new llm registry: no providers")
	}

	byKey := make(map[string]*labeledProvider, len(providers))
	for _, raw := range slices.Sorted(maps.Keys(providers)) {
		key := strings.TrimSpace(raw)
		switch {
		case key == "":
			return nil, errors.New("new llm registry: blank provider key")
		case providers[raw] == nil:
			return nil, fmt.Errorf("new llm registry: nil provider %q", key)
		case byKey[key] != nil:
			return nil, fmt.Errorf("new llm registry: key %q defined twice", key)
		}
		byKey[key] = &labeledProvider{key: key, next: providers[raw]}
	}

	return &Registry{byKey: byKey}, nil
}

// Resolve returns the provider for key. Its errors name the key.
func (r *Registry) Resolve(key string) (bridge.LLMProvider, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("resolve llm provider: blank key")
	}
	if r != nil {
		if provider, found := r.byKey[key]; found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("resolve llm provider %q: %w", key, ErrUnknownProvider)
}

// Keys lists the configured keys, sorted.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.byKey))
}

type labeledProvider struct {
	key  string
	next bridge.LLMProvider
}

func (p *labeledProvider) Complete(ctx context.Context, req bridge.LLMRequest) (bridge.LLMCompletion, error) {
	completion, err := p.next.Complete(ctx, req)
	if err != nil {
		return bridge.LLMCompletion{}, fmt.Errorf("llm provider %s: %w", p.key, err)
	}

	return completion, nil
}

var _ bridge.LLMProviderRegistry = (*Registry)(nil)
