package llm

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"deskbridge/pkg/bridge"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		providers map[string]bridge.LLMProvider
		wantErr   string
		wantKeys  []string
	}{
		{
			name:      "keys are trimmed and sorted",
			providers: map[string]bridge.LLMProvider{" openai ": &fakeProvider{}, "gemini": &fakeProvider{}},
			wantKeys:  []string{"gemini", "openai"},
		},
		{name: "no providers", wantErr: "no providers"},
		{
			name:      "blank key",
			providers: map[string]bridge.LLMProvider{"  ": &fakeProvider{}},
			wantErr:   "blank provider key",
		},
		{
			name:      "nil provider",
			providers: map[string]bridge.LLMProvider{"gemini": nil},
			wantErr:   `nil provider "gemini"`,
		},
		{
			name:      "keys collide after trimming",
			providers: map[string]bridge.LLMProvider{"openai": &fakeProvider{}, "openai\t": &fakeProvider{}},
			wantErr:   `key "openai" defined twice`,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry, err := NewRegistry(testCase.providers)
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("NewRegistry() error = %v, want %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegistry() error = %v", err)
			}
			if keys := registry.Keys(); !slices.Equal(keys, testCase.wantKeys) {
				t.Fatalf("Keys() = %v, want %v", keys, testCase.wantKeys)
			}
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	upstream := &fakeProvider{text: "summary"}
	registry, err := NewRegistry(map[string]bridge.LLMProvider{"openai-main": upstream})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	provider, err := registry.Resolve(" openai-main ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	completion, err := provider.Complete(context.Background(), bridge.LLMRequest{})
	if err != nil || completion.Text != "summary" {
		t.Fatalf("Complete() = %+v, %v", completion, err)
	}

	if _, err := registry.Resolve("missing"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("Resolve(missing) error = %v, want ErrUnknownProvider", err)
	}
	if _, err := registry.Resolve(" "); err == nil {
		t.Fatal("Resolve(blank) expected error")
	}

	var nilRegistry *Registry
	if _, err := nilRegistry.Resolve("openai-main"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("nil registry error = %v, want ErrUnknownProvider", err)
	}
}

func TestResolvedProviderNamesFailures(t *testing.T) {
	t.Parallel()

	cause := errors.New("quota exceeded")
	registry, err := NewRegistry(map[string]bridge.LLMProvider{"gemini-flash": &fakeProvider{err: cause}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	provider, err := registry.Resolve("gemini-flash")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	_, err = provider.Complete(context.Background(), bridge.LLMRequest{})
	if !errors.Is(err, cause) {
		t.Fatalf("Complete() error = %v, want wrapped cause", err)
	}
	if !strings.Contains(err.Error(), "gemini-flash") {
		t.Fatalf("Complete() error = %v, want provider key", err)
	}
}

type fakeProvider struct {
	text string
	err  error
}

func (p *fakeProvider) Complete(context.Context, bridge.LLMRequest) (bridge.LLMCompletion, error) {
	if p.err != nil {
		return bridge.LLMCompletion{}, p.err
	}

	return bridge.LLMCompletion{Text: p.text}, nil
}
