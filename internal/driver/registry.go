// Package driver builds the configured chat platform drivers and routes
// replies back to the driver an event came from.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"deskbridge/pkg/bridge"
)

// Definition is one entry of the drivers configuration array.
type Definition struct {
	Name    string
	Type    string
	Enabled bool
	// Config is the raw JSON object passed to the type's builder.
	Config []byte
}

// Runtime is a built driver plus the dispatcher that replies through it.
// SinkDispatcher is nil for receive-only drivers.
type Runtime struct {
	Source         bridge.EventSource
	Driver         bridge.Driver
	SinkDispatcher bridge.SinkDispatcher
}

// Builder constructs the runtime for one enabled definition.
type Builder func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

type driverKind struct {
	platform bridge.Platform
	build    Builder
}

// Registry knows which driver types can be built and for which platform.
type Registry struct {
	kinds map[string]driverKind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]driverKind)}
}

// Register adds a driver type. Types are unique.
func (r *Registry) Register(driverType string, platform bridge.Platform, build Builder) error {
	driverType = strings.TrimSpace(driverType)
	switch {
	case driverType == "":
		return fmt.Errorf("register driver: empty type")
	case platform == "":
		return fmt.Errorf("register driver %s: empty platform", driverType)
	case build == nil:
		return fmt.Errorf("register driver %s: nil builder", driverType)
	}
	if _, taken := r.kinds[driverType]; taken {
		return fmt.Errorf("register driver %s: duplicate type", driverType)
	}

	r.kinds[driverType] = driverKind{platform: platform, build: build}

	return nil
}

// Types lists the registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.kinds))
}

// PlatformForType reports the platform a driver type produces events for.
func (r *Registry) PlatformForType(driverType string) (bridge.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("platform for %s: nil registry", driverType)
	}

	kind, ok := r.kinds[driverType]
	if !ok {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return kind.platform, nil
}

// BuildEnabled builds every enabled definition in order and fails on the
// first invalid or failing one.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	var runtimes []Runtime
	names := make(map[string]bool, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if names[definition.Name] {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		names[definition.Name] = true

		runtime, err := r.build(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s: %w", definition.Name, err)
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) build(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	kind, ok := r.kinds[definition.Type]
	if !ok {
		return Runtime{}, fmt.Errorf("unsupported type %q", definition.Type)
	}

	runtime, err := kind.build(ctx, definition, logger)
	if err != nil {
		return Runtime{}, fmt.Errorf("type %s: %w", definition.Type, err)
	}
	if runtime.Driver == nil {
		return Runtime{}, fmt.Errorf("type %s: builder returned no driver", definition.Type)
	}
	if runtime.Source.Platform == "" {
		runtime.Source.Platform = kind.platform
	}
	if runtime.Source.ID == "" {
		runtime.Source.ID = definition.Name
	}

	return runtime, nil
}

// Sinks lists the reply sinks among runtimes, sorted by id.
func Sinks(runtimes []Runtime) []bridge.EventSink {
	var sinks []bridge.EventSink
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher != nil {
			sinks = append(sinks, bridge.EventSink{Platform: runtime.Source.Platform, ID: runtime.Source.ID})
		}
	}
	slices.SortFunc(sinks, func(a, b bridge.EventSink) int { return strings.Compare(a.ID, b.ID) })

	return sinks
}
