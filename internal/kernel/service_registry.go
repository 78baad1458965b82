package kernel

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"deskbridge/pkg/bridge"
)

// ServiceRegistry holds named singletons. A name can be bound once.
type ServiceRegistry struct {
	mu     sync.RWMutex
	byName map[string]any
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{byName: make(map[string]any)}
}

// Register binds service to name.
func (r *ServiceRegistry) Register(name string, service any) error {
	switch {
	case name == "":
		return errors.New("register service: empty name")
	case service == nil:
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("register service %s: %w", name, bridge.ErrServiceAlreadyRegistered)
	}
	r.byName[name] = service

	return nil
}

// Resolve returns the service bound to name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	if name == "" {
		return nil, errors.New("resolve service: empty name")
	}

	r.mu.RLock()
	service, found := r.byName[name]
	r.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("resolve service %s: %w", name, bridge.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists bound names in sorted order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.byName))
}

var _ bridge.ServiceRegistry = (*ServiceRegistry)(nil)
