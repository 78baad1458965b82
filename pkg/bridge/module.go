package bridge

import (
	"context"
	"time"
)

// EventHandler handles one event delivered by a subscription.
type EventHandler func(ctx context.Context, event *Event) error

// EventDispatcher is where drivers and the kernel publish events.
type EventDispatcher interface {
	Publish(ctx context.Context, event *Event) error
}

// BackpressurePolicy decides what happens when a subscription queue is full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest discards the event being published.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest discards the head of the queue to make room.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock makes Publish wait for room or for its context.
	BackpressureBlock BackpressurePolicy = "block"
)

// SubscriptionSpec shapes one subscription. Zero fields take the bus
// defaults.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

const (
	commandQueueBuffer  = 128
	commandQueueWorkers = 4
	commandQueueTimeout = 90 * time.Second
)

// NewDefaultSubscriptionSpec is the shape command modules use: several
// workers so independent commands run side by side, and a timeout long enough
// for a ticket lookup plus a summary.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{
		Name:           name,
		Buffer:         commandQueueBuffer,
		Workers:        commandQueueWorkers,
		HandlerTimeout: commandQueueTimeout,
		Backpressure:   BackpressureDropNewest,
	}
}

// Subscription is a live registration on an EventBus.
type Subscription interface {
	Name() string
	// Close stops delivery and waits for in-flight handlers until ctx ends.
	Close(ctx context.Context) error
}

// EventBus delivers published events to matching subscriptions through
// bounded queues.
type EventBus interface {
	EventDispatcher
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	Close(ctx context.Context) error
}

// ModuleRuntime is what a module can reach while it registers.
type ModuleRuntime interface {
	Services() ServiceRegistry
	// Subscribe opens a subscription owned by the module. The interest must
	// be covered by one of the module's capabilities.
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
}

// ModuleHandler is a handler the kernel subscribes on the module's behalf.
type ModuleHandler struct {
	Capability   Capability
	Subscription SubscriptionSpec
	Handler      EventHandler
}

// ModuleSpec lists what a module handles and which commands it owns.
type ModuleSpec struct {
	Handlers []ModuleHandler
	// AdditionalCapabilities cover subscriptions opened from OnRegister.
	AdditionalCapabilities []Capability
	Commands               []CommandSpec
}

// Capabilities returns handler capabilities followed by the additional ones.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}

	return append(capabilities, s.AdditionalCapabilities...)
}

// Module is a unit of bot behavior. Handlers may run on several workers at
// once.
type Module interface {
	Name() string
	Spec() ModuleSpec
	OnStart(ctx context.Context) error
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is implemented by modules that resolve services or
// subscribe while registering.
type ModuleRegistrar interface {
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// Driver connects one chat platform account to the kernel.
type Driver interface {
	Name() string
	// Start publishes platform updates until ctx ends or the connection fails
	// for good.
	Start(ctx context.Context, dispatcher EventDispatcher) error
	Shutdown(ctx context.Context) error
}

// RegisteredCommand is one command and the module that owns it.
type RegisteredCommand struct {
	ModuleName string
	Command    CommandSpec
}

// CommandCatalog lists registered commands. Results are copies.
type CommandCatalog interface {
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
