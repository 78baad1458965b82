package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"deskbridge/pkg/bridge"
)

// RegisterModule attaches module to the kernel: its commands are registered,
// OnRegister runs, then its declared handlers are subscribed. Any failure
// removes the module again.
func (k *Kernel) RegisterModule(ctx context.Context, module bridge.Module) error {
	record, spec, err := k.admitModule(module)
	if err != nil {
		return err
	}
	if err := k.bindModule(ctx, record, spec); err != nil {
		k.evictModule(ctx, record)
		return fmt.Errorf("register module %s: %w", record.name, err)
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", record.name,
		"commands", len(spec.Commands),
		"handlers", len(spec.Handlers),
	)

	return nil
}

// admitModule validates module and reserves its name.
func (k *Kernel) admitModule(module bridge.Module) (*moduleRecord, bridge.ModuleSpec, error) {
	if module == nil {
		return nil, bridge.ModuleSpec{}, errors.New("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return nil, bridge.ModuleSpec{}, errors.New("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return nil, spec, fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{name: name, module: module, capabilities: spec.Capabilities()}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return nil, spec, fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.modules, func(existing *moduleRecord) bool { return existing.name == name }) {
		return nil, spec, fmt.Errorf("register module %s: %w", name, bridge.ErrModuleAlreadyRegistered)
	}
	k.modules = append(k.modules, record)

	return record, spec, nil
}

func (k *Kernel) bindModule(ctx context.Context, record *moduleRecord, spec bridge.ModuleSpec) error {
	if err := k.commands.register(record.name, spec.Commands); err != nil {
		return err
	}

	runtime := &moduleRuntime{record: record, services: k.services, bus: k.bus, logger: k.cfg.logger}
	if registrar, ok := record.module.(bridge.ModuleRegistrar); ok {
		err := k.hook(ctx, "module "+record.name+" OnRegister", func(ctx context.Context) error {
			return registrar.OnRegister(ctx, runtime)
		})
		if err != nil {
			return err
		}
	}

	for index, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", record.name, index+1)
		}
		_, err := runtime.Subscribe(ctx, declared.Capability.Interest, subscription, declared.Handler)
		if err != nil {
			return fmt.Errorf("handler %s for capability %s: %w", subscription.Name, declared.Capability.Name, err)
		}
	}

	return nil
}

// evictModule undoes a partial registration.
func (k *Kernel) evictModule(ctx context.Context, record *moduleRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.hookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(ctx); err != nil {
		k.cfg.report(ctx, "rollback module "+record.name, err)
	}
	k.commands.drop(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(existing *moduleRecord) bool { return existing == record })
}

func (k *Kernel) checkRequiredServices(capabilities []bridge.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

// nameSet rejects a name the second time it is claimed.
type nameSet map[string]struct{}

func (s nameSet) claim(name string) bool {
	if _, taken := s[name]; taken {
		return false
	}
	s[name] = struct{}{}

	return true
}

func validateModuleSpec(spec bridge.ModuleSpec) error {
	capabilities := nameSet{}
	subscriptions := nameSet{}

	for index, handler := range spec.Handlers {
		name := handler.Capability.Name
		switch {
		case name == "":
			return fmt.Errorf("module handler %d: empty capability name", index)
		case !capabilities.claim(name):
			return fmt.Errorf("module handler %d: duplicate capability name %s", index, name)
		case handler.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", name)
		}
		if sub := handler.Subscription.Name; sub != "" && !subscriptions.claim(sub) {
			return fmt.Errorf("module handler %s: duplicate subscription name %s", name, sub)
		}
	}

	for index, capability := range spec.AdditionalCapabilities {
		switch {
		case capability.Name == "":
			return fmt.Errorf("additional capability %d: empty capability name", index)
		case !capabilities.claim(capability.Name):
			return fmt.Errorf("additional capability %d: duplicate capability name %s", index, capability.Name)
		}
	}

	commands := nameSet{}
	for index, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", index, err)
		}
		if !commands.claim(commandKey(command.Prefix, command.Name)) {
			return fmt.Errorf("module command %d: duplicate command %s", index, command.Label())
		}
	}

	return nil
}

// moduleRecord is one registered module and the subscriptions it opened.
type moduleRecord struct {
	name         string
	module       bridge.Module
	capabilities []bridge.Capability

	mu            sync.Mutex
	subscriptions []bridge.Subscription
}

func (m *moduleRecord) track(subscription bridge.Subscription) {
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.mu.Unlock()
}

// closeSubscriptions closes and forgets every tracked subscription.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	errs := make([]error, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// moduleRuntime is the bridge.ModuleRuntime a module sees during OnRegister.
type moduleRuntime struct {
	record   *moduleRecord
	services bridge.ServiceRegistry
	bus      bridge.EventBus
	logger   *slog.Logger
}

// Services returns the kernel service registry.
func (r *moduleRuntime) Services() bridge.ServiceRegistry {
	return r.services
}

// Subscribe opens a subscription owned by the module. interest must be
// covered by one of the module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest bridge.InterestSet,
	spec bridge.SubscriptionSpec,
	handler bridge.EventHandler,
) (bridge.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.record.name + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.record.name, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, r.timed(handler))
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.record.name, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

// timed logs one "command processed" line per command event the handler
// finishes. Other events pass through unlogged.
func (r *moduleRuntime) timed(handler bridge.EventHandler) bridge.EventHandler {
	if r.logger == nil || handler == nil {
		return handler
	}

	return func(ctx context.Context, event *bridge.Event) error {
		if event == nil || event.Command == nil {
			return handler(ctx, event)
		}

		started := time.Now()
		err := handler(ctx, event)
		r.logger.InfoContext(ctx, "command processed",
			"module", r.record.name,
			"command", event.Command.Name,
			"subject", event.SubjectKey(),
			"conversation_id", event.Conversation.ID,
			"duration", time.Since(started),
			"failed", err != nil,
		)

		return err
	}
}

func assertSubscriptionAllowed(capabilities []bridge.Capability, interest bridge.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("%w: no declared capability", bridge.ErrInvalidSubscription)
	}
	covered := slices.ContainsFunc(capabilities, func(capability bridge.Capability) bool {
		return capability.Interest.Allows(interest)
	})
	if !covered {
		return fmt.Errorf("%w: interest not covered by declared capabilities", bridge.ErrInvalidSubscription)
	}

	return nil
}

var _ bridge.ModuleRuntime = (*moduleRuntime)(nil)
