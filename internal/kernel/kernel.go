package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"deskbridge/pkg/bridge"
)

// Kernel owns the event bus and the service registry. Modules and drivers
// are attached to it before Run.
type Kernel struct {
	cfg      config
	bus      *EventBus
	services *ServiceRegistry
	commands *commandTable

	mu      sync.RWMutex
	modules []*moduleRecord
	drivers []bridge.Driver

	running atomic.Bool
}

// New creates a kernel with the command catalog service already registered.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, apply := range options {
		apply(&cfg)
	}

	k := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.queue, cfg.report),
		services: NewServiceRegistry(),
		commands: newCommandTable(),
	}
	if err := k.services.Register(bridge.ServiceCommandCatalog, k.commands); err != nil {
		cfg.report(context.Background(), "register command catalog", err)
	}

	return k
}

// EventBus returns the kernel bus.
func (k *Kernel) EventBus() bridge.EventBus {
	return k.bus
}

// Services returns the kernel service registry.
func (k *Kernel) Services() bridge.ServiceRegistry {
	return k.services
}

// Dispatcher returns what drivers publish into. A message naming a registered
// command is followed by a derived command event once admission accepts it.
func (k *Kernel) Dispatcher() bridge.EventDispatcher {
	return &commandDeriver{
		next:      k.bus,
		lookup:    k.commands.lookup,
		services:  k.services,
		admission: k.cfg.admission,
		report:    k.cfg.report,
	}
}

// RegisterService registers a named singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterDriver attaches a platform driver. Names must be unique.
func (k *Kernel) RegisterDriver(driver bridge.Driver) error {
	if driver == nil {
		return errors.New("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return errors.New("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.drivers, func(existing bridge.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, bridge.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules then drivers and blocks until ctx ends, every driver
// returns, or one driver fails. Teardown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return errors.New("kernel run: already running")
	}
	defer k.running.Store(false)

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdown(ctx))
	}

	runErr := k.runDrivers(ctx)
	if isCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, k.shutdown(ctx))
}

func (k *Kernel) moduleList() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

func (k *Kernel) driverList() []bridge.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.drivers)
}
