package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// guard runs fn and turns a panic into an error tagged with scope.
func guard(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic: %v", scope, recovered)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

// hook runs one module lifecycle callback under the hook timeout.
func (k *Kernel) hook(ctx context.Context, scope string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	return guard(scope, func() error { return fn(ctx) })
}

func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleList() {
		if err := k.hook(ctx, "module "+record.name+" OnStart", record.module.OnStart); err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// runDrivers runs every driver in one errgroup. The first driver failure
// cancels the rest. Drivers get the shutdown timeout to return once the
// group context ends.
func (k *Kernel) runDrivers(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	dispatcher := k.Dispatcher()
	for _, driver := range k.driverList() {
		group.Go(func() error {
			err := guard("driver "+driver.Name()+" Start", func() error {
				return driver.Start(groupCtx, dispatcher)
			})
			if err == nil || isCancellation(err) {
				return nil
			}

			return fmt.Errorf("run driver %s: %w", driver.Name(), err)
		})
	}

	finished := make(chan error, 1)
	go func() { finished <- group.Wait() }()

	<-groupCtx.Done()
	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-finished:
		return err
	case <-timer.C:
		k.cfg.logger.WarnContext(ctx, "drivers still running after shutdown timeout",
			"timeout", k.cfg.shutdownTimeout,
		)
		return fmt.Errorf("run drivers: %w", context.Cause(groupCtx))
	}
}

// shutdown tears down drivers, then modules, then the bus, in reverse
// registration order. It gets its own timeout even when ctx is canceled.
func (k *Kernel) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var errs []error
	for _, driver := range slices.Backward(k.driverList()) {
		err := guard("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}
	for _, record := range slices.Backward(k.moduleList()) {
		errs = append(errs, k.stopModule(ctx, record))
	}
	errs = append(errs, k.bus.Close(ctx))

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}

	return nil
}

func (k *Kernel) stopModule(ctx context.Context, record *moduleRecord) error {
	var errs []error
	if err := record.closeSubscriptions(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
	}
	if err := k.hook(ctx, "module "+record.name+" OnShutdown", record.module.OnShutdown); err != nil {
		errs = append(errs, fmt.Errorf("shutdown module %s: %w", record.name, err))
	}

	return errors.Join(errs...)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
