package kernel

import (
	"context"
	"log/slog"
	"time"

	"deskbridge/pkg/bridge"
)

// ErrorReporter receives failures that have no caller to return to, such as
// dropped events and handler errors.
type ErrorReporter func(ctx context.Context, scope string, err error)

// Option adjusts a Kernel before it is built.
type Option func(*config)

type config struct {
	hookTimeout     time.Duration
	shutdownTimeout time.Duration
	// queue holds the values a subscription gets when it leaves them zero.
	queue     bridge.SubscriptionSpec
	logger    *slog.Logger
	report    ErrorReporter
	admission bridge.CommandAdmission
}

func defaultConfig() config {
	logger := slog.Default()

	return config{
		hookTimeout:     5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		queue: bridge.SubscriptionSpec{
			Buffer:         256,
			Workers:        1,
			HandlerTimeout: 30 * time.Second,
			Backpressure:   bridge.BackpressureDropNewest,
		},
		logger: logger,
		report: logReporter(logger),
	}
}

func logReporter(logger *slog.Logger) ErrorReporter {
	return func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "bridge async error", "scope", scope, "error", err)
	}
}

// ifPositive ignores zero and negative values so callers can pass unset
// config straight through.
func ifPositive[T int | time.Duration](value T, set func(*config, T)) Option {
	return func(cfg *config) {
		if value > 0 {
			set(cfg, value)
		}
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return ifPositive(timeout, func(cfg *config, v time.Duration) { cfg.hookTimeout = v })
}

// WithShutdownTimeout bounds the whole teardown after Run stops.
func WithShutdownTimeout(timeout time.Duration) Option {
	return ifPositive(timeout, func(cfg *config, v time.Duration) { cfg.shutdownTimeout = v })
}

// WithDefaultSubscriptionBuffer sets the queue depth of subscriptions that do
// not choose one.
func WithDefaultSubscriptionBuffer(size int) Option {
	return ifPositive(size, func(cfg *config, v int) { cfg.queue.Buffer = v })
}

// WithDefaultSubscriptionWorkers sets the worker count of subscriptions that
// do not choose one.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return ifPositive(workers, func(cfg *config, v int) { cfg.queue.Workers = v })
}

// WithDefaultHandlerTimeout bounds one handler call.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return ifPositive(timeout, func(cfg *config, v time.Duration) { cfg.queue.HandlerTimeout = v })
}

// WithLogger replaces the kernel logger and the default error reporter.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
			cfg.report = logReporter(logger)
		}
	}
}

// WithAsyncErrorHandler replaces the error reporter.
func WithAsyncErrorHandler(report ErrorReporter) Option {
	return func(cfg *config) {
		if report != nil {
			cfg.report = report
		}
	}
}

// WithCommandAdmission gates every derived command before modules see it.
func WithCommandAdmission(admission bridge.CommandAdmission) Option {
	return func(cfg *config) {
		cfg.admission = admission
	}
}
