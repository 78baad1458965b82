package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deskbridge/pkg/bridge"
)

const defaultPublishTimeout = 2 * time.Second

// SessionRunner keeps a Telegram session connected while fn runs.
type SessionRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// DriverOption tunes a Driver.
type DriverOption func(*Driver)

// WithName sets the driver instance name reported as the event source id.
func WithName(name string) DriverOption {
	return func(d *Driver) {
		if name != "" {
			d.name = name
		}
	}
}

// WithPublishTimeout bounds how long one event may wait on the kernel queue.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithDriverLogger sets the logger for dropped updates.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Driver turns incoming Telegram messages into message.created events.
//
// An update that cannot be converted or published is logged and dropped; it
// never stops the session.
type Driver struct {
	name           string
	session        SessionRunner
	inbox          *Inbox
	mapper         messageMapper
	publishTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewDriver creates a driver that drains inbox while session is running.
// Conversations seen on the way are recorded in peers.
func NewDriver(session SessionRunner, inbox *Inbox, peers *PeerCache, options ...DriverOption) (*Driver, error) {
	if session == nil {
		return nil, fmt.Errorf("new telegram driver: nil session")
	}
	if inbox == nil {
		return nil, fmt.Errorf("new telegram driver: nil inbox")
	}

	driver := &Driver{
		name:           DriverType,
		session:        session,
		inbox:          inbox,
		mapper:         messageMapper{peers: peers},
		publishTimeout: defaultPublishTimeout,
		logger:         slog.New(slog.DiscardHandler),
		now:            time.Now,
	}
	for _, option := range options {
		option(driver)
	}

	return driver, nil
}

// Name returns the configured driver instance name.
func (d *Driver) Name() string {
	return d.name
}

// Start runs the session and publishes events until ctx ends or the session
// fails.
func (d *Driver) Start(ctx context.Context, dispatcher bridge.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start telegram driver %s: nil dispatcher", d.name)
	}

	err := d.session.Run(ctx, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case item, ok := <-d.inbox.items:
				if !ok {
					return nil
				}
				if err := d.deliver(ctx, item, dispatcher); err != nil {
					d.logger.WarnContext(ctx, "telegram update dropped",
						"driver", d.name,
						"gotd_update", item.origin,
						"error", err,
					)
				}
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("start telegram driver %s: %w", d.name, err)
	}

	return nil
}

// deliver converts one item and publishes it. Panics are returned as errors.
func (d *Driver) deliver(ctx context.Context, item inboundItem, dispatcher bridge.EventDispatcher) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic handling %s: %v", item.origin, recovered)
		}
	}()

	update, ok := d.mapper.project(item)
	if !ok {
		return nil
	}
	event, err := update.toEvent(bridge.EventSource{Platform: DriverPlatform, ID: d.name}, d.now())
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	if d.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.publishTimeout)
		defer cancel()
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish %s: %w", event.ID, err)
	}

	return nil
}

// Shutdown is a no-op; the session ends with the Start context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

var _ bridge.Driver = (*Driver)(nil)
