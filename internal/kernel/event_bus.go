package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"deskbridge/pkg/bridge"
)

var errBusClosed = errors.New("event bus closed")

// EventBus fans events out to subscriptions. Each subscription drains its own
// bounded queue with its own workers.
type EventBus struct {
	defaults bridge.SubscriptionSpec
	report   ErrorReporter

	mu     sync.Mutex
	seq    int
	closed atomic.Bool
	// live is swapped on every subscribe or detach and read by Publish
	// without holding mu.
	live atomic.Pointer[[]*subscriber]
}

// NewEventBus creates a bus. Zero fields of every SubscriptionSpec are filled
// from defaults; report receives drops and handler failures and may be nil.
func NewEventBus(defaults bridge.SubscriptionSpec, report ErrorReporter) *EventBus {
	if defaults.Backpressure == "" {
		defaults.Backpressure = bridge.BackpressureDropNewest
	}

	bus := &EventBus{defaults: defaults, report: report}
	bus.live.Store(&[]*subscriber{})

	return bus
}

// Publish offers event to every subscription whose interest matches. A full
// or closing queue is reported, not returned.
func (b *EventBus) Publish(ctx context.Context, event *bridge.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if b.closed.Load() {
		return fmt.Errorf("publish %s %s: %w", event.Kind, event.ID, errBusClosed)
	}

	var failed []error
	for _, sub := range *b.live.Load() {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, bridge.ErrEventDropped), errors.Is(err, bridge.ErrSubscriptionClosed):
			b.reportf(ctx, sub.name, err)
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("publish %s %s: %w", event.Kind, event.ID, errors.Join(failed...))
	}

	return nil
}

// Subscribe starts a subscription and its workers.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest bridge.InterestSet,
	spec bridge.SubscriptionSpec,
	handler bridge.EventHandler,
) (bridge.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}
	b.seq++
	spec = b.withDefaults(spec, b.seq)
	offer, known := enqueuePolicies[spec.Backpressure]
	if !known {
		return nil, fmt.Errorf("subscribe %s: %w: unsupported backpressure %q",
			spec.Name, bridge.ErrInvalidSubscription, spec.Backpressure)
	}

	sub := newSubscriber(b, interest, spec, handler, offer)
	next := append(slices.Clone(*b.live.Load()), sub)
	b.live.Store(&next)

	return sub, nil
}

// Close stops every subscription and rejects later publishes. Only the first
// call does any work.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return nil
	}
	subs := *b.live.Load()
	b.live.Store(&[]*subscriber{})
	b.mu.Unlock()

	stopErrs := make([]error, 0, len(subs))
	for _, sub := range subs {
		stopErrs = append(stopErrs, sub.stop(ctx))
	}
	if err := errors.Join(stopErrs...); err != nil {
		return fmt.Errorf("close event bus: %w", err)
	}

	return nil
}

func (b *EventBus) withDefaults(spec bridge.SubscriptionSpec, seq int) bridge.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", seq)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = b.defaults.Backpressure
	}

	return spec
}

func (b *EventBus) detach(ctx context.Context, sub *subscriber) error {
	b.mu.Lock()
	current := *b.live.Load()
	if index := slices.Index(current, sub); index >= 0 {
		next := slices.Delete(slices.Clone(current), index, index+1)
		b.live.Store(&next)
	}
	b.mu.Unlock()

	if err := sub.stop(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.name, err)
	}

	return nil
}

func (b *EventBus) reportf(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

// enqueueFunc places one event on a full-or-not queue according to a
// backpressure policy.
type enqueueFunc func(s *subscriber, ctx context.Context, event *bridge.Event) error

var enqueuePolicies = map[bridge.BackpressurePolicy]enqueueFunc{
	bridge.BackpressureDropNewest: (*subscriber).dropNewest,
	bridge.BackpressureDropOldest: (*subscriber).dropOldest,
	bridge.BackpressureBlock:      (*subscriber).waitForRoom,
}

// subscriber is one live subscription. The queue is never closed; workers
// exit when ctx is canceled.
type subscriber struct {
	bus      *EventBus
	name     string
	interest bridge.InterestSet
	timeout  time.Duration
	handler  bridge.EventHandler
	offer    enqueueFunc
	queue    chan *bridge.Event

	ctx     context.Context
	cancel  context.CancelCauseFunc
	workers sync.WaitGroup
	stopped chan struct{}
}

func newSubscriber(
	bus *EventBus,
	interest bridge.InterestSet,
	spec bridge.SubscriptionSpec,
	handler bridge.EventHandler,
	offer enqueueFunc,
) *subscriber {
	interest.Kinds = slices.Clone(interest.Kinds)
	interest.CommandNames = slices.Clone(interest.CommandNames)
	interest.Sources = slices.Clone(interest.Sources)

	ctx, cancel := context.WithCancelCause(context.Background())
	sub := &subscriber{
		bus:      bus,
		name:     spec.Name,
		interest: interest,
		timeout:  spec.HandlerTimeout,
		handler:  handler,
		offer:    offer,
		queue:    make(chan *bridge.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}

	for range spec.Workers {
		sub.workers.Go(sub.drain)
	}
	go func() {
		sub.workers.Wait()
		close(sub.stopped)
	}()

	return sub
}

// Name returns the subscription name.
func (s *subscriber) Name() string {
	return s.name
}

// Close detaches the subscription from its bus and waits for its workers.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.detach(ctx, s)
}

func (s *subscriber) enqueue(ctx context.Context, event *bridge.Event) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("queue %s: %w", s.name, bridge.ErrSubscriptionClosed)
	}

	return s.offer(s, ctx, event)
}

func (s *subscriber) push(event *bridge.Event) bool {
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

func (s *subscriber) dropNewest(_ context.Context, event *bridge.Event) error {
	if s.push(event) {
		return nil
	}

	return fmt.Errorf("queue %s: event %s: %w", s.name, event.ID, bridge.ErrEventDropped)
}

// dropOldest makes room by discarding the head of the queue. The eviction
// itself is silent.
func (s *subscriber) dropOldest(_ context.Context, event *bridge.Event) error {
	if s.push(event) {
		return nil
	}
	select {
	case <-s.queue:
	default:
	}
	if s.push(event) {
		return nil
	}

	return fmt.Errorf("queue %s: event %s: %w", s.name, event.ID, bridge.ErrEventDropped)
}

func (s *subscriber) waitForRoom(ctx context.Context, event *bridge.Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue %s: %w", s.name, ctx.Err())
	case <-s.ctx.Done():
		return fmt.Errorf("queue %s: %w", s.name, bridge.ErrSubscriptionClosed)
	}
}

func (s *subscriber) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.deliver(event); err != nil {
				s.bus.reportf(s.ctx, s.name, err)
			}
		}
	}
}

func (s *subscriber) deliver(event *bridge.Event) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	return guard("handle "+event.ID+" in "+s.name, func() error {
		return s.handler(ctx, event)
	})
}

// stop cancels the workers and waits for them until ctx ends. Repeated calls
// only wait.
func (s *subscriber) stop(ctx context.Context) error {
	s.cancel(bridge.ErrSubscriptionClosed)

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop subscription %s: %w", s.name, ctx.Err())
	}
}

var _ bridge.EventBus = (*EventBus)(nil)
