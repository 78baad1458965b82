package driver

import (
	"context"
	"fmt"

	"deskbridge/pkg/bridge"
)

// SinkRouter sends replies through the sink named by each request target.
//
// A target without a sink falls back to the only configured sink; a target
// naming just a platform needs exactly one sink on that platform.
type SinkRouter struct {
	sinks map[string]routedSink
}

type routedSink struct {
	platform   bridge.Platform
	dispatcher bridge.SinkDispatcher
}

// NewSinkRouter indexes the dispatchers of runtimes by source id.
func NewSinkRouter(runtimes []Runtime) (*SinkRouter, error) {
	sinks := make(map[string]routedSink)
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		id := runtime.Source.ID
		if id == "" {
			return nil, fmt.Errorf("new sink router: runtime without source id")
		}
		if _, taken := sinks[id]; taken {
			return nil, fmt.Errorf("new sink router: duplicate sink id %s", id)
		}
		sinks[id] = routedSink{platform: runtime.Source.Platform, dispatcher: runtime.SinkDispatcher}
	}

	return &SinkRouter{sinks: sinks}, nil
}

// SendMessage implements bridge.SinkDispatcher.
func (r *SinkRouter) SendMessage(ctx context.Context, request bridge.SendMessageRequest) (*bridge.OutboundMessage, error) {
	sink, err := r.pick(request.Target.Sink)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return sink.SendMessage(ctx, request)
}

// EditMessage implements bridge.SinkDispatcher.
func (r *SinkRouter) EditMessage(ctx context.Context, request bridge.EditMessageRequest) error {
	sink, err := r.pick(request.Target.Sink)
	if err != nil {
		return fmt.Errorf("route edit message: %w", err)
	}

	return sink.EditMessage(ctx, request)
}

// SetReaction implements bridge.SinkDispatcher.
func (r *SinkRouter) SetReaction(ctx context.Context, request bridge.SetReactionRequest) error {
	sink, err := r.pick(request.Target.Sink)
	if err != nil {
		return fmt.Errorf("route set reaction: %w", err)
	}

	return sink.SetReaction(ctx, request)
}

func (r *SinkRouter) pick(ref *bridge.EventSink) (bridge.SinkDispatcher, error) {
	if len(r.sinks) == 0 {
		return nil, fmt.Errorf("%w: no sinks configured", bridge.ErrOutboundUnsupported)
	}

	switch {
	case ref != nil && ref.ID != "":
		sink, ok := r.sinks[ref.ID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sink %s", bridge.ErrOutboundUnsupported, ref.ID)
		}
		if ref.Platform != "" && ref.Platform != sink.platform {
			return nil, fmt.Errorf("%w: sink %s is %s, not %s",
				bridge.ErrOutboundUnsupported, ref.ID, sink.platform, ref.Platform)
		}
		return sink.dispatcher, nil
	case ref != nil && ref.Platform != "":
		return r.only(func(sink routedSink) bool { return sink.platform == ref.Platform }, string(ref.Platform))
	case ref != nil:
		return nil, fmt.Errorf("%w: empty sink reference", bridge.ErrOutboundUnsupported)
	default:
		return r.only(func(routedSink) bool { return true }, "any platform")
	}
}

// only returns the single sink accepted by match.
func (r *SinkRouter) only(match func(routedSink) bool, scope string) (bridge.SinkDispatcher, error) {
	var found bridge.SinkDispatcher
	count := 0
	for _, sink := range r.sinks {
		if match(sink) {
			found = sink.dispatcher
			count++
		}
	}

	switch count {
	case 0:
		return nil, fmt.Errorf("%w: no sink for %s", bridge.ErrOutboundUnsupported, scope)
	case 1:
		return found, nil
	default:
		return nil, fmt.Errorf("%w: %d sinks match %s, target must name one", bridge.ErrOutboundUnsupported, count, scope)
	}
}

var _ bridge.SinkDispatcher = (*SinkRouter)(nil)
