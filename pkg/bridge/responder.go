package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AckReaction is the reaction placed on a command message when work begins.
const AckReaction = "👀"

const maxReplaceRetryDelay = 5 * time.Second

// Reply is one neutral response payload. Cached responses are stored as Reply values.
type Reply struct {
	Text     string
	Entities []TextEntity
	// Replace edits the previous message of the same responder instead of sending.
	Replace            bool
	DisableLinkPreview bool
}

// Responder answers one inbound command.
type Responder interface {
	// Ack signals receipt of the command before any work is done.
	Ack(ctx context.Context) error
	// Respond sends reply, or edits the previous reply when reply.Replace is set.
	Respond(ctx context.Context, reply Reply) error
}

// DispatchResponder is a Responder backed by a SinkDispatcher.
//
// It remembers the last message it sent so later replies can replace it.
type DispatchResponder struct {
	dispatcher SinkDispatcher
	target     OutboundTarget
	replyTo    string
	sleep      func(ctx context.Context, delay time.Duration) error

	mu     sync.Mutex
	lastID string
}

// NewDispatchResponder creates a responder answering event through dispatcher.
func NewDispatchResponder(dispatcher SinkDispatcher, event *Event) (*DispatchResponder, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("new dispatch responder: nil dispatcher")
	}
	target, err := OutboundTargetFromEvent(event)
	if err != nil {
		return nil, fmt.Errorf("new dispatch responder: %w", err)
	}

	responder := &DispatchResponder{
		dispatcher: dispatcher,
		target:     target,
		sleep:      sleepWithContext,
	}
	if event.Message != nil {
		responder.replyTo = event.Message.ID
	}

	return responder, nil
}

// Ack places AckReaction on the command message.
func (r *DispatchResponder) Ack(ctx context.Context) error {
	if r.replyTo == "" {
		return nil
	}
	err := r.dispatcher.SetReaction(ctx, SetReactionRequest{
		Target:    r.target,
		MessageID: r.replyTo,
		Emoji:     AckReaction,
		Action:    ReactionActionAdd,
	})
	if err != nil {
		return fmt.Errorf("ack command message %s: %w", r.replyTo, err)
	}

	return nil
}

// Respond delivers reply.
//
// A replacing reply whose edit fails permanently is sent as a new message so
// the requester still receives it.
func (r *DispatchResponder) Respond(ctx context.Context, reply Reply) error {
	if reply.Text == "" {
		return fmt.Errorf("respond: %w: empty reply", ErrInvalidOutboundRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reply.Replace && r.lastID != "" {
		editErr := r.edit(ctx, reply)
		if editErr == nil {
			return nil
		}
		if errors.Is(editErr, ErrInvalidOutboundRequest) || ctx.Err() != nil {
			return fmt.Errorf("respond replace message %s: %w", r.lastID, editErr)
		}
		if err := r.send(ctx, reply); err != nil {
			return fmt.Errorf("respond replace message %s: %w", r.lastID, errors.Join(editErr, err))
		}
		return nil
	}

	if err := r.send(ctx, reply); err != nil {
		return fmt.Errorf("respond: %w", err)
	}

	return nil
}

// LastMessageID returns the ID of the most recent message sent by this responder.
func (r *DispatchResponder) LastMessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastID
}

func (r *DispatchResponder) send(ctx context.Context, reply Reply) error {
	message, err := r.dispatcher.SendMessage(ctx, SendMessageRequest{
		Target:             r.target,
		Text:               reply.Text,
		Entities:           reply.Entities,
		ReplyToMessageID:   r.replyTo,
		DisableLinkPreview: reply.DisableLinkPreview,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if message != nil {
		r.lastID = message.ID
	}

	return nil
}

// edit retries once when the platform answers with flood control.
func (r *DispatchResponder) edit(ctx context.Context, reply Reply) error {
	request := EditMessageRequest{
		Target:             r.target,
		MessageID:          r.lastID,
		Text:               reply.Text,
		Entities:           reply.Entities,
		DisableLinkPreview: reply.DisableLinkPreview,
	}

	err := r.dispatcher.EditMessage(ctx, request)
	if err == nil {
		return nil
	}
	retryAfter, limited := AsOutboundRateLimit(err)
	if !limited {
		return fmt.Errorf("edit message: %w", err)
	}
	if retryAfter <= 0 || retryAfter > maxReplaceRetryDelay {
		retryAfter = maxReplaceRetryDelay
	}
	if waitErr := r.sleep(ctx, retryAfter); waitErr != nil {
		return fmt.Errorf("edit message: %w", errors.Join(err, waitErr))
	}
	if err := r.dispatcher.EditMessage(ctx, request); err != nil {
		return fmt.Errorf("edit message retry: %w", err)
	}

	return nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep with context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ Responder = (*DispatchResponder)(nil)
