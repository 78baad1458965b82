package bridge

import (
	"context"
	"fmt"
)

// SinkDispatcher performs replies on one chat platform.
type SinkDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// EditMessage replaces the text of a message the bot sent earlier.
	EditMessage(ctx context.Context, request EditMessageRequest) error
	SetReaction(ctx context.Context, request SetReactionRequest) error
}

// OutboundTarget is the conversation a reply goes to. Sink, when set, pins
// the reply to one configured driver instance.
type OutboundTarget struct {
	Conversation Conversation
	Sink         *EventSink
}

// invalidRequest builds an ErrInvalidOutboundRequest with detail.
func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidOutboundRequest}, args...)...)
}

// Validate requires a conversation id and type, and a non-empty sink when
// one is given.
func (t OutboundTarget) Validate() error {
	switch {
	case t.Conversation.ID == "":
		return invalidRequest("missing conversation id")
	case t.Conversation.Type == "":
		return invalidRequest("missing conversation type")
	case t.Sink != nil && *t.Sink == (EventSink{}):
		return invalidRequest("missing sink identity")
	}

	return nil
}

// OutboundTargetFromEvent addresses a reply to the conversation and driver
// instance event came from.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, invalidRequest("nil event")
	}

	target := OutboundTarget{Conversation: event.Conversation}
	if sink := (EventSink{Platform: event.Source.Platform, ID: event.Source.ID}); sink != (EventSink{}) {
		target.Sink = &sink
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage is a message the dispatcher delivered.
type OutboundMessage struct {
	ID     string
	Target OutboundTarget
}

// SendMessageRequest posts a new text message.
type SendMessageRequest struct {
	Target             OutboundTarget
	Text               string
	Entities           []TextEntity
	ReplyToMessageID   string
	DisableLinkPreview bool
}

// Validate checks target, text and entity ranges.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}

	return validateBody("send message", r.Text, r.Entities)
}

// EditMessageRequest replaces the text of MessageID.
type EditMessageRequest struct {
	Target             OutboundTarget
	MessageID          string
	Text               string
	Entities           []TextEntity
	DisableLinkPreview bool
}

// Validate checks target, message id, text and entity ranges.
func (r EditMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate edit message target: %w", err)
	}
	if r.MessageID == "" {
		return invalidRequest("missing message id")
	}

	return validateBody("edit message", r.Text, r.Entities)
}

func validateBody(operation string, text string, entities []TextEntity) error {
	if text == "" {
		return invalidRequest("missing message text")
	}
	if err := ValidateTextEntities(text, entities); err != nil {
		return invalidRequest("validate %s entities: %w", operation, err)
	}

	return nil
}

// ReactionAction says whether SetReaction adds or clears a reaction.
type ReactionAction string

const (
	ReactionActionAdd    ReactionAction = "add"
	ReactionActionRemove ReactionAction = "remove"
)

// SetReactionRequest adds Emoji to, or clears the bot's reaction from,
// MessageID.
type SetReactionRequest struct {
	Target    OutboundTarget
	MessageID string
	Emoji     string
	Action    ReactionAction
}

// Validate requires an emoji only when adding.
func (r SetReactionRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate set reaction target: %w", err)
	}

	switch {
	case r.MessageID == "":
		return invalidRequest("missing message id")
	case r.Action != ReactionActionAdd && r.Action != ReactionActionRemove:
		return invalidRequest("unsupported reaction action %q", r.Action)
	case r.Action == ReactionActionAdd && r.Emoji == "":
		return invalidRequest("missing reaction emoji")
	}

	return nil
}
