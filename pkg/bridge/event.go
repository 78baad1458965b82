package bridge

import (
	"fmt"
	"time"
)

// EventKind is the type of an Event and decides which payloads it carries.
type EventKind string

const (
	// EventKindMessageCreated is a new chat message seen by a driver.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindCommandReceived is derived by the kernel from a message that
	// names a registered command.
	EventKindCommandReceived EventKind = "command.received"
)

// Platform is a chat network.
type Platform string

const PlatformTelegram Platform = "telegram"

// ConversationType is the kind of chat an event happened in.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
	// ConversationTypeChannel also covers Telegram supergroups.
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource is the driver instance that published an event. ID is the
// configured driver name.
type EventSource struct {
	Platform Platform
	ID       string
}

// EventSink is a driver instance that can send replies.
type EventSink struct {
	Platform Platform
	ID       string
}

// Event is what drivers publish and modules handle.
type Event struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time
	Source     EventSource

	Conversation Conversation
	Actor        Actor

	// Message is set for both kinds. Command events carry the message they
	// were derived from.
	Message *Message
	Command *CommandInvocation
	// Metadata holds driver-specific context such as the raw update type.
	Metadata map[string]string
}

// Conversation is the chat an event happened in.
type Conversation struct {
	ID    string
	Type  ConversationType
	Title string
}

// Actor is the user behind an event.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Message is the text of a chat message with its formatting.
type Message struct {
	ID        string
	ReplyToID string
	Text      string
	Entities  []TextEntity
}

// SubjectKey identifies the actor for rate limiting as "<platform>:<actor
// id>", or "" when the actor is unknown.
func (e *Event) SubjectKey() string {
	if e == nil || e.Actor.ID == "" {
		return ""
	}

	return string(e.Source.Platform) + ":" + e.Actor.ID
}

// payloadRule is what one event kind must carry.
type payloadRule struct {
	message bool
	command bool
}

var payloadRules = map[EventKind]payloadRule{
	EventKindMessageCreated:  {message: true},
	EventKindCommandReceived: {message: true, command: true},
}

func invalidEvent(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidEvent}, args...)...)
}

// Validate checks the envelope fields, the payloads required by Kind and the
// message entity ranges.
func (e *Event) Validate() error {
	if e == nil {
		return invalidEvent("nil event")
	}

	switch {
	case e.ID == "":
		return invalidEvent("missing id")
	case e.Kind == "":
		return invalidEvent("missing kind")
	case e.OccurredAt.IsZero():
		return invalidEvent("missing occurred_at")
	case e.Conversation.ID == "":
		return invalidEvent("missing conversation id")
	}

	rule, known := payloadRules[e.Kind]
	switch {
	case !known:
		return invalidEvent("unsupported kind %q", e.Kind)
	case rule.command && e.Command == nil:
		return invalidEvent("%s requires command payload", e.Kind)
	case rule.message && e.Message == nil:
		return invalidEvent("%s requires message payload", e.Kind)
	}

	if e.Message != nil {
		if err := ValidateTextEntities(e.Message.Text, e.Message.Entities); err != nil {
			return invalidEvent("%w", err)
		}
	}

	return nil
}
