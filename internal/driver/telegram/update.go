package telegram

import (
	"fmt"
	"time"

	"deskbridge/pkg/bridge"
)

// Update is one inbound Telegram text message in platform terms.
type Update struct {
	ID         string
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Metadata   map[string]string
}

// ChatRef names the chat a message arrived in.
type ChatRef struct {
	ID    string
	Title string
	Type  bridge.ConversationType
}

// ActorRef names the account that wrote a message.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is the text body of an inbound message. Entity ranges are in
// code points.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
	Entities  []bridge.TextEntity
}

// toEvent converts the update into a validated message.created event.
// now stamps updates that carry no timestamp.
func (u Update) toEvent(source bridge.EventSource, now time.Time) (*bridge.Event, error) {
	if u.Message == nil {
		return nil, fmt.Errorf("update %s: no message", u.ID)
	}
	if source.Platform == "" {
		source.Platform = DriverPlatform
	}

	occurredAt := u.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now.UTC()
	}

	event := &bridge.Event{
		ID:         u.ID,
		Kind:       bridge.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Source:     source,
		Conversation: bridge.Conversation{
			ID:    u.Chat.ID,
			Type:  u.Chat.Type,
			Title: u.Chat.Title,
		},
		Actor: bridge.Actor{
			ID:          u.Actor.ID,
			Username:    u.Actor.Username,
			DisplayName: u.Actor.DisplayName,
			IsBot:       u.Actor.IsBot,
		},
		Message: &bridge.Message{
			ID:        u.Message.ID,
			ReplyToID: u.Message.ReplyToID,
			Text:      u.Message.Text,
			Entities:  append([]bridge.TextEntity(nil), u.Message.Entities...),
		},
		Metadata: u.Metadata,
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("update %s: %w", u.ID, err)
	}

	return event, nil
}
