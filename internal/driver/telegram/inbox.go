package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"deskbridge/pkg/bridge"
)

const defaultInboxSize = 256

// Inbox receives update containers from the gotd client and queues their
// individual updates for the driver loop.
//
// Handle blocks while the queue is full, which applies backpressure to gotd.
type Inbox struct {
	items chan inboundItem
}

// NewInbox creates an inbox holding up to size pending updates.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}

	return &Inbox{items: make(chan inboundItem, size)}
}

// Handle implements telegram.UpdateHandler.
func (b *Inbox) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	items, err := unbatch(updates)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}

	for _, item := range items {
		select {
		case b.items <- item:
		case <-ctx.Done():
			return fmt.Errorf("inbox enqueue %s: %w", item.origin, ctx.Err())
		}
	}

	return nil
}

// inboundItem is one update together with the users and chats that arrived in
// the same container.
type inboundItem struct {
	update     tg.UpdateClass
	receivedAt time.Time
	users      map[int64]*tg.User
	chats      map[int64]chatEntity
	origin     string
}

type chatEntity struct {
	title string
	kind  bridge.ConversationType
	peer  tg.InputPeerClass
}

func unbatch(updates tg.UpdatesClass) ([]inboundItem, error) {
	switch container := updates.(type) {
	case nil:
		return nil, fmt.Errorf("nil updates container")
	case *tg.Updates:
		return itemsOf(container.Updates, container.Date, container.Users, container.Chats), nil
	case *tg.UpdatesCombined:
		return itemsOf(container.Updates, container.Date, container.Users, container.Chats), nil
	case *tg.UpdateShort:
		return itemsOf([]tg.UpdateClass{container.Update}, container.Date, nil, nil), nil
	case *tg.UpdateShortMessage:
		message := &tg.Message{
			ID:      container.ID,
			PeerID:  &tg.PeerUser{UserID: container.UserID},
			Date:    container.Date,
			Message: container.Message,
			Out:     container.Out,
		}
		message.SetFromID(&tg.PeerUser{UserID: container.UserID})
		copyShortExtras(message, container.GetReplyTo, container.GetEntities)

		return []inboundItem{shortItem(message, container.Pts, container.PtsCount, container.TypeName())}, nil
	case *tg.UpdateShortChatMessage:
		message := &tg.Message{
			ID:      container.ID,
			PeerID:  &tg.PeerChat{ChatID: container.ChatID},
			Date:    container.Date,
			Message: container.Message,
			Out:     container.Out,
		}
		message.SetFromID(&tg.PeerUser{UserID: container.FromID})
		copyShortExtras(message, container.GetReplyTo, container.GetEntities)

		return []inboundItem{shortItem(message, container.Pts, container.PtsCount, container.TypeName())}, nil
	case *tg.UpdatesTooLong:
		// The bot only reacts to live messages, so gaps are not refetched.
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported updates container %s", updates.TypeName())
	}
}

func itemsOf(updates []tg.UpdateClass, date int, users []tg.UserClass, chats []tg.ChatClass) []inboundItem {
	receivedAt := unixUTC(date)
	userIndex := indexUsers(users)
	chatIndex := indexChats(chats)

	items := make([]inboundItem, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		items = append(items, inboundItem{
			update:     update,
			receivedAt: receivedAt,
			users:      userIndex,
			chats:      chatIndex,
			origin:     update.TypeName(),
		})
	}

	return items
}

func copyShortExtras(
	message *tg.Message,
	replyTo func() (tg.MessageReplyHeaderClass, bool),
	entities func() ([]tg.MessageEntityClass, bool),
) {
	if header, ok := replyTo(); ok {
		message.SetReplyTo(header)
	}
	if values, ok := entities(); ok {
		message.SetEntities(values)
	}
}

func shortItem(message *tg.Message, pts int, ptsCount int, origin string) inboundItem {
	return inboundItem{
		update:     &tg.UpdateNewMessage{Message: message, Pts: pts, PtsCount: ptsCount},
		receivedAt: unixUTC(message.Date),
		origin:     origin,
	}
}

func indexUsers(users []tg.UserClass) map[int64]*tg.User {
	index := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		if full, ok := user.AsNotEmpty(); ok && full != nil {
			index[full.ID] = full
		}
	}

	return index
}

func indexChats(chats []tg.ChatClass) map[int64]chatEntity {
	index := make(map[int64]chatEntity, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			index[typed.ID] = chatEntity{title: typed.Title, kind: bridge.ConversationTypeGroup, peer: typed.AsInputPeer()}
		case *tg.Channel:
			kind := bridge.ConversationTypeChannel
			if typed.Megagroup {
				kind = bridge.ConversationTypeGroup
			}
			index[typed.ID] = chatEntity{title: typed.Title, kind: kind, peer: typed.AsInputPeer()}
		}
	}

	return index
}

func unixUTC(seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(seconds), 0).UTC()
}
