package telegram

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/gotd/td/tg"

	"deskbridge/pkg/bridge"
)

const unknownID = "unknown"

// messageMapper projects new text messages into Updates. Every item it sees
// also teaches the peer cache how to reply to the chats and users involved.
type messageMapper struct {
	peers *PeerCache
}

// project returns the Update for item, or false when item is not a new text
// message from someone other than the bot.
func (m messageMapper) project(item inboundItem) (Update, bool) {
	m.peers.RememberItem(item)

	var raw tg.MessageClass
	switch typed := item.update.(type) {
	case *tg.UpdateNewMessage:
		raw = typed.Message
	case *tg.UpdateNewChannelMessage:
		raw = typed.Message
	default:
		return Update{}, false
	}
	message, ok := raw.(*tg.Message)
	if !ok || message == nil || message.Out {
		return Update{}, false
	}

	chat := chatOf(message.PeerID, item)
	actor := actorOf(message.FromID, item)
	if actor.ID == unknownID {
		actor = actorOf(message.PeerID, item)
	}
	m.peers.RememberConversation(chat, inputPeerOf(message.PeerID, item))

	payload := &MessagePayload{
		ID:       strconv.Itoa(message.ID),
		Text:     message.Message,
		Entities: decodeEntities(message.Message, message.Entities),
	}
	if header, ok := message.ReplyTo.(*tg.MessageReplyHeader); ok {
		if replyTo, ok := header.GetReplyToMsgID(); ok {
			payload.ReplyToID = strconv.Itoa(replyTo)
		}
	}

	occurredAt := unixUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = item.receivedAt
	}

	update := Update{
		ID:         updateID(chat.ID, payload.ID, occurredAt),
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
	}
	if item.origin != "" {
		update.Metadata = map[string]string{"gotd_update": item.origin}
	}

	return update, true
}

func chatOf(peer tg.PeerClass, item inboundItem) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user := userActor(typed.UserID, item)
		return ChatRef{ID: user.ID, Title: user.DisplayName, Type: bridge.ConversationTypePrivate}
	case *tg.PeerChat:
		return groupChat(typed.ChatID, bridge.ConversationTypeGroup, item)
	case *tg.PeerChannel:
		return groupChat(typed.ChannelID, bridge.ConversationTypeChannel, item)
	default:
		return ChatRef{ID: unknownID, Type: bridge.ConversationTypePrivate}
	}
}

func groupChat(id int64, fallback bridge.ConversationType, item inboundItem) ChatRef {
	entity, known := item.chats[id]
	if !known {
		return ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	}

	return ChatRef{ID: strconv.FormatInt(id, 10), Title: entity.title, Type: entity.kind}
}

func actorOf(peer tg.PeerClass, item inboundItem) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return userActor(typed.UserID, item)
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: item.chats[typed.ChatID].title}
	case *tg.PeerChannel:
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: item.chats[typed.ChannelID].title}
	default:
		return ActorRef{ID: unknownID}
	}
}

func userActor(userID int64, item inboundItem) ActorRef {
	if userID == 0 {
		return ActorRef{ID: unknownID}
	}

	actor := ActorRef{ID: strconv.FormatInt(userID, 10)}
	user := item.users[userID]
	if user == nil {
		return actor
	}

	actor.Username, _ = user.GetUsername()
	actor.IsBot = user.Bot
	first, _ := user.GetFirstName()
	last, _ := user.GetLastName()
	for _, candidate := range []string{strings.TrimSpace(first + " " + last), actor.Username, actor.ID} {
		if candidate != "" {
			actor.DisplayName = candidate
			break
		}
	}

	return actor
}

func inputPeerOf(peer tg.PeerClass, item inboundItem) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user := item.users[typed.UserID]; user != nil {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if entity, ok := item.chats[typed.ChannelID]; ok && entity.peer != nil {
			return cloneInputPeer(entity.peer)
		}
	}

	return nil
}

// decodeEntities keeps the entity kinds bridge understands and rewrites
// Telegram UTF-16 ranges as code point ranges. Malformed ranges are dropped.
func decodeEntities(text string, entities []tg.MessageEntityClass) []bridge.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	// points[u] is the number of code points before UTF-16 offset u.
	points := make([]int, 0, len(text)+1)
	count := 0
	for _, value := range text {
		for range utf16.RuneLen(value) {
			points = append(points, count)
		}
		count++
	}
	points = append(points, count)

	var decoded []bridge.TextEntity
	for _, entity := range entities {
		mapped, ok := neutralEntity(entity)
		if !ok {
			continue
		}
		start, end := entity.GetOffset(), entity.GetOffset()+entity.GetLength()
		if start < 0 || end <= start || end >= len(points) {
			continue
		}
		mapped.Offset = points[start]
		mapped.Length = points[end] - points[start]
		if mapped.Length > 0 {
			decoded = append(decoded, mapped)
		}
	}

	return decoded
}

func neutralEntity(entity tg.MessageEntityClass) (bridge.TextEntity, bool) {
	switch typed := entity.(type) {
	case *tg.MessageEntityBold:
		return bridge.TextEntity{Type: bridge.TextEntityTypeBold}, true
	case *tg.MessageEntityItalic:
		return bridge.TextEntity{Type: bridge.TextEntityTypeItalic}, true
	case *tg.MessageEntityCode:
		return bridge.TextEntity{Type: bridge.TextEntityTypeCode}, true
	case *tg.MessageEntityPre:
		return bridge.TextEntity{Type: bridge.TextEntityTypePre, Language: typed.Language}, true
	case *tg.MessageEntityTextURL:
		return bridge.TextEntity{Type: bridge.TextEntityTypeTextURL, URL: typed.URL}, true
	case *tg.MessageEntityURL:
		return bridge.TextEntity{Type: bridge.TextEntityTypeURL}, true
	case *tg.MessageEntityMention:
		return bridge.TextEntity{Type: bridge.TextEntityTypeMention}, true
	case *tg.MessageEntityBotCommand:
		return bridge.TextEntity{Type: bridge.TextEntityTypeBotCommand}, true
	default:
		return bridge.TextEntity{}, false
	}
}

// updateID is tg:message[:chat][:message][:unix nanos], skipping empty parts.
func updateID(chatID string, messageID string, occurredAt time.Time) string {
	id := "tg:message"
	for _, part := range []string{chatID, messageID} {
		if part != "" {
			id += ":" + part
		}
	}
	if !occurredAt.IsZero() {
		id += ":" + strconv.FormatInt(occurredAt.UnixNano(), 10)
	}

	return id
}
