package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"deskbridge/pkg/bridge"
)

// PeerCache stores Telegram input peers discovered from inbound updates so
// replies can be routed back to the conversation they came from.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[peerKey]tg.InputPeerClass
}

type peerKey struct {
	kind bridge.ConversationType
	id   string
}

// peerFallbacks lists the alternate conversation kinds tried when an exact
// match is missing. Megagroups are groups in events but channels on the wire.
var peerFallbacks = map[bridge.ConversationType]bridge.ConversationType{
	bridge.ConversationTypeGroup:   bridge.ConversationTypeChannel,
	bridge.ConversationTypeChannel: bridge.ConversationTypeGroup,
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[peerKey]tg.InputPeerClass)}
}

// RememberItem stores peers for every user and chat delivered with item.
func (c *PeerCache) RememberItem(item inboundItem) {
	if c == nil || (len(item.users) == 0 && len(item.chats) == 0) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range item.users {
		if user != nil {
			c.storeLocked(bridge.ConversationTypePrivate, strconv.FormatInt(userID, 10), user.AsInputPeer())
		}
	}
	for chatID, chat := range item.chats {
		c.storeLocked(chat.kind, strconv.FormatInt(chatID, 10), chat.peer)
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(chat.Type, chat.ID, peer)
}

func (c *PeerCache) storeLocked(kind bridge.ConversationType, id string, peer tg.InputPeerClass) {
	if peer == nil || id == "" {
		return
	}

	c.peers[peerKey{kind: kind, id: id}] = cloneInputPeer(peer)
	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel && kind == bridge.ConversationTypeGroup {
		c.peers[peerKey{kind: bridge.ConversationTypeChannel, id: id}] = cloneInputPeer(peer)
	}
}

// Resolve returns an input peer for an outbound target conversation.
func (c *PeerCache) Resolve(conversation bridge.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid conversation")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if peer, ok := c.peers[peerKey{kind: conversation.Type, id: conversation.ID}]; ok {
		return cloneInputPeer(peer), nil
	}
	if alternate, ok := peerFallbacks[conversation.Type]; ok {
		if peer, ok := c.peers[peerKey{kind: alternate, id: conversation.ID}]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not found", conversation.Type, conversation.ID)
}

// Len reports how many conversation mappings are stored.
func (c *PeerCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.peers)
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
