package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"deskbridge/pkg/bridge"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption tunes a Telegram sink dispatcher.
type OutboundOption func(*SinkDispatcher)

// WithOutboundTimeout bounds every outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(d *SinkDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithOutboundLogger sets the logger used for delivery traces.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(d *SinkDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSinkRef names the sink reported in classified delivery errors.
func WithSinkRef(ref bridge.EventSink) OutboundOption {
	return func(d *SinkDispatcher) {
		if ref.Platform == "" {
			ref.Platform = DriverPlatform
		}
		d.sink = ref
	}
}

// withMessageLimit overrides the per-message length limit.
func withMessageLimit(units int) OutboundOption {
	return func(d *SinkDispatcher) {
		if units > 0 {
			d.limit = units
		}
	}
}

// SinkDispatcher delivers bot replies to Telegram chats.
//
// Replies longer than one Telegram message are sent as consecutive messages;
// only the first one quotes the triggering message.
type SinkDispatcher struct {
	api     telegramAPI
	peers   *PeerCache
	timeout time.Duration
	limit   int
	logger  *slog.Logger
	sink    bridge.EventSink
}

// NewOutboundDispatcher creates a dispatcher bound to a connected gotd client.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newSinkDispatcher(newGotdAPI(client), peers, options...)
}

func newSinkDispatcher(api telegramAPI, peers *PeerCache, options ...OutboundOption) (*SinkDispatcher, error) {
	if api == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil api")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	dispatcher := &SinkDispatcher{
		api:     api,
		peers:   peers,
		timeout: defaultOutboundTimeout,
		limit:   maxMessageUnits,
		logger:  slog.New(slog.DiscardHandler),
		sink:    bridge.EventSink{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(dispatcher)
	}

	return dispatcher, nil
}

// SendMessage posts text into the target chat and returns the first message id.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request bridge.SendMessageRequest,
) (*bridge.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	peer, err := d.peerFor(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	replyTo := 0
	if request.ReplyToMessageID != "" {
		if replyTo, err = messageIDFromString(request.ReplyToMessageID); err != nil {
			return nil, fmt.Errorf("send message reply to %s: %w", request.ReplyToMessageID, err)
		}
	}
	parts, err := splitWireText(request.Text, request.Entities, request.DisableLinkPreview, d.limit)
	if err != nil {
		return nil, fmt.Errorf("send message prepare text: %w", err)
	}

	firstID := 0
	for index, part := range parts {
		id, err := d.call(ctx, bridge.OutboundOperationSendMessage, func(ctx context.Context) (int, error) {
			return d.api.SendText(ctx, peer, part, replyTo)
		})
		if err != nil {
			return nil, fmt.Errorf("send message to %s part %d/%d: %w",
				request.Target.Conversation.ID, index+1, len(parts), err)
		}
		if index == 0 {
			firstID = id
			replyTo = 0
		}
	}

	d.logger.DebugContext(ctx, "telegram message sent",
		"conversation", request.Target.Conversation.ID,
		"message_id", firstID,
		"parts", len(parts),
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &bridge.OutboundMessage{ID: strconv.Itoa(firstID), Target: request.Target}, nil
}

// EditMessage replaces the text of a message sent earlier by the bot.
//
// Text beyond one Telegram message is dropped.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request bridge.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}
	peer, err := d.peerFor(request.Target)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	messageID, err := messageIDFromString(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message %s: %w", request.MessageID, err)
	}
	parts, err := splitWireText(request.Text, request.Entities, request.DisableLinkPreview, d.limit)
	if err != nil {
		return fmt.Errorf("edit message prepare text: %w", err)
	}
	if len(parts) > 1 {
		d.logger.WarnContext(ctx, "telegram edit text truncated",
			"message_id", request.MessageID,
			"dropped_parts", len(parts)-1,
		)
	}

	_, err = d.call(ctx, bridge.OutboundOperationEditMessage, func(ctx context.Context) (int, error) {
		return messageID, d.api.EditText(ctx, peer, messageID, parts[0])
	})
	if err != nil {
		return fmt.Errorf("edit message %s: %w", request.MessageID, err)
	}

	d.logger.DebugContext(ctx, "telegram message edited",
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

// SetReaction adds or clears the bot's reaction on a message.
func (d *SinkDispatcher) SetReaction(ctx context.Context, request bridge.SetReactionRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("set reaction validate: %w", err)
	}

	var reactions []tg.ReactionClass
	if request.Action == bridge.ReactionActionAdd {
		emoji := strings.TrimSpace(request.Emoji)
		if emoji == "" {
			return fmt.Errorf("set reaction: %w: empty emoji", bridge.ErrInvalidOutboundRequest)
		}
		reactions = append(reactions, &tg.ReactionEmoji{Emoticon: emoji})
	}

	peer, err := d.peerFor(request.Target)
	if err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	messageID, err := messageIDFromString(request.MessageID)
	if err != nil {
		return fmt.Errorf("set reaction on %s: %w", request.MessageID, err)
	}

	_, err = d.call(ctx, bridge.OutboundOperationSetReaction, func(ctx context.Context) (int, error) {
		return messageID, d.api.SetReaction(ctx, peer, messageID, reactions)
	})
	if err != nil {
		return fmt.Errorf("set reaction on %s: %w", request.MessageID, err)
	}

	d.logger.DebugContext(ctx, "telegram reaction set",
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"action", request.Action,
	)

	return nil
}

// call runs one RPC under the dispatcher timeout and classifies its failure.
func (d *SinkDispatcher) call(
	ctx context.Context,
	operation bridge.OutboundOperation,
	rpc func(context.Context) (int, error),
) (int, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	id, err := rpc(ctx)
	if err != nil {
		return 0, classifyRPCError(operation, d.sink, err)
	}

	return id, nil
}

func (d *SinkDispatcher) peerFor(target bridge.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != bridge.PlatformTelegram {
		return nil, fmt.Errorf("%w: platform %s", bridge.ErrOutboundUnsupported, target.Sink.Platform)
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation %s: %w", target.Conversation.ID, err)
	}

	return peer, nil
}

func messageIDFromString(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: message id %q is not a positive integer", bridge.ErrInvalidOutboundRequest, raw)
	}

	return value, nil
}

// telegramAPI is the slice of MTProto the dispatcher needs.
type telegramAPI interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text wireText, replyTo int) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, text wireText) error
	SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error
}

type gotdAPI struct {
	raw    *tg.Client
	random io.Reader
	sender *message.Sender
}

func newGotdAPI(client *gotdtelegram.Client) gotdAPI {
	raw := client.API()

	return gotdAPI{raw: raw, random: crypto.DefaultRand(), sender: message.NewSender(raw)}
}

func (a gotdAPI) SendText(ctx context.Context, peer tg.InputPeerClass, text wireText, replyTo int) (int, error) {
	randomID, err := crypto.RandInt64(a.random)
	if err != nil {
		return 0, fmt.Errorf("random id: %w", err)
	}

	request := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   text.body,
		Entities:  text.entities,
		NoWebpage: text.noWebpage,
		RandomID:  randomID,
	}
	if replyTo > 0 {
		request.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	updates, err := a.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("messages.sendMessage: %w", err)
	}
	id, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("unpack sent message id: %w", err)
	}

	return id, nil
}

func (a gotdAPI) EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, text wireText) error {
	_, err := a.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        messageID,
		Message:   text.body,
		Entities:  text.entities,
		NoWebpage: text.noWebpage,
	})
	if err != nil {
		return fmt.Errorf("messages.editMessage: %w", err)
	}

	return nil
}

func (a gotdAPI) SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error {
	if _, err := a.sender.To(peer).Reaction(ctx, messageID, reactions...); err != nil {
		return fmt.Errorf("messages.sendReaction: %w", err)
	}

	return nil
}
