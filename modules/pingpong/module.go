// Package pingpong is the liveness check: the bot answers "ping" with a pong.
package pingpong

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"deskbridge/pkg/bridge"
)

const (
	pingWord = "ping"
	pongText = "🏓 pong! Bot is alive and well!"
)

// Module answers both the /ping command and any message that contains the
// word "ping".
type Module struct {
	dispatcher bridge.SinkDispatcher
}

// New creates the module. Its dispatcher is resolved in OnRegister.
func New() *Module {
	return &Module{}
}

func (m *Module) Name() string {
	return "pingpong"
}

// Spec subscribes one handler for the command and one for plain messages.
// Plain messages get a small single-worker queue since nearly all of them
// are ignored.
func (m *Module) Spec() bridge.ModuleSpec {
	return bridge.ModuleSpec{
		Handlers: []bridge.ModuleHandler{
			{
				Capability: bridge.Capability{
					Name:        "ping-command",
					Description: "answers /ping",
					Interest: bridge.InterestSet{
						Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{pingWord},
						RequireMessage: true,
					},
					RequiredServices: []string{bridge.ServiceSinkDispatcher},
				},
				Subscription: bridge.NewDefaultSubscriptionSpec("pingpong-commands"),
				Handler:      m.answer,
			},
			{
				Capability: bridge.Capability{
					Name:        "ping-message",
					Description: `answers a message mentioning "ping"`,
					Interest: bridge.InterestSet{
						Kinds:          []bridge.EventKind{bridge.EventKindMessageCreated},
						RequireMessage: true,
					},
					RequiredServices: []string{bridge.ServiceSinkDispatcher},
				},
				Subscription: bridge.SubscriptionSpec{
					Name:         "pingpong-messages",
					Buffer:       32,
					Workers:      1,
					Backpressure: bridge.BackpressureDropOldest,
				},
				Handler: m.answer,
			},
		},
		Commands: []bridge.CommandSpec{{
			Prefix:      bridge.CommandPrefixSlash,
			Name:        pingWord,
			Description: "Check that the bot is alive",
		}},
	}
}

func (m *Module) OnRegister(_ context.Context, runtime bridge.ModuleRuntime) error {
	dispatcher, err := bridge.ResolveAs[bridge.SinkDispatcher](runtime.Services(), bridge.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("pingpong resolve sink dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	return nil
}

func (m *Module) OnStart(context.Context) error { return nil }

func (m *Module) OnShutdown(context.Context) error { return nil }

func (m *Module) answer(ctx context.Context, event *bridge.Event) error {
	if !isPing(event) {
		return nil
	}

	responder, err := bridge.NewDispatchResponder(m.dispatcher, event)
	if err != nil {
		return fmt.Errorf("pingpong build responder: %w", err)
	}
	if err := responder.Respond(ctx, bridge.Reply{Text: pongText}); err != nil {
		return fmt.Errorf("pingpong send pong message: %w", err)
	}

	return nil
}

// isPing matches a /ping command event, or a message from a person that
// contains "ping" as a word in any case. Slash text is left to the command
// handler so /ping is answered once.
func isPing(event *bridge.Event) bool {
	if event == nil || event.Message == nil {
		return false
	}

	switch event.Kind {
	case bridge.EventKindCommandReceived:
		return event.Command != nil && event.Command.Name == pingWord
	case bridge.EventKindMessageCreated:
		text := strings.TrimSpace(event.Message.Text)
		if event.Actor.IsBot || strings.HasPrefix(text, string(bridge.CommandPrefixSlash)) {
			return false
		}
		words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		return slices.ContainsFunc(words, func(word string) bool { return strings.EqualFold(word, pingWord) })
	default:
		return false
	}
}

var (
	_ bridge.Module          = (*Module)(nil)
	_ bridge.ModuleRegistrar = (*Module)(nil)
)
