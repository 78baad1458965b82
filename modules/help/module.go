// Package help answers /help with the commands every module registered.
package help

import (
	"context"
	"errors"
	"fmt"

	"deskbridge/pkg/bridge"
)

const commandName = "help"

// Module renders the command catalog on request.
type Module struct {
	dispatcher bridge.SinkDispatcher
	catalog    bridge.CommandCatalog
}

func New() *Module {
	return &Module{}
}

func (m *Module) Name() string {
	return "help"
}

func (m *Module) Spec() bridge.ModuleSpec {
	return bridge.ModuleSpec{
		Handlers: []bridge.ModuleHandler{{
			Capability: bridge.Capability{
				Name:        "help-command",
				Description: "lists commands or explains one",
				Interest: bridge.InterestSet{
					Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
					RequireCommand: true,
					CommandNames:   []string{commandName},
					RequireMessage: true,
				},
				RequiredServices: []string{bridge.ServiceSinkDispatcher, bridge.ServiceCommandCatalog},
			},
			Subscription: bridge.NewDefaultSubscriptionSpec("help-commands"),
			Handler:      m.answer,
		}},
		Commands: []bridge.CommandSpec{{
			Prefix:      bridge.CommandPrefixSlash,
			Name:        commandName,
			Description: "Show all available commands or details about one command",
			Usage:       "[COMMAND]",
			Example:     "ticket-summary",
		}},
	}
}

func (m *Module) OnRegister(_ context.Context, runtime bridge.ModuleRuntime) error {
	var err error
	if m.dispatcher, err = bridge.ResolveAs[bridge.SinkDispatcher](runtime.Services(), bridge.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("help resolve sink dispatcher: %w", err)
	}
	if m.catalog, err = bridge.ResolveAs[bridge.CommandCatalog](runtime.Services(), bridge.ServiceCommandCatalog); err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	return nil
}

func (m *Module) OnStart(context.Context) error { return nil }

func (m *Module) OnShutdown(context.Context) error { return nil }

func (m *Module) answer(ctx context.Context, event *bridge.Event) error {
	if event == nil || event.Message == nil || event.Command == nil || event.Command.Name != commandName {
		return nil
	}
	if m.dispatcher == nil || m.catalog == nil {
		return errors.New("help answer: module not registered")
	}

	commands, err := m.catalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	responder, err := bridge.NewDispatchResponder(m.dispatcher, event)
	if err != nil {
		return fmt.Errorf("help build responder: %w", err)
	}
	if err := responder.Respond(ctx, render(commands, event.Command.Value)); err != nil {
		return fmt.Errorf("help send reply: %w", err)
	}

	return nil
}

var (
	_ bridge.Module          = (*Module)(nil)
	_ bridge.ModuleRegistrar = (*Module)(nil)
)
