package kernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"deskbridge/pkg/bridge"
)

// commandDeriver publishes driver events and, for a message naming a
// registered command, a second command event.
type commandDeriver struct {
	next      bridge.EventDispatcher
	lookup    func(prefix bridge.CommandPrefix, name string) (bridge.CommandSpec, bool)
	services  bridge.ServiceRegistry
	admission bridge.CommandAdmission
	report    ErrorReporter
}

// Publish forwards event, then its derived command event if there is one and
// admission lets it through. A command that fails to parse or bind gets a
// usage reply instead.
func (d *commandDeriver) Publish(ctx context.Context, event *bridge.Event) error {
	if event == nil {
		return errors.New("publish command deriving sink: nil event")
	}
	if err := d.next.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	command, ok := d.derive(ctx, event)
	if !ok || !d.admit(ctx, command) {
		return nil
	}
	if err := d.next.Publish(ctx, command); err != nil {
		return fmt.Errorf("publish derived command %s: %w", command.Command.Name, err)
	}

	return nil
}

func (d *commandDeriver) derive(ctx context.Context, event *bridge.Event) (*bridge.Event, bool) {
	if event.Kind != bridge.EventKindMessageCreated || event.Message == nil {
		return nil, false
	}
	candidate, matched, parseErr := bridge.ParseCommandCandidate(event.Message.Text)
	if !matched {
		return nil, false
	}
	spec, registered := d.lookup(candidate.Prefix, candidate.Name)
	if !registered {
		return nil, false
	}
	if parseErr != nil {
		d.replyUsage(ctx, event, spec, parseErr)
		return nil, false
	}
	invocation, err := bridge.BindCommand(candidate, spec, event)
	if err != nil {
		d.replyUsage(ctx, event, spec, err)
		return nil, false
	}

	return commandEvent(event, invocation), true
}

// admit reports whether command may reach modules. An admission error counts
// as a rejection.
func (d *commandDeriver) admit(ctx context.Context, command *bridge.Event) bool {
	if d.admission == nil {
		return true
	}
	admitted, err := d.admission.Admit(ctx, command)
	if err != nil {
		d.reportf(ctx, "command admission "+command.Command.Name, err)
		return false
	}

	return admitted
}

func (d *commandDeriver) replyUsage(ctx context.Context, source *bridge.Event, spec bridge.CommandSpec, cause error) {
	if d.services == nil {
		d.reportf(ctx, "command usage reply", errors.New("service lookup unavailable"))
		return
	}
	dispatcher, err := bridge.ResolveAs[bridge.SinkDispatcher](d.services, bridge.ServiceSinkDispatcher)
	if err != nil {
		d.reportf(ctx, "command usage reply", err)
		return
	}
	target, err := bridge.OutboundTargetFromEvent(source)
	if err != nil {
		d.reportf(ctx, "command usage reply", err)
		return
	}

	_, err = dispatcher.SendMessage(ctx, bridge.SendMessageRequest{
		Target:           target,
		Text:             fmt.Sprintf("❌ Error: %s\nUsage: %s", cause, spec.UsageLine()),
		ReplyToMessageID: source.Message.ID,
	})
	if err != nil {
		d.reportf(ctx, "command usage reply", err)
	}
}

func (d *commandDeriver) reportf(ctx context.Context, scope string, err error) {
	if d.report != nil {
		d.report(ctx, scope, err)
	}
}

// commandEvent copies source into a command.received event with id
// "<source id>#command".
func commandEvent(source *bridge.Event, invocation bridge.CommandInvocation) *bridge.Event {
	message := *source.Message
	message.Entities = slices.Clone(source.Message.Entities)

	return &bridge.Event{
		ID:           source.ID + "#command",
		Kind:         bridge.EventKindCommandReceived,
		OccurredAt:   source.OccurredAt,
		Source:       source.Source,
		Conversation: source.Conversation,
		Actor:        source.Actor,
		Message:      &message,
		Command:      &invocation,
		Metadata:     maps.Clone(source.Metadata),
	}
}

var _ bridge.EventDispatcher = (*commandDeriver)(nil)
