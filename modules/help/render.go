package help

import (
	"cmp"
	"slices"
	"strings"

	"deskbridge/pkg/bridge"
)

const (
	listTitle  = "🤖 Zendesk Bot Commands"
	listIntro  = "Here are all the available commands:"
	listFooter = "Type /help COMMAND for more details about a specific command"
)

// render explains the command topic names, or lists every command when
// topic is empty or unknown. Topic may carry the slash and underscores.
func render(commands []bridge.RegisteredCommand, topic string) bridge.Reply {
	commands = slices.SortedFunc(slices.Values(commands), func(a, b bridge.RegisteredCommand) int {
		return cmp.Or(
			cmp.Compare(a.Command.Label(), b.Command.Label()),
			cmp.Compare(a.ModuleName, b.ModuleName),
		)
	})

	wanted := bridge.NormalizeCommandName(strings.TrimPrefix(strings.TrimSpace(topic), string(bridge.CommandPrefixSlash)))
	if wanted == "" {
		return renderList(commands, "")
	}
	index := slices.IndexFunc(commands, func(registered bridge.RegisteredCommand) bool {
		return bridge.NormalizeCommandName(registered.Command.Name) == wanted
	})
	if index < 0 {
		return renderList(commands, wanted)
	}

	return renderCommand(commands[index].Command)
}

func renderList(commands []bridge.RegisteredCommand, unknown string) bridge.Reply {
	var text bridge.TextBuilder
	if unknown != "" {
		text.Plain("❌ Unknown command: /" + unknown).Line().Line()
	}
	text.Bold(listTitle).Line().Line().Plain(listIntro).Line()

	if len(commands) == 0 {
		text.Line().Italic("(none)").Line()
	}
	for _, registered := range commands {
		spec := registered.Command
		text.Line().Bold(spec.Label()).Line()
		if description := strings.TrimSpace(spec.Description); description != "" {
			text.Plain(description).Line()
		}
		text.Code(spec.UsageLine()).Line()
	}

	return text.Line().Italic(listFooter).Reply()
}

func renderCommand(spec bridge.CommandSpec) bridge.Reply {
	var text bridge.TextBuilder
	text.Bold("Help: " + spec.Label()).Line().Line()
	if description := strings.TrimSpace(spec.Description); description != "" {
		text.Plain(description).Line().Line()
	}
	text.Bold("Usage:").Line().Code(spec.UsageLine())

	if example := strings.TrimSpace(spec.Example); example != "" {
		text.Line().Line().Bold("Example:").Line().Code(spec.Label() + " " + example)
	}
	for _, note := range spec.Notes {
		if note = strings.TrimSpace(note); note != "" {
			text.Line().Line().Plain("💡 ").Italic(note)
		}
	}

	return text.Reply()
}
