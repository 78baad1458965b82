package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CommandPrefix is the character that opens a command.
type CommandPrefix string

const CommandPrefixSlash CommandPrefix = "/"

// Validate accepts only the slash prefix.
func (p CommandPrefix) Validate() error {
	if p == CommandPrefixSlash {
		return nil
	}

	return fmt.Errorf("validate command prefix: unsupported prefix %q", p)
}

// CommandCandidate is a message that looks like a command, before it is
// matched to a registration.
type CommandCandidate struct {
	Prefix CommandPrefix
	// Name is normalized and excludes the prefix and any @mention.
	Name    string
	Mention string
	// RawInput is the message text as received.
	RawInput string
	// Tokens are the whitespace separated words after the command word.
	Tokens []string
}

// CommandInvocation is the command payload of a command.received event.
type CommandInvocation struct {
	Name    string
	Mention string
	// Value is Tokens joined by single spaces.
	Value           string
	SourceEventID   string
	SourceEventKind EventKind
	RawInput        string
}

// Validate requires a name and the source event identity.
func (c *CommandInvocation) Validate() error {
	switch {
	case c == nil:
		return errors.New("validate command invocation: nil invocation")
	case normalizeCommandName(c.Name) == "":
		return errors.New("validate command invocation: missing name")
	case c.SourceEventID == "":
		return errors.New("validate command invocation: missing source_event_id")
	case c.SourceEventKind == "":
		return errors.New("validate command invocation: missing source_event_kind")
	}

	return nil
}

// CommandSpec is one command a module answers, with the text /help shows
// for it.
type CommandSpec struct {
	Prefix CommandPrefix
	// Name such as "ticket-details". Underscores and case are normalized.
	Name        string
	Description string
	// Usage is the argument synopsis such as "TICKET_ID".
	Usage   string
	Example string
	Notes   []string
}

// Validate requires a supported prefix and a single-word name.
func (s CommandSpec) Validate() error {
	if err := s.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}

	name := normalizeCommandName(s.Name)
	switch {
	case name == "":
		return errors.New("validate command spec: missing name")
	case strings.ContainsAny(name, " \t\r\n@"):
		return fmt.Errorf("validate command spec: name %q contains whitespace or mention separator", s.Name)
	}

	return nil
}

// Label is the prefixed normalized name, for example "/ticket-details".
func (s CommandSpec) Label() string {
	return string(s.Prefix) + normalizeCommandName(s.Name)
}

// UsageLine is Label followed by Usage when there is one.
func (s CommandSpec) UsageLine() string {
	return strings.TrimSpace(s.Label() + " " + strings.TrimSpace(s.Usage))
}

// CommandAdmission gates derived commands. An implementation that rejects a
// command tells the requester itself.
type CommandAdmission interface {
	Admit(ctx context.Context, command *Event) (bool, error)
}

// ParseCommandCandidate splits text into a command candidate. matched is
// false for text that does not start with the prefix. A matched text with no
// command name returns an error.
func ParseCommandCandidate(text string) (CommandCandidate, bool, error) {
	candidate := CommandCandidate{RawInput: text}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return candidate, false, nil
	}
	word, isCommand := strings.CutPrefix(fields[0], string(CommandPrefixSlash))
	if !isCommand {
		return candidate, false, nil
	}
	candidate.Prefix = CommandPrefixSlash

	name, mention, _ := strings.Cut(word, "@")
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, errors.New("parse command candidate: missing command name")
	}
	if len(fields) > 1 {
		candidate.Tokens = fields[1:]
	}

	return candidate, true, nil
}

// BindCommand turns candidate into an invocation of spec raised by source.
func BindCommand(candidate CommandCandidate, spec CommandSpec, source *Event) (CommandInvocation, error) {
	if source == nil {
		return CommandInvocation{}, errors.New("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	name := normalizeCommandName(spec.Name)
	switch {
	case candidate.Prefix != spec.Prefix:
		return CommandInvocation{}, fmt.Errorf("bind command %s: prefix mismatch, got %q want %q",
			spec.Name, candidate.Prefix, spec.Prefix)
	case normalizeCommandName(candidate.Name) != name:
		return CommandInvocation{}, fmt.Errorf("bind command %s: name mismatch, got %q", spec.Name, candidate.Name)
	}

	invocation := CommandInvocation{
		Name:            name,
		Mention:         candidate.Mention,
		Value:           strings.Join(candidate.Tokens, " "),
		SourceEventID:   source.ID,
		SourceEventKind: source.Kind,
		RawInput:        candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

// NormalizeCommandName lowercases name and turns "_" into "-". Telegram
// only links underscore commands, so "/ticket_details" and "/ticket-details"
// reach the same registration.
func NormalizeCommandName(name string) string {
	return normalizeCommandName(name)
}

func normalizeCommandName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}
