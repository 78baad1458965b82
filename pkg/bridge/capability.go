package bridge

import "strings"

// Capability describes what a module can process and what services it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for subscriptions.
type InterestSet struct {
	Kinds []EventKind
	// RequireCommand selects only events carrying a command payload.
	RequireCommand bool
	// CommandNames restricts command events to these normalized names.
	CommandNames []string
	// RequireMessage selects only events carrying a message payload.
	RequireMessage bool
	// Sources restricts delivery to events published by these sources.
	Sources []EventSource
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil || !containsCommandName(i.CommandNames, event.Command.Name) {
			return false
		}
	}
	if i.RequireMessage && event.Message == nil {
		return false
	}
	if len(i.Sources) > 0 && !sourceMatches(i.Sources, event.Source) {
		return false
	}

	return true
}

// Allows reports whether this capability interest covers a narrower subscription filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allKindsIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}
	if len(i.CommandNames) > 0 {
		if len(filter.CommandNames) == 0 {
			return false
		}
		for _, name := range filter.CommandNames {
			if !containsCommandName(i.CommandNames, name) {
				return false
			}
		}
	}
	if i.RequireMessage && !filter.RequireMessage {
		return false
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

func allKindsIncluded(subset, allowed []EventKind) bool {
	if len(subset) == 0 {
		return false
	}
	for _, item := range subset {
		if !containsKind(allowed, item) {
			return false
		}
	}

	return true
}

func containsCommandName(names []string, target string) bool {
	target = normalizeCommandName(target)
	for _, candidate := range names {
		if normalizeCommandName(candidate) == target {
			return true
		}
	}

	return false
}

// sourceMatches treats an empty ID or platform in a declared source as a wildcard.
func sourceMatches(sources []EventSource, source EventSource) bool {
	for _, candidate := range sources {
		if candidate.Platform != "" && candidate.Platform != source.Platform {
			continue
		}
		if strings.TrimSpace(candidate.ID) != "" && candidate.ID != source.ID {
			continue
		}
		return true
	}

	return false
}
