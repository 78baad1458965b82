package bridge

import "testing"

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	command := &Event{
		Kind:    EventKindCommandReceived,
		Source:  EventSource{Platform: PlatformTelegram, ID: "tg-main"},
		Message: &Message{ID: "1", Text: "/ping"},
		Command: &CommandInvocation{Name: "ping"},
	}

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "empty interest matches everything",
			interest: InterestSet{},
			event:    command,
			want:     true,
		},
		{
			name:     "kind mismatch",
			interest: InterestSet{Kinds: []EventKind{EventKindMessageCreated}},
			event:    command,
			want:     false,
		},
		{
			name: "command name matches after normalization",
			interest: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"PING"},
			},
			event: command,
			want:  true,
		},
		{
			name:     "command name mismatch",
			interest: InterestSet{CommandNames: []string{"help"}},
			event:    command,
			want:     false,
		},
		{
			name:     "require command on message event",
			interest: InterestSet{RequireCommand: true},
			event:    &Event{Kind: EventKindMessageCreated, Message: &Message{ID: "1"}},
			want:     false,
		},
		{
			name:     "source platform wildcard id",
			interest: InterestSet{Sources: []EventSource{{Platform: PlatformTelegram}}},
			event:    command,
			want:     true,
		},
		{
			name:     "source id mismatch",
			interest: InterestSet{Sources: []EventSource{{Platform: PlatformTelegram, ID: "tg-other"}}},
			event:    command,
			want:     false,
		},
		{
			name:     "nil event",
			interest: InterestSet{},
			event:    nil,
			want:     false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("Matches() = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestInterestSetAllows(t *testing.T) {
	t.Parallel()

	capability := InterestSet{
		Kinds:          []EventKind{EventKindCommandReceived},
		RequireCommand: true,
		CommandNames:   []string{"ticket-details", "ticket-summary"},
	}

	tests := []struct {
		name   string
		filter InterestSet
		want   bool
	}{
		{
			name: "narrower filter allowed",
			filter: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"ticket-details"},
			},
			want: true,
		},
		{
			name: "foreign command rejected",
			filter: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"help"},
			},
			want: false,
		},
		{
			name:   "broader filter rejected",
			filter: InterestSet{RequireCommand: true, CommandNames: []string{"ticket-details"}},
			want:   false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := capability.Allows(testCase.filter); got != testCase.want {
				t.Fatalf("Allows() = %v, want %v", got, testCase.want)
			}
		})
	}
}
