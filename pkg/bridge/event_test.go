package bridge

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*Event)
		nilEvent    bool
		wantErrText string
	}{
		{name: "valid message event"},
		{
			name: "valid command event",
			mutate: func(e *Event) {
				e.Kind = EventKindCommandReceived
				e.Command = &CommandInvocation{Name: "ping", SourceEventID: "e-1", SourceEventKind: EventKindMessageCreated}
			},
		},
		{name: "nil event", nilEvent: true, wantErrText: "nil event"},
		{name: "missing id", mutate: func(e *Event) { e.ID = "" }, wantErrText: "missing id"},
		{name: "missing kind", mutate: func(e *Event) { e.Kind = "" }, wantErrText: "missing kind"},
		{name: "zero time", mutate: func(e *Event) { e.OccurredAt = time.Time{} }, wantErrText: "missing occurred_at"},
		{name: "missing conversation", mutate: func(e *Event) { e.Conversation.ID = "" }, wantErrText: "missing conversation id"},
		{name: "unknown kind", mutate: func(e *Event) { e.Kind = "message.deleted" }, wantErrText: `unsupported kind "message.deleted"`},
		{
			name:        "command kind without command",
			mutate:      func(e *Event) { e.Kind = EventKindCommandReceived },
			wantErrText: "requires command payload",
		},
		{name: "message kind without message", mutate: func(e *Event) { e.Message = nil }, wantErrText: "requires message payload"},
		{
			name: "entity outside text",
			mutate: func(e *Event) {
				e.Message.Entities = []TextEntity{{Type: TextEntityTypeBold, Offset: 1, Length: 10}}
			},
			wantErrText: "exceeds text length",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			event := validEvent()
			if testCase.mutate != nil {
				testCase.mutate(event)
			}
			if testCase.nilEvent {
				event = nil
			}

			err := event.Validate()
			if testCase.wantErrText == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("Validate() error = %v, want ErrInvalidEvent", err)
			}
			if !strings.Contains(err.Error(), testCase.wantErrText) {
				t.Fatalf("Validate() error = %v, want %q", err, testCase.wantErrText)
			}
		})
	}
}

func TestEventSubjectKey(t *testing.T) {
	t.Parallel()

	var nilEvent *Event
	if got := nilEvent.SubjectKey(); got != "" {
		t.Fatalf("nil event subject = %q", got)
	}

	event := validEvent()
	if got := event.SubjectKey(); got != "telegram:7" {
		t.Fatalf("subject = %q, want telegram:7", got)
	}

	event.Actor.ID = ""
	if got := event.SubjectKey(); got != "" {
		t.Fatalf("anonymous subject = %q, want empty", got)
	}
}

func validEvent() *Event {
	return &Event{
		ID:           "e-1",
		Kind:         EventKindMessageCreated,
		OccurredAt:   time.Unix(10, 0).UTC(),
		Source:       EventSource{Platform: PlatformTelegram, ID: "tg-main"},
		Conversation: Conversation{ID: "42", Type: ConversationTypeGroup},
		Actor:        Actor{ID: "7"},
		Message:      &Message{ID: "m-1", Text: "hello"},
	}
}
