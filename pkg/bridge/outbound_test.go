package bridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestOutboundTargetFromEvent(t *testing.T) {
	t.Parallel()

	target, err := OutboundTargetFromEvent(validEvent())
	if err != nil {
		t.Fatalf("OutboundTargetFromEvent() error = %v", err)
	}
	if target.Conversation.ID != "42" || target.Sink == nil || target.Sink.ID != "tg-main" {
		t.Fatalf("target = %+v", target)
	}

	unsourced := validEvent()
	unsourced.Source = EventSource{}
	target, err = OutboundTargetFromEvent(unsourced)
	if err != nil || target.Sink != nil {
		t.Fatalf("unsourced target = %+v, %v; want no sink", target, err)
	}

	if _, err := OutboundTargetFromEvent(nil); !errors.Is(err, ErrInvalidOutboundRequest) {
		t.Fatalf("nil event error = %v", err)
	}
}

func TestOutboundRequestValidate(t *testing.T) {
	t.Parallel()

	target := OutboundTarget{Conversation: Conversation{ID: "42", Type: ConversationTypePrivate}}

	tests := []struct {
		name        string
		request     interface{ Validate() error }
		wantErrText string
	}{
		{name: "send", request: SendMessageRequest{Target: target, Text: "hi"}},
		{
			name:        "send without conversation type",
			request:     SendMessageRequest{Target: OutboundTarget{Conversation: Conversation{ID: "42"}}, Text: "hi"},
			wantErrText: "missing conversation type",
		},
		{
			name:        "send with empty sink",
			request:     SendMessageRequest{Target: OutboundTarget{Conversation: target.Conversation, Sink: &EventSink{}}, Text: "hi"},
			wantErrText: "missing sink identity",
		},
		{name: "send without text", request: SendMessageRequest{Target: target}, wantErrText: "missing message text"},
		{
			name:        "send with bad entity",
			request:     SendMessageRequest{Target: target, Text: "hi", Entities: []TextEntity{{Type: TextEntityTypeTextURL, Length: 1}}},
			wantErrText: "text_url requires url",
		},
		{name: "edit", request: EditMessageRequest{Target: target, MessageID: "m-1", Text: "hi"}},
		{name: "edit without id", request: EditMessageRequest{Target: target, Text: "hi"}, wantErrText: "missing message id"},
		{name: "reaction add", request: SetReactionRequest{Target: target, MessageID: "m-1", Emoji: "👀", Action: ReactionActionAdd}},
		{name: "reaction remove without emoji", request: SetReactionRequest{Target: target, MessageID: "m-1", Action: ReactionActionRemove}},
		{
			name:        "reaction add without emoji",
			request:     SetReactionRequest{Target: target, MessageID: "m-1", Action: ReactionActionAdd},
			wantErrText: "missing reaction emoji",
		},
		{
			name:        "reaction unknown action",
			request:     SetReactionRequest{Target: target, MessageID: "m-1", Action: "toggle"},
			wantErrText: `unsupported reaction action "toggle"`,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.request.Validate()
			if testCase.wantErrText == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidOutboundRequest) || !strings.Contains(err.Error(), testCase.wantErrText) {
				t.Fatalf("Validate() error = %v, want %q", err, testCase.wantErrText)
			}
		})
	}
}

func TestOutboundError(t *testing.T) {
	t.Parallel()

	cause := errors.New("FLOOD_WAIT")
	err := fmt.Errorf("reply: %w", &OutboundError{
		Operation:  OutboundOperationSendMessage,
		Kind:       OutboundErrorKindRateLimited,
		Platform:   PlatformTelegram,
		SinkID:     "tg-main",
		RetryAfter: 3 * time.Second,
		Code:       420,
		Cause:      cause,
	})

	want := "reply: outbound error: operation=send_message kind=rate_limited platform=telegram " +
		"sink_id=tg-main retry_after=3s code=420: FLOOD_WAIT"
	if err.Error() != want {
		t.Fatalf("Error() = %q\nwant %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}

	retryAfter, limited := AsOutboundRateLimit(err)
	if !limited || retryAfter != 3*time.Second {
		t.Fatalf("AsOutboundRateLimit() = %s, %v", retryAfter, limited)
	}

	permanent := &OutboundError{Kind: OutboundErrorKindPermanent, Cause: cause}
	if _, limited := AsOutboundRateLimit(permanent); limited {
		t.Fatal("permanent error reported as rate limited")
	}
	if _, limited := AsOutboundRateLimit(cause); limited {
		t.Fatal("plain error reported as rate limited")
	}
}
