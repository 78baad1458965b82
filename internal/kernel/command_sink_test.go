package kernel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deskbridge/pkg/bridge"
)

func TestCommandDeriverPublishesSourceAndDerivedEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantName  string
		wantValue string
	}{
		{name: "hyphenated", text: "/ticket-details 42", wantName: "ticket-details", wantValue: "42"},
		{name: "underscore alias", text: "/ticket_details   42", wantName: "ticket-details", wantValue: "42"},
		{name: "bot mention", text: "/Ticket_Details@deskbot 42", wantName: "ticket-details", wantValue: "42"},
		{name: "multi word value", text: "/ticket-details  42  extra", wantName: "ticket-details", wantValue: "42 extra"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus, received := newRecordingBus(t, bridge.InterestSet{})
			sink := &commandDeriver{
				next:     bus,
				lookup:   staticLookup("ticket-details"),
				services: NewServiceRegistry(),
			}

			source := newMessageEvent("evt-1", testCase.text)
			if err := sink.Publish(context.Background(), source); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			first := waitEvent(t, received)
			second := waitEvent(t, received)
			if first.Kind != bridge.EventKindMessageCreated {
				t.Fatalf("first kind = %s, want %s", first.Kind, bridge.EventKindMessageCreated)
			}
			if second.Kind != bridge.EventKindCommandReceived {
				t.Fatalf("second kind = %s, want %s", second.Kind, bridge.EventKindCommandReceived)
			}
			if second.ID != "evt-1#command" {
				t.Fatalf("derived id = %q, want evt-1#command", second.ID)
			}
			if second.Command.Name != testCase.wantName {
				t.Fatalf("command name = %q, want %q", second.Command.Name, testCase.wantName)
			}
			if second.Command.Value != testCase.wantValue {
				t.Fatalf("command value = %q, want %q", second.Command.Value, testCase.wantValue)
			}
			if second.Command.SourceEventID != source.ID {
				t.Fatalf("source event id = %q, want %q", second.Command.SourceEventID, source.ID)
			}
			if second.Message == nil || second.Message.ID != source.Message.ID {
				t.Fatalf("derived message = %+v, want id %s", second.Message, source.Message.ID)
			}
			if second.SubjectKey() != "telegram:user-1" {
				t.Fatalf("subject key = %q, want telegram:user-1", second.SubjectKey())
			}
		})
	}
}

func TestCommandDeriverUnregisteredCommandPublishesOnlySourceEvent(t *testing.T) {
	t.Parallel()

	bus, commandEvents := newRecordingBus(t, bridge.InterestSet{
		Kinds: []bridge.EventKind{bridge.EventKindCommandReceived},
	})
	sink := &commandDeriver{
		next:     bus,
		lookup:   staticLookup("ping"),
		services: NewServiceRegistry(),
	}

	for _, text := range []string{"/unknown 1", "plain text", "/", "ping"} {
		if err := sink.Publish(context.Background(), newMessageEvent("evt-"+text, text)); err != nil {
			t.Fatalf("publish %q failed: %v", text, err)
		}
	}

	select {
	case event := <-commandEvents:
		t.Fatalf("unexpected command event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCommandDeriverAdmission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		admitted    bool
		admitErr    error
		wantDerived bool
		wantAsync   bool
	}{
		{name: "admitted command is published", admitted: true, wantDerived: true},
		{name: "rejected command is dropped", admitted: false, wantDerived: false},
		{name: "admission failure drops and reports", admitErr: errors.New("limiter offline"), wantAsync: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus, commandEvents := newRecordingBus(t, bridge.InterestSet{
				Kinds: []bridge.EventKind{bridge.EventKindCommandReceived},
			})
			admission := &stubAdmission{admitted: testCase.admitted, err: testCase.admitErr}
			var asyncErrors atomic.Int32
			sink := &commandDeriver{
				next:      bus,
				lookup:    staticLookup("ticket-summary"),
				services:  NewServiceRegistry(),
				admission: admission,
				report: func(context.Context, string, error) {
					asyncErrors.Add(1)
				},
			}

			if err := sink.Publish(context.Background(), newMessageEvent("evt-1", "/ticket-summary 7")); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			if admission.calls.Load() != 1 {
				t.Fatalf("admission calls = %d, want 1", admission.calls.Load())
			}
			if got := admission.lastSubject(); got != "telegram:user-1" {
				t.Fatalf("admission subject = %q, want telegram:user-1", got)
			}
			if (asyncErrors.Load() > 0) != testCase.wantAsync {
				t.Fatalf("async errors = %d, want reported=%v", asyncErrors.Load(), testCase.wantAsync)
			}

			if testCase.wantDerived {
				event := waitEvent(t, commandEvents)
				if event.Command.Value != "7" {
					t.Fatalf("command value = %q, want 7", event.Command.Value)
				}
				return
			}
			select {
			case event := <-commandEvents:
				t.Fatalf("unexpected derived command event: %+v", event)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestCommandDeriverBindErrorRepliesAndSkipsDerivedEvent(t *testing.T) {
	t.Parallel()

	bus, commandEvents := newRecordingBus(t, bridge.InterestSet{
		Kinds: []bridge.EventKind{bridge.EventKindCommandReceived},
	})
	dispatcher := &commandReplyCaptureDispatcher{}
	services := NewServiceRegistry()
	if err := services.Register(bridge.ServiceSinkDispatcher, dispatcher); err != nil {
		t.Fatalf("register dispatcher failed: %v", err)
	}

	sink := &commandDeriver{
		next: bus,
		lookup: func(bridge.CommandPrefix, string) (bridge.CommandSpec, bool) {
			return bridge.CommandSpec{Prefix: bridge.CommandPrefixSlash, Name: "search-tickets", Usage: "QUERY"}, true
		},
		services: services,
	}

	if err := sink.Publish(context.Background(), newMessageEvent("evt-4", "/find printer")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if dispatcher.calls.Load() != 1 {
		t.Fatalf("reply calls = %d, want 1", dispatcher.calls.Load())
	}
	request := dispatcher.last()
	if !strings.HasPrefix(request.Text, "❌ Error: ") || !strings.Contains(request.Text, "/search-tickets QUERY") {
		t.Fatalf("reply text = %q, want error with usage line", request.Text)
	}
	if request.ReplyToMessageID != "msg-evt-4" {
		t.Fatalf("reply_to = %q, want msg-evt-4", request.ReplyToMessageID)
	}

	select {
	case event := <-commandEvents:
		t.Fatalf("unexpected derived command event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKernelRegisterModuleRejectsDuplicateCommandAcrossModules(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	moduleA := &stubModule{
		name: "command-a",
		spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash, Name: "ping"}}},
	}
	moduleB := &stubModule{
		name: "command-b",
		spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash, Name: "PING"}}},
	}

	if err := kernelRuntime.RegisterModule(context.Background(), moduleA); err != nil {
		t.Fatalf("register module A failed: %v", err)
	}
	err := kernelRuntime.RegisterModule(context.Background(), moduleB)
	if err == nil || !strings.Contains(err.Error(), "already registered by module command-a") {
		t.Fatalf("error = %v, want duplicate registration error", err)
	}
}

func TestKernelDispatcherAppliesConfiguredAdmission(t *testing.T) {
	t.Parallel()

	admission := &stubAdmission{admitted: false}
	kernelRuntime := New(WithCommandAdmission(admission))
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{
		name: "pingpong",
		spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash, Name: "ping"}}},
	}); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	if err := kernelRuntime.Dispatcher().Publish(context.Background(), newMessageEvent("evt-1", "/ping")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if admission.calls.Load() != 1 {
		t.Fatalf("admission calls = %d, want 1", admission.calls.Load())
	}
}

func newRecordingBus(t *testing.T, interest bridge.InterestSet) (*EventBus, <-chan *bridge.Event) {
	t.Helper()

	bus := newTestBus(8, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *bridge.Event, 8)
	_, err := bus.Subscribe(context.Background(), interest, bridge.SubscriptionSpec{Name: "recorder", Buffer: 8, Workers: 1},
		func(_ context.Context, event *bridge.Event) error {
			received <- event
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	return bus, received
}

func staticLookup(names ...string) func(bridge.CommandPrefix, string) (bridge.CommandSpec, bool) {
	return func(prefix bridge.CommandPrefix, name string) (bridge.CommandSpec, bool) {
		for _, registered := range names {
			if prefix == bridge.CommandPrefixSlash && bridge.NormalizeCommandName(name) == registered {
				return bridge.CommandSpec{Prefix: bridge.CommandPrefixSlash, Name: registered}, true
			}
		}
		return bridge.CommandSpec{}, false
	}
}

func waitEvent(t *testing.T, events <-chan *bridge.Event) *bridge.Event {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

type stubAdmission struct {
	admitted bool
	err      error

	calls   atomic.Int32
	mu      sync.Mutex
	subject string
}

func (a *stubAdmission) Admit(_ context.Context, command *bridge.Event) (bool, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.subject = command.SubjectKey()
	a.mu.Unlock()

	return a.admitted, a.err
}

func (a *stubAdmission) lastSubject() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.subject
}

type commandReplyCaptureDispatcher struct {
	calls       atomic.Int64
	mu          sync.Mutex
	lastRequest bridge.SendMessageRequest
}

func (d *commandReplyCaptureDispatcher) SendMessage(
	_ context.Context,
	request bridge.SendMessageRequest,
) (*bridge.OutboundMessage, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.lastRequest = request
	d.mu.Unlock()

	return &bridge.OutboundMessage{ID: "out-1", Target: request.Target}, nil
}

func (d *commandReplyCaptureDispatcher) last() bridge.SendMessageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastRequest
}

func (*commandReplyCaptureDispatcher) EditMessage(context.Context, bridge.EditMessageRequest) error {
	return nil
}

func (*commandReplyCaptureDispatcher) SetReaction(context.Context, bridge.SetReactionRequest) error {
	return nil
}
