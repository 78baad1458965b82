package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"deskbridge/pkg/bridge"
)

func TestKernelRegisterModuleRejects(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *bridge.Event) error { return nil }
	commands := bridge.InterestSet{Kinds: []bridge.EventKind{bridge.EventKindCommandReceived}}
	messages := bridge.InterestSet{Kinds: []bridge.EventKind{bridge.EventKindMessageCreated}}
	subscribeMessages := func(ctx context.Context, runtime bridge.ModuleRuntime) error {
		_, err := runtime.Subscribe(ctx, messages, bridge.SubscriptionSpec{Name: "imperative"}, noop)
		if err != nil {
			return fmt.Errorf("subscribe messages: %w", err)
		}
		return nil
	}

	tests := []struct {
		name    string
		module  *stubModule
		wantIs  error
		wantSub string
	}{
		{
			name: "required service missing",
			module: &stubModule{spec: bridge.ModuleSpec{AdditionalCapabilities: []bridge.Capability{
				{Name: "tickets", RequiredServices: []string{bridge.ServiceTicketService}},
			}}},
			wantIs: bridge.ErrServiceNotFound,
		},
		{
			name: "handler capability without name",
			module: &stubModule{spec: bridge.ModuleSpec{Handlers: []bridge.ModuleHandler{
				{Capability: bridge.Capability{Interest: commands}, Handler: noop},
			}}},
			wantSub: "empty capability name",
		},
		{
			name: "capability name used twice",
			module: &stubModule{spec: bridge.ModuleSpec{
				Handlers:               []bridge.ModuleHandler{{Capability: bridge.Capability{Name: "cap", Interest: commands}, Handler: noop}},
				AdditionalCapabilities: []bridge.Capability{{Name: "cap"}},
			}},
			wantSub: "duplicate capability name",
		},
		{
			name: "handler without function",
			module: &stubModule{spec: bridge.ModuleSpec{Handlers: []bridge.ModuleHandler{
				{Capability: bridge.Capability{Name: "nil-handler", Interest: commands}},
			}}},
			wantSub: "nil handler",
		},
		{
			name: "subscription name used twice",
			module: &stubModule{spec: bridge.ModuleSpec{Handlers: []bridge.ModuleHandler{
				{Capability: bridge.Capability{Name: "a", Interest: commands}, Subscription: bridge.SubscriptionSpec{Name: "queue"}, Handler: noop},
				{Capability: bridge.Capability{Name: "b", Interest: commands}, Subscription: bridge.SubscriptionSpec{Name: "queue"}, Handler: noop},
			}}},
			wantSub: "duplicate subscription name",
		},
		{
			name:    "command without name",
			module:  &stubModule{spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash}}}},
			wantSub: "module command 0",
		},
		{
			name: "command repeated after normalization",
			module: &stubModule{spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{
				{Prefix: bridge.CommandPrefixSlash, Name: "ticket-details"},
				{Prefix: bridge.CommandPrefixSlash, Name: "Ticket_Details"},
			}}},
			wantSub: "duplicate command /ticket-details",
		},
		{
			name:   "imperative subscribe without capability",
			module: &stubModule{onRegister: subscribeMessages},
			wantIs: bridge.ErrInvalidSubscription,
		},
		{
			name: "imperative subscribe outside declared capability",
			module: &stubModule{
				spec:       bridge.ModuleSpec{AdditionalCapabilities: []bridge.Capability{{Name: "commands", Interest: commands}}},
				onRegister: subscribeMessages,
			},
			wantIs: bridge.ErrInvalidSubscription,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

			testCase.module.name = "tickets"
			err := kernelRuntime.RegisterModule(context.Background(), testCase.module)
			switch {
			case err == nil:
				t.Fatal("RegisterModule() succeeded, want error")
			case testCase.wantIs != nil && !errors.Is(err, testCase.wantIs):
				t.Fatalf("RegisterModule() error = %v, want %v", err, testCase.wantIs)
			case testCase.wantSub != "" && !strings.Contains(err.Error(), testCase.wantSub):
				t.Fatalf("RegisterModule() error = %v, want %q", err, testCase.wantSub)
			}
			if len(kernelRuntime.moduleList()) != 0 {
				t.Fatal("rejected module stayed registered")
			}
		})
	}
}

func TestKernelRegisterModuleAccepts(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })
	if err := kernelRuntime.RegisterService(bridge.ServiceTicketService, struct{}{}); err != nil {
		t.Fatalf("RegisterService() error = %v", err)
	}

	messages := bridge.InterestSet{Kinds: []bridge.EventKind{bridge.EventKindMessageCreated}}
	handled := make(chan string, 2)
	module := &stubModule{
		name: "tickets",
		spec: bridge.ModuleSpec{
			Handlers: []bridge.ModuleHandler{{
				Capability:   bridge.Capability{Name: "messages", Interest: messages, RequiredServices: []string{bridge.ServiceTicketService}},
				Subscription: bridge.SubscriptionSpec{Name: "declared", Buffer: 1, Workers: 1},
				Handler: func(_ context.Context, event *bridge.Event) error {
					handled <- "declared " + event.ID
					return nil
				},
			}},
		},
		onRegister: func(ctx context.Context, runtime bridge.ModuleRuntime) error {
			_, err := runtime.Subscribe(ctx, messages, bridge.SubscriptionSpec{Name: "imperative"}, func(_ context.Context, event *bridge.Event) error {
				handled <- "imperative " + event.ID
				return nil
			})
			return err
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "tickets"}); !errors.Is(err, bridge.ErrModuleAlreadyRegistered) {
		t.Fatalf("second RegisterModule() error = %v, want ErrModuleAlreadyRegistered", err)
	}

	if err := kernelRuntime.EventBus().Publish(context.Background(), newMessageEvent("e1", "hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	seen := map[string]bool{}
	for range 2 {
		select {
		case entry := <-handled:
			seen[entry] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("handlers seen = %v, want declared and imperative", seen)
		}
	}
	if !seen["declared e1"] || !seen["imperative e1"] {
		t.Fatalf("handlers seen = %v", seen)
	}
}

func TestKernelLogsProcessedCommands(t *testing.T) {
	t.Parallel()

	output := &lockedBuffer{}
	kernelRuntime := New(WithLogger(slog.New(slog.NewJSONHandler(output, nil))))
	t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

	handled := make(chan string, 2)
	record := func(_ context.Context, event *bridge.Event) error {
		handled <- event.ID
		if event.Command != nil && event.Command.Value == "fail" {
			return errors.New("handler failed")
		}
		return nil
	}
	commands := bridge.InterestSet{
		Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
		RequireCommand: true,
		CommandNames:   []string{"ping"},
	}
	messages := bridge.InterestSet{Kinds: []bridge.EventKind{bridge.EventKindMessageCreated}}
	module := &stubModule{
		name: "pingpong",
		spec: bridge.ModuleSpec{
			Handlers: []bridge.ModuleHandler{
				{
					Capability:   bridge.Capability{Name: "ping-command", Interest: commands},
					Subscription: bridge.SubscriptionSpec{Name: "commands", Buffer: 2, Workers: 1},
					Handler:      record,
				},
				{
					Capability:   bridge.Capability{Name: "messages", Interest: messages},
					Subscription: bridge.SubscriptionSpec{Name: "messages", Buffer: 2, Workers: 1},
					Handler:      record,
				},
			},
			Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash, Name: "ping"}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}

	if err := kernelRuntime.Dispatcher().Publish(context.Background(), newMessageEvent("e1", "/ping fail")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	for range 2 {
		select {
		case <-handled:
		case <-time.After(2 * time.Second):
			t.Fatal("handlers did not run")
		}
	}

	var entries []map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for len(entries) == 0 && time.Now().Before(deadline) {
		entries = output.entries(t, "command processed")
		time.Sleep(5 * time.Millisecond)
	}
	if len(entries) != 1 {
		t.Fatalf("command processed entries = %v, want exactly one for the command event", entries)
	}
	entry := entries[0]
	if entry["module"] != "pingpong" || entry["command"] != "ping" || entry["subject"] != "telegram:user-1" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["failed"] != true {
		t.Fatalf("failed = %v, want true", entry["failed"])
	}
	if _, ok := entry["duration"]; !ok {
		t.Fatalf("entry = %v, want duration", entry)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

// entries decodes the JSON log lines whose msg equals message.
func (b *lockedBuffer) entries(t *testing.T, message string) []map[string]any {
	t.Helper()

	b.mu.Lock()
	lines := strings.Split(strings.TrimSpace(b.buf.String()), "\n")
	b.mu.Unlock()

	var matched []map[string]any
	for _, line := range lines {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry["msg"] == message {
			matched = append(matched, entry)
		}
	}

	return matched
}

func TestKernelRegisterModuleReleasesCommandsOnFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	ping := bridge.ModuleSpec{Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash, Name: "ping"}}}
	failing := &stubModule{
		name: "pingpong",
		spec: ping,
		onRegister: func(context.Context, bridge.ModuleRuntime) error {
			return errors.New("dispatcher missing")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("RegisterModule() succeeded, want OnRegister failure")
	}
	if _, found := kernelRuntime.commands.lookup(bridge.CommandPrefixSlash, "ping"); found {
		t.Fatal("/ping still registered after failed registration")
	}

	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "pingpong", spec: ping}); err != nil {
		t.Fatalf("retry RegisterModule() error = %v", err)
	}
}

func TestKernelCommandCatalog(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	catalog, err := bridge.ResolveAs[bridge.CommandCatalog](kernelRuntime.Services(), bridge.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve command catalog: %v", err)
	}

	for _, module := range []*stubModule{
		{name: "tickets", spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{
			{Prefix: bridge.CommandPrefixSlash, Name: "ticket-summary", Usage: "TICKET_ID"},
			{Prefix: bridge.CommandPrefixSlash, Name: "Ticket_Details", Usage: "TICKET_ID"},
		}}},
		{name: "help", spec: bridge.ModuleSpec{Commands: []bridge.CommandSpec{{Prefix: bridge.CommandPrefixSlash, Name: "help"}}}},
	} {
		if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
			t.Fatalf("RegisterModule(%s) error = %v", module.name, err)
		}
	}

	listed, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("ListCommands() error = %v", err)
	}
	var got []string
	for _, registered := range listed {
		got = append(got, registered.ModuleName+" "+registered.Command.Label())
	}
	want := "help /help,tickets /ticket-details,tickets /ticket-summary"
	if strings.Join(got, ",") != want {
		t.Fatalf("ListCommands() = %v, want %s", got, want)
	}
}

func TestAssertSubscriptionAllowed(t *testing.T) {
	t.Parallel()

	commandCapability := bridge.Capability{
		Name: "tickets",
		Interest: bridge.InterestSet{
			Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
			RequireCommand: true,
			CommandNames:   []string{"ticket-details", "ticket-summary"},
		},
	}

	tests := []struct {
		name         string
		capabilities []bridge.Capability
		interest     bridge.InterestSet
		wantErr      bool
	}{
		{
			name:         "no capabilities",
			capabilities: nil,
			interest:     bridge.InterestSet{Kinds: []bridge.EventKind{bridge.EventKindCommandReceived}},
			wantErr:      true,
		},
		{
			name:         "narrower command subset is allowed",
			capabilities: []bridge.Capability{commandCapability},
			interest: bridge.InterestSet{
				Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"ticket_summary"},
			},
		},
		{
			name:         "undeclared command is rejected",
			capabilities: []bridge.Capability{commandCapability},
			interest: bridge.InterestSet{
				Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"search-tickets"},
			},
			wantErr: true,
		},
		{
			name:         "wildcard kinds are rejected",
			capabilities: []bridge.Capability{commandCapability},
			interest:     bridge.InterestSet{RequireCommand: true, CommandNames: []string{"ticket-details"}},
			wantErr:      true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := assertSubscriptionAllowed(testCase.capabilities, testCase.interest)
			if testCase.wantErr && !errors.Is(err, bridge.ErrInvalidSubscription) {
				t.Fatalf("assertSubscriptionAllowed() error = %v, want ErrInvalidSubscription", err)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("assertSubscriptionAllowed() unexpected error: %v", err)
			}
		})
	}
}

func TestModuleRecordCloseSubscriptionsIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := newTestBus(4, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	record := &moduleRecord{
		name: "tickets",
		capabilities: []bridge.Capability{{
			Name:     "messages",
			Interest: bridge.InterestSet{Kinds: []bridge.EventKind{bridge.EventKindMessageCreated}},
		}},
	}
	runtime := &moduleRuntime{record: record, services: NewServiceRegistry(), bus: bus}

	subscription, err := runtime.Subscribe(context.Background(), bridge.InterestSet{
		Kinds: []bridge.EventKind{bridge.EventKindMessageCreated},
	}, bridge.SubscriptionSpec{}, func(context.Context, *bridge.Event) error { return nil })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if subscription.Name() != "tickets-subscription" {
		t.Fatalf("subscription name = %q, want tickets-subscription", subscription.Name())
	}

	for attempt := range 2 {
		if err := record.closeSubscriptions(context.Background()); err != nil {
			t.Fatalf("closeSubscriptions attempt %d failed: %v", attempt, err)
		}
	}
	if len(record.subscriptions) != 0 {
		t.Fatalf("tracked subscriptions = %d, want 0", len(record.subscriptions))
	}
}
