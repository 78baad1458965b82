package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"deskbridge/pkg/bridge"
)

const (
	commandTicketDetails = "ticket-details"
	commandTicketSummary = "ticket-summary"
	commandSearchTickets = "search-tickets"

	minSearchQueryRunes = 2

	defaultLoadTimeout = 2 * time.Minute

	cacheKeyTicketDetails = "ticketDetails:"
	cacheKeyTicketSummary = "ticketSummary:"
	cacheKeySearchTickets = "searchTickets:"
)

const (
	failedDetailsText = "❌ Sorry, something went wrong while fetching the ticket details."
	failedSummaryText = "❌ Sorry, something went wrong while generating the ticket summary."
	failedSearchText  = "❌ Sorry, something went wrong while searching for tickets."
)

// Option mutates tickets module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
			module.loggerInjected = true
		}
	}
}

// WithLoadTimeout bounds one shared upstream load. The load outlives the
// command that started it, so it needs its own deadline.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(module *Module) {
		if timeout > 0 {
			module.loadTimeout = timeout
		}
	}
}

// Module answers the ticket commands: details, AI summary and search.
//
// Rendered replies are cached by command and argument. Concurrent misses for
// one key share a single upstream load.
type Module struct {
	tickets    bridge.TicketService
	summarizer bridge.Summarizer
	cache      bridge.ResponseCache
	dispatcher bridge.SinkDispatcher

	logger         *slog.Logger
	loggerInjected bool
	loadTimeout    time.Duration

	flights singleflight.Group
}

// New creates a tickets module. Collaborators are resolved in OnRegister.
func New(options ...Option) *Module {
	module := &Module{logger: slog.Default(), loadTimeout: defaultLoadTimeout}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "tickets"
}

// Spec declares one handler and one command per ticket operation.
func (m *Module) Spec() bridge.ModuleSpec {
	return bridge.ModuleSpec{
		Handlers: []bridge.ModuleHandler{
			commandHandler(commandTicketDetails, "renders one ticket for /ticket-details", m.handleTicketDetails),
			commandHandler(commandTicketSummary, "summarizes one ticket conversation for /ticket-summary", m.handleTicketSummary),
			commandHandler(commandSearchTickets, "searches tickets for /search-tickets", m.handleSearchTickets),
		},
		Commands: []bridge.CommandSpec{
			{
				Prefix:      bridge.CommandPrefixSlash,
				Name:        commandTicketDetails,
				Description: "Get detailed information about a specific Zendesk ticket",
				Usage:       "TICKET_ID",
				Example:     "12345",
				Notes:       []string{"Shows ticket status, priority, description, and other key information"},
			},
			{
				Prefix:      bridge.CommandPrefixSlash,
				Name:        commandTicketSummary,
				Description: "Get an AI-generated summary of a Zendesk ticket conversation",
				Usage:       "TICKET_ID",
				Example:     "12345",
				Notes:       []string{"Summarizes the ticket description and all public comments"},
			},
			{
				Prefix:      bridge.CommandPrefixSlash,
				Name:        commandSearchTickets,
				Description: "Search for Zendesk tickets using keywords",
				Usage:       "KEYWORDS",
				Example:     "login issue",
				Notes:       []string{"Searches through ticket subjects and descriptions"},
			},
		},
	}
}

func commandHandler(name string, description string, handler bridge.EventHandler) bridge.ModuleHandler {
	required := []string{
		bridge.ServiceSinkDispatcher,
		bridge.ServiceTicketService,
		bridge.ServiceResponseCache,
	}
	if name == commandTicketSummary {
		required = append(required, bridge.ServiceSummarizer)
	}

	return bridge.ModuleHandler{
		Capability: bridge.Capability{
			Name:        name + "-command-handler",
			Description: description,
			Interest: bridge.InterestSet{
				Kinds:          []bridge.EventKind{bridge.EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{name},
				RequireMessage: true,
			},
			RequiredServices: required,
		},
		Subscription: bridge.NewDefaultSubscriptionSpec("tickets-" + name),
		Handler:      handler,
	}
}

// OnRegister resolves the collaborators used by every ticket command.
func (m *Module) OnRegister(_ context.Context, runtime bridge.ModuleRuntime) error {
	services := runtime.Services()

	if !m.loggerInjected {
		logger, err := bridge.ResolveAs[*slog.Logger](services, bridge.ServiceLogger)
		switch {
		case err == nil:
			m.logger = logger
		case errors.Is(err, bridge.ErrServiceNotFound):
		default:
			return fmt.Errorf("tickets resolve logger: %w", err)
		}
	}

	var err error
	if m.tickets, err = bridge.ResolveAs[bridge.TicketService](services, bridge.ServiceTicketService); err != nil {
		return fmt.Errorf("tickets resolve ticket service: %w", err)
	}
	if m.summarizer, err = bridge.ResolveAs[bridge.Summarizer](services, bridge.ServiceSummarizer); err != nil {
		return fmt.Errorf("tickets resolve summarizer: %w", err)
	}
	if m.cache, err = bridge.ResolveAs[bridge.ResponseCache](services, bridge.ServiceResponseCache); err != nil {
		return fmt.Errorf("tickets resolve response cache: %w", err)
	}
	if m.dispatcher, err = bridge.ResolveAs[bridge.SinkDispatcher](services, bridge.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("tickets resolve sink dispatcher: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleTicketDetails(ctx context.Context, event *bridge.Event) error {
	responder, ok := m.begin(ctx, event, commandTicketDetails)
	if !ok {
		return nil
	}

	id, err := parseTicketID(event.Command.Value)
	if err != nil {
		return m.reject(ctx, responder, commandTicketDetails, err)
	}
	key := cacheKeyTicketDetails + id
	if cached, hit := m.cache.Get(key); hit {
		return m.respond(ctx, responder, commandTicketDetails, cached)
	}

	reply, err := m.load(ctx, key, func(ctx context.Context) (bridge.Reply, bool, error) {
		ticket, err := m.tickets.FetchTicket(ctx, id)
		if err != nil {
			return bridge.Reply{}, false, err
		}

		return renderTicketDetails(ticket), true, nil
	})
	if err != nil {
		reply = m.failureReply(ctx, commandTicketDetails, id, err, failedDetailsText)
	}

	return m.respond(ctx, responder, commandTicketDetails, reply)
}

func (m *Module) handleTicketSummary(ctx context.Context, event *bridge.Event) error {
	responder, ok := m.begin(ctx, event, commandTicketSummary)
	if !ok {
		return nil
	}

	id, err := parseTicketID(event.Command.Value)
	if err != nil {
		return m.reject(ctx, responder, commandTicketSummary, err)
	}
	key := cacheKeyTicketSummary + id
	if cached, hit := m.cache.Get(key); hit {
		return m.respond(ctx, responder, commandTicketSummary, cached)
	}

	if err := m.respond(ctx, responder, commandTicketSummary, progressReply(id)); err != nil {
		return err
	}
	reply, err := m.load(ctx, key, func(ctx context.Context) (bridge.Reply, bool, error) {
		ticket, comments, err := m.fetchConversation(ctx, id)
		if err != nil {
			return bridge.Reply{}, false, err
		}
		summary, err := m.summarizer.Summarize(ctx, ticket, comments)
		if err != nil {
			return bridge.Reply{}, false, fmt.Errorf("summarize ticket %s: %w", id, err)
		}

		return m.summarizer.RenderSummary(ticket, summary), true, nil
	})
	if err != nil {
		reply = m.failureReply(ctx, commandTicketSummary, id, err, failedSummaryText)
	}
	reply.Replace = true

	return m.respond(ctx, responder, commandTicketSummary, reply)
}

func (m *Module) handleSearchTickets(ctx context.Context, event *bridge.Event) error {
	responder, ok := m.begin(ctx, event, commandSearchTickets)
	if !ok {
		return nil
	}

	query, err := validateSearchQuery(event.Command.Value)
	if err != nil {
		return m.reject(ctx, responder, commandSearchTickets, err)
	}
	key := cacheKeySearchTickets + query
	if cached, hit := m.cache.Get(key); hit {
		return m.respond(ctx, responder, commandSearchTickets, cached)
	}

	reply, err := m.load(ctx, key, func(ctx context.Context) (bridge.Reply, bool, error) {
		result, err := m.tickets.SearchTickets(ctx, query)
		if err != nil {
			return bridge.Reply{}, false, err
		}
		if len(result.Tickets) == 0 {
			return noResultsReply(query), false, nil
		}

		return renderSearchResults(query, result), true, nil
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "ticket search failed",
			"command", commandSearchTickets,
			"query", query,
			"error", err,
		)
		reply = bridge.Reply{Text: failedSearchText}
	}

	return m.respond(ctx, responder, commandSearchTickets, reply)
}

// begin checks the event payload, builds a responder and acknowledges the command.
//
// A failed acknowledgement is logged and the command still runs.
func (m *Module) begin(ctx context.Context, event *bridge.Event, name string) (*bridge.DispatchResponder, bool) {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil, false
	}
	if event.Kind != bridge.EventKindCommandReceived || event.Command.Name != name {
		return nil, false
	}
	if m.dispatcher == nil || m.tickets == nil || m.cache == nil {
		m.logger.ErrorContext(ctx, "tickets module not registered", "command", name)
		return nil, false
	}

	responder, err := bridge.NewDispatchResponder(m.dispatcher, event)
	if err != nil {
		m.logger.ErrorContext(ctx, "tickets build responder failed", "command", name, "error", err)
		return nil, false
	}
	if err := responder.Ack(ctx); err != nil {
		m.logger.WarnContext(ctx, "tickets ack failed", "command", name, "error", err)
	}

	return responder, true
}

func (m *Module) respond(ctx context.Context, responder bridge.Responder, name string, reply bridge.Reply) error {
	if err := responder.Respond(ctx, reply); err != nil {
		return fmt.Errorf("tickets respond %s: %w", name, err)
	}

	return nil
}

// reject answers invalid input with the validation reason and the help
// pointer. Nothing is fetched or cached.
func (m *Module) reject(ctx context.Context, responder bridge.Responder, name string, err error) error {
	validationErr, ok := bridge.AsValidationError(err)
	if !ok {
		return fmt.Errorf("tickets reject %s: %w", name, err)
	}
	m.logger.DebugContext(ctx, "ticket command input rejected",
		"command", name,
		"field", validationErr.Field,
		"reason", validationErr.Reason,
	)

	return m.respond(ctx, responder, name, validationReply(validationErr.Reason, name))
}

// failureReply logs err and maps it to the user-facing text for one ticket id.
func (m *Module) failureReply(ctx context.Context, name string, id string, err error, generic string) bridge.Reply {
	if errors.Is(err, bridge.ErrTicketNotFound) {
		m.logger.InfoContext(ctx, "ticket not found", "command", name, "ticket_id", id)
		return notFoundReply(id)
	}

	m.logger.ErrorContext(ctx, "ticket command failed",
		"command", name,
		"ticket_id", id,
		"error", err,
	)

	return bridge.Reply{Text: generic}
}

// loadFunc produces a reply and reports whether it may be cached.
type loadFunc func(ctx context.Context) (reply bridge.Reply, cacheable bool, err error)

// load runs fn once per key across concurrent callers and stores cacheable
// replies. Errors are never cached. The shared load runs detached from the
// caller that started it, under loadTimeout, so one waiter giving up never
// fails the others.
func (m *Module) load(ctx context.Context, key string, fn loadFunc) (bridge.Reply, error) {
	results := m.flights.DoChan(key, func() (any, error) {
		if cached, hit := m.cache.Get(key); hit {
			return cached, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loadTimeout)
		defer cancel()

		reply, cacheable, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}
		if cacheable {
			m.cache.Set(key, reply)
		}

		return reply, nil
	})

	select {
	case <-ctx.Done():
		return bridge.Reply{}, fmt.Errorf("load %s: %w", key, ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return bridge.Reply{}, fmt.Errorf("load %s: %w", key, result.Err)
		}
		reply, ok := result.Val.(bridge.Reply)
		if !ok {
			return bridge.Reply{}, fmt.Errorf("load %s: unexpected result type %T", key, result.Val)
		}

		return reply, nil
	}
}

// fetchConversation loads the ticket and its comments concurrently.
func (m *Module) fetchConversation(ctx context.Context, id string) (bridge.Ticket, []bridge.Comment, error) {
	var (
		ticket   bridge.Ticket
		comments []bridge.Comment
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		fetched, err := m.tickets.FetchTicket(groupCtx, id)
		if err != nil {
			return err
		}
		ticket = fetched
		return nil
	})
	group.Go(func() error {
		fetched, err := m.tickets.FetchComments(groupCtx, id)
		if err != nil {
			return err
		}
		comments = fetched
		return nil
	})
	if err := group.Wait(); err != nil {
		return bridge.Ticket{}, nil, fmt.Errorf("fetch ticket conversation %s: %w", id, err)
	}

	return ticket, comments, nil
}

// parseTicketID accepts a non-empty run of ASCII digits after trimming.
func parseTicketID(value string) (string, error) {
	id := strings.TrimSpace(value)
	if id == "" || strings.IndexFunc(id, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return "", &bridge.ValidationError{Field: "ticket_id", Reason: "Invalid ticket ID"}
	}

	return id, nil
}

// validateSearchQuery trims value and requires minSearchQueryRunes characters.
func validateSearchQuery(value string) (string, error) {
	query := strings.TrimSpace(value)
	if utf8.RuneCountInString(query) < minSearchQueryRunes {
		return "", &bridge.ValidationError{
			Field:  "query",
			Reason: fmt.Sprintf("Search query must be at least %d characters long", minSearchQueryRunes),
		}
	}

	return query, nil
}
