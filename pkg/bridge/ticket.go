package bridge

import (
	"context"
	"time"
)

// Ticket is one ticketing-backend record reduced to the fields the bridge renders.
type Ticket struct {
	ID          int64
	Subject     string
	Description string
	Status      string
	Priority    string
	RequesterID int64
	AssigneeID  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Tags        []string
	// URL is the agent-facing web link to the ticket.
	URL string
}

// Comment is one entry of a ticket conversation.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
	// Public is false for internal notes, which are never sent to the summarizer.
	Public bool
}

// SearchResult is one bounded page of ticket search hits.
type SearchResult struct {
	Tickets []Ticket
	// Count is the total number of matches, which can exceed len(Tickets).
	Count int
	// BrowseURL links to the full result list in the ticketing web UI.
	BrowseURL string
}

// TicketService is the ticketing collaborator.
//
// FetchTicket fails with an error matching ErrTicketNotFound when the ticket
// does not exist; every other failure matches ErrUpstream.
type TicketService interface {
	FetchTicket(ctx context.Context, id string) (Ticket, error)
	FetchComments(ctx context.Context, id string) ([]Comment, error)
	SearchTickets(ctx context.Context, query string) (SearchResult, error)
}

// Summarizer is the AI summarization collaborator.
type Summarizer interface {
	// Summarize condenses one ticket conversation into plain text.
	Summarize(ctx context.Context, ticket Ticket, comments []Comment) (string, error)
	// RenderSummary turns a summary into the reply shown in chat.
	RenderSummary(ticket Ticket, summary string) Reply
}

// ResponseCache stores rendered replies by orchestrator-derived key.
type ResponseCache interface {
	Get(key string) (Reply, bool)
	Set(key string, reply Reply)
	Delete(key string)
	Clear()
	Len() int
}
