package tickets

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"deskbridge/pkg/bridge"
)

const (
	maxDescriptionRunes = 500
	timestampLayout     = "Jan 2, 2006 at 15:04 UTC"
	searchDateLayout    = "Jan 2, 2006"
)

var statusEmoji = map[string]string{
	"new":     "🆕",
	"open":    "📖",
	"pending": "⏳",
	"solved":  "✅",
	"closed":  "🔒",
}

var priorityLabels = map[string]string{
	"urgent": "🔴 Urgent",
	"high":   "🟠 High",
	"normal": "🟡 Normal",
	"low":    "🟢 Low",
}

// renderTicketDetails formats one ticket for /ticket-details.
func renderTicketDetails(ticket bridge.Ticket) bridge.Reply {
	var builder bridge.TextBuilder
	builder.Bold(fmt.Sprintf("Ticket #%d: %s", ticket.ID, ticket.Subject)).Line().Line()

	builder.Bold("Status:").Plain(" " + statusLabel(ticket.Status)).Line()
	builder.Bold("Priority:").Plain(" " + priorityLabel(ticket.Priority)).Line()
	builder.Bold("Created:").Plain(" " + formatTimestamp(ticket.CreatedAt, timestampLayout)).Line()
	builder.Bold("Updated:").Plain(" " + formatTimestamp(ticket.UpdatedAt, timestampLayout)).Line().Line()

	builder.Bold("Description:").Line()
	if description := strings.TrimSpace(ticket.Description); description != "" {
		builder.Plain(truncateRunes(description, maxDescriptionRunes))
	} else {
		builder.Italic("No description provided")
	}
	builder.Line().Line()

	tags := "No tags"
	if len(ticket.Tags) > 0 {
		tags = strings.Join(ticket.Tags, ", ")
	}
	builder.Plain("🏷️ Tags: " + tags).Line().Line()
	builder.Link("View in Zendesk", ticket.URL)

	reply := builder.Reply()
	reply.DisableLinkPreview = true

	return reply
}

// renderSearchResults formats one search page for /search-tickets.
func renderSearchResults(query string, result bridge.SearchResult) bridge.Reply {
	count := result.Count
	if count < len(result.Tickets) {
		count = len(result.Tickets)
	}
	noun := "tickets"
	if count == 1 {
		noun = "ticket"
	}

	var builder bridge.TextBuilder
	builder.Bold(fmt.Sprintf("🔍 Found %d %s matching: %q", count, noun, query)).Line()
	for _, ticket := range result.Tickets {
		builder.Line()
		builder.Link(fmt.Sprintf("#%d: %s", ticket.ID, ticket.Subject), ticket.URL).Line()
		builder.Plain(ticket.Status + " • Created: " + formatTimestamp(ticket.CreatedAt, searchDateLayout)).Line()
	}
	if count > len(result.Tickets) {
		builder.Line()
		builder.Italic(fmt.Sprintf("Showing %d of %d matches. View all results in ", len(result.Tickets), count))
		builder.Link("Zendesk", result.BrowseURL)
	}

	reply := builder.Reply()
	reply.Text = strings.TrimRight(reply.Text, "\n")
	reply.DisableLinkPreview = true

	return reply
}

func noResultsReply(query string) bridge.Reply {
	return bridge.Reply{Text: fmt.Sprintf("No tickets found matching: %q", query)}
}

// validationReply renders rejected input together with the help pointer.
func validationReply(reason string, commandName string) bridge.Reply {
	var builder bridge.TextBuilder
	builder.Plain("❌ ").Bold("Error:").Plain(" " + reason).Line()
	builder.Plain("Type ").Code("/help "+commandName).Plain(" for usage information")

	return builder.Reply()
}

func notFoundReply(id string) bridge.Reply {
	return bridge.Reply{Text: fmt.Sprintf("❌ Ticket %s not found", id)}
}

func progressReply(id string) bridge.Reply {
	return bridge.Reply{Text: fmt.Sprintf("🎫 Fetching ticket #%s and generating summary...", id)}
}

func statusLabel(status string) string {
	emoji, ok := statusEmoji[strings.ToLower(status)]
	if !ok {
		emoji = "❓"
	}

	return strings.TrimSpace(emoji + " " + status)
}

func priorityLabel(priority string) string {
	if label, ok := priorityLabels[strings.ToLower(priority)]; ok {
		return label
	}

	return "⚪️ Not set"
}

func formatTimestamp(value time.Time, layout string) string {
	if value.IsZero() {
		return "unknown"
	}

	return value.UTC().Format(layout)
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}

	runes := []rune(value)
	return string(runes[:limit]) + "..."
}
