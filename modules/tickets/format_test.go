package tickets

import (
	"errors"
	"strings"
	"testing"
	"time"

	"deskbridge/pkg/bridge"
)

func TestRenderTicketDetails(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
	tests := []struct {
		name        string
		ticket      bridge.Ticket
		wantLines   []string
		absentLines []string
	}{
		{
			name: "full ticket",
			ticket: bridge.Ticket{
				ID:          42,
				Subject:     "Printer on fire",
				Description: "Smoke everywhere",
				Status:      "open",
				Priority:    "urgent",
				CreatedAt:   created,
				UpdatedAt:   created.Add(time.Hour),
				Tags:        []string{"hardware", "office"},
				URL:         "https://acme.zendesk.com/agent/tickets/42",
			},
			wantLines: []string{
				"Ticket #42: Printer on fire",
				"Status: 📖 open",
				"Priority: 🔴 Urgent",
				"Created: Mar 5, 2024 at 14:07 UTC",
				"Updated: Mar 5, 2024 at 15:07 UTC",
				"Smoke everywhere",
				"🏷️ Tags: hardware, office",
				"View in Zendesk",
			},
		},
		{
			name:   "sparse ticket falls back to placeholders",
			ticket: bridge.Ticket{ID: 7, Subject: "Help", Status: "mystery"},
			wantLines: []string{
				"Status: ❓ mystery",
				"Priority: ⚪️ Not set",
				"Created: unknown",
				"No description provided",
				"🏷️ Tags: No tags",
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			reply := renderTicketDetails(testCase.ticket)
			if err := bridge.ValidateTextEntities(reply.Text, reply.Entities); err != nil {
				t.Fatalf("entities invalid: %v", err)
			}
			if !reply.DisableLinkPreview {
				t.Fatal("expected link preview to be disabled")
			}
			lines := strings.Split(reply.Text, "\n")
			for _, want := range testCase.wantLines {
				if !containsLine(lines, want) {
					t.Fatalf("reply missing line %q:\n%s", want, reply.Text)
				}
			}
		})
	}
}

func TestRenderTicketDetailsTruncatesDescription(t *testing.T) {
	t.Parallel()

	reply := renderTicketDetails(bridge.Ticket{ID: 1, Description: strings.Repeat("ж", 600)})
	want := strings.Repeat("ж", maxDescriptionRunes) + "..."
	if !containsLine(strings.Split(reply.Text, "\n"), want) {
		t.Fatalf("reply does not contain truncated description:\n%s", reply.Text)
	}
}

func TestRenderTicketDetailsLinksTicketURL(t *testing.T) {
	t.Parallel()

	reply := renderTicketDetails(bridge.Ticket{ID: 42, URL: "https://acme.zendesk.com/agent/tickets/42"})
	for _, entity := range reply.Entities {
		if entity.Type == bridge.TextEntityTypeTextURL {
			if entity.URL != "https://acme.zendesk.com/agent/tickets/42" {
				t.Fatalf("link url = %q", entity.URL)
			}
			return
		}
	}

	t.Fatal("expected a link entity")
}

func TestRenderSearchResults(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, time.January, 9, 8, 0, 0, 0, time.UTC)
	tickets := []bridge.Ticket{
		{ID: 1, Subject: "Cannot log in", Status: "open", CreatedAt: created, URL: "https://acme/1"},
		{ID: 2, Subject: "Login loop", Status: "pending", CreatedAt: created, URL: "https://acme/2"},
	}

	tests := []struct {
		name       string
		result     bridge.SearchResult
		wantText   string
		wantFooter bool
	}{
		{
			name:     "complete page",
			result:   bridge.SearchResult{Tickets: tickets, Count: 2},
			wantText: "🔍 Found 2 tickets matching: \"login\"\n\n#1: Cannot log in\nopen • Created: Jan 9, 2024\n\n#2: Login loop\npending • Created: Jan 9, 2024",
		},
		{
			name:       "truncated page links to the full list",
			result:     bridge.SearchResult{Tickets: tickets, Count: 12, BrowseURL: "https://acme/search"},
			wantText:   "🔍 Found 12 tickets matching: \"login\"",
			wantFooter: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			reply := renderSearchResults("login", testCase.result)
			if err := bridge.ValidateTextEntities(reply.Text, reply.Entities); err != nil {
				t.Fatalf("entities invalid: %v", err)
			}
			if !strings.HasPrefix(reply.Text, testCase.wantText) {
				t.Fatalf("text = %q, want prefix %q", reply.Text, testCase.wantText)
			}
			hasFooter := strings.HasSuffix(reply.Text, "Showing 2 of 12 matches. View all results in Zendesk")
			if hasFooter != testCase.wantFooter {
				t.Fatalf("footer present = %v, want %v:\n%s", hasFooter, testCase.wantFooter, reply.Text)
			}
		})
	}
}

func TestValidationReply(t *testing.T) {
	t.Parallel()

	reply := validationReply("Invalid ticket ID", commandTicketDetails)
	want := "❌ Error: Invalid ticket ID\nType /help ticket-details for usage information"
	if reply.Text != want {
		t.Fatalf("text = %q, want %q", reply.Text, want)
	}
	if err := bridge.ValidateTextEntities(reply.Text, reply.Entities); err != nil {
		t.Fatalf("entities invalid: %v", err)
	}
	if len(reply.Entities) != 2 ||
		reply.Entities[0].Type != bridge.TextEntityTypeBold ||
		reply.Entities[1].Type != bridge.TextEntityTypeCode {
		t.Fatalf("entities = %+v, want bold then code", reply.Entities)
	}
}

func TestParseTicketID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value  string
		wantID string
		wantOK bool
	}{
		{value: "12345", wantID: "12345", wantOK: true},
		{value: "  42\t", wantID: "42", wantOK: true},
		{value: ""},
		{value: "   "},
		{value: "12a"},
		{value: "-5"},
		{value: "4 2"},
		{value: "٤٢"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.value, func(t *testing.T) {
			t.Parallel()

			id, err := parseTicketID(testCase.value)
			if id != testCase.wantID || (err == nil) != testCase.wantOK {
				t.Fatalf("parseTicketID(%q) = (%q, %v), want (%q, ok %v)", testCase.value, id, err, testCase.wantID, testCase.wantOK)
			}
			if testCase.wantOK {
				return
			}
			validationErr, ok := bridge.AsValidationError(err)
			if !ok || !errors.Is(err, bridge.ErrInvalidArgument) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if validationErr.Field != "ticket_id" || validationErr.Reason != "Invalid ticket ID" {
				t.Fatalf("validation error = %+v", validationErr)
			}
		})
	}
}

func TestValidateSearchQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value     string
		wantQuery string
		wantErr   bool
	}{
		{value: "login issue", wantQuery: "login issue"},
		{value: "  ab ", wantQuery: "ab"},
		{value: "日本", wantQuery: "日本"},
		{value: " a ", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.value, func(t *testing.T) {
			t.Parallel()

			query, err := validateSearchQuery(testCase.value)
			if testCase.wantErr {
				validationErr, ok := bridge.AsValidationError(err)
				if !ok || validationErr.Field != "query" || !strings.Contains(validationErr.Reason, "at least 2 characters") {
					t.Fatalf("validateSearchQuery(%q) error = %v, want query ValidationError", testCase.value, err)
				}
				return
			}
			if err != nil || query != testCase.wantQuery {
				t.Fatalf("validateSearchQuery(%q) = (%q, %v), want %q", testCase.value, query, err, testCase.wantQuery)
			}
		})
	}
}

func containsLine(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}

	return false
}
