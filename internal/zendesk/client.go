// Package zendesk is the bridge.TicketService backed by the Zendesk REST API.
package zendesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"deskbridge/pkg/bridge"
)

const (
	serviceName = "zendesk"

	defaultTimeout  = 15 * time.Second
	defaultPageSize = 5
	maxResponseSize = 8 << 20
)

// Config holds Zendesk API connection settings.
type Config struct {
	// Domain is the account host, for example "acme.zendesk.com".
	Domain   string
	Email    string
	APIToken string
	// BaseURL overrides https://<Domain>. Ticket links always use Domain.
	BaseURL string
	// Timeout bounds one HTTP round trip when HTTPClient is nil.
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// PageSize is the number of search hits requested, default 5.
	PageSize   int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the Zendesk v2 API with token authentication.
type Client struct {
	domain     string
	baseURL    string
	email      string
	apiToken   string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		return nil, &bridge.ConfigError{Field: "zendesk.domain", Reason: "required"}
	}
	if strings.TrimSpace(cfg.Email) == "" {
		return nil, &bridge.ConfigError{Field: "zendesk.email", Reason: "required"}
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, &bridge.ConfigError{Field: "zendesk.api_token", Reason: "required"}
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, &bridge.ConfigError{Field: "zendesk.requests_per_second", Reason: "must be >= 0"}
	}
	if cfg.PageSize < 0 || cfg.PageSize > 100 {
		return nil, &bridge.ConfigError{Field: "zendesk.page_size", Reason: "must be between 1 and 100"}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://" + domain
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, &bridge.ConfigError{Field: "zendesk.base_url", Reason: err.Error()}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		domain:     domain,
		baseURL:    baseURL,
		email:      strings.TrimSpace(cfg.Email),
		apiToken:   strings.TrimSpace(cfg.APIToken),
		pageSize:   pageSize,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}, nil
}

// FetchTicket loads one ticket. A 404 answer matches bridge.ErrTicketNotFound.
func (c *Client) FetchTicket(ctx context.Context, id string) (bridge.Ticket, error) {
	var payload struct {
		Ticket apiTicket `json:"ticket"`
	}
	if err := c.get(ctx, "fetch_ticket", "/api/v2/tickets/"+url.PathEscape(id)+".json", nil, &payload); err != nil {
		return bridge.Ticket{}, err
	}

	return c.toTicket(payload.Ticket), nil
}

// FetchComments loads the conversation of one ticket, oldest first, with
// author names resolved from side-loaded users.
func (c *Client) FetchComments(ctx context.Context, id string) ([]bridge.Comment, error) {
	var payload struct {
		Comments []apiComment `json:"comments"`
		Users    []apiUser    `json:"users"`
	}
	query := url.Values{"include": {"users"}}
	path := "/api/v2/tickets/" + url.PathEscape(id) + "/comments.json"
	if err := c.get(ctx, "fetch_comments", path, query, &payload); err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(payload.Users))
	for _, user := range payload.Users {
		names[user.ID] = user.Name
	}
	comments := make([]bridge.Comment, 0, len(payload.Comments))
	for _, comment := range payload.Comments {
		author := names[comment.AuthorID]
		if author == "" {
			author = "User " + strconv.FormatInt(comment.AuthorID, 10)
		}
		comments = append(comments, bridge.Comment{
			ID:        comment.ID,
			Author:    author,
			Body:      comment.Body,
			CreatedAt: comment.CreatedAt,
			Public:    comment.Public,
		})
	}

	return comments, nil
}

// SearchTickets runs a ticket-scoped search and returns the first page.
func (c *Client) SearchTickets(ctx context.Context, query string) (bridge.SearchResult, error) {
	var payload struct {
		Results []apiTicket `json:"results"`
		Count   int         `json:"count"`
	}
	params := url.Values{
		"query":    {"type:ticket " + query},
		"page":     {"1"},
		"per_page": {strconv.Itoa(c.pageSize)},
	}
	if err := c.get(ctx, "search_tickets", "/api/v2/search.json", params, &payload); err != nil {
		return bridge.SearchResult{}, err
	}

	result := bridge.SearchResult{
		Tickets:   make([]bridge.Ticket, 0, len(payload.Results)),
		Count:     payload.Count,
		BrowseURL: c.searchURL(query),
	}
	for _, ticket := range payload.Results {
		result.Tickets = append(result.Tickets, c.toTicket(ticket))
	}

	return result, nil
}

// TicketURL returns the agent-facing link of ticket id.
func (c *Client) TicketURL(id int64) string {
	return fmt.Sprintf("https://%s/agent/tickets/%d", c.domain, id)
}

func (c *Client) searchURL(query string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	return fmt.Sprintf("https://%s/agent/search?q=%s", c.domain, escaped)
}

// get performs one paced, authenticated GET and decodes a JSON body into out.
func (c *Client) get(ctx context.Context, operation string, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.upstreamError(operation, 0, fmt.Errorf("wait for request slot: %w", err))
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.upstreamError(operation, 0, fmt.Errorf("build request: %w", err))
	}
	request.SetBasicAuth(c.email+"/token", c.apiToken)
	request.Header.Set("Accept", "application/json")

	started := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return c.upstreamError(operation, 0, fmt.Errorf("send request: %w", err))
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return c.upstreamError(operation, response.StatusCode, fmt.Errorf("read response: %w", err))
	}
	c.logger.DebugContext(ctx, "zendesk request completed",
		"operation", operation,
		"status", response.StatusCode,
		"duration", time.Since(started),
	)

	switch {
	case response.StatusCode == http.StatusNotFound:
		return c.upstreamError(operation, response.StatusCode, bridge.ErrTicketNotFound)
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return c.upstreamError(operation, response.StatusCode, apiErrorFromBody(response.Status, body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.upstreamError(operation, response.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	return nil
}

func (c *Client) upstreamError(operation string, status int, cause error) error {
	return &bridge.UpstreamError{
		Service:    serviceName,
		Operation:  operation,
		StatusCode: status,
		Cause:      cause,
	}
}

func (c *Client) toTicket(ticket apiTicket) bridge.Ticket {
	return bridge.Ticket{
		ID:          ticket.ID,
		Subject:     ticket.Subject,
		Description: ticket.Description,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		RequesterID: ticket.RequesterID,
		AssigneeID:  ticket.AssigneeID,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
		Tags:        append([]string(nil), ticket.Tags...),
		URL:         c.TicketURL(ticket.ID),
	}
}

type apiTicket struct {
	ID          int64     `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	RequesterID int64     `json:"requester_id"`
	AssigneeID  int64     `json:"assignee_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags"`
}

type apiComment struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

type apiUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// apiErrorFromBody extracts the Zendesk error title when the body carries one.
func apiErrorFromBody(status string, body []byte) error {
	var payload struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Error) == 0 {
		return errors.New("zendesk api error: " + status)
	}

	var title string
	if err := json.Unmarshal(payload.Error, &title); err != nil {
		var detailed struct {
			Title   string `json:"title"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &detailed); err == nil {
			title = strings.TrimSpace(detailed.Title + " " + detailed.Message)
		}
	}
	if title == "" {
		title = status
	}
	if payload.Description != "" {
		title += ": " + payload.Description
	}

	return errors.New("zendesk api error: " + title)
}

var _ bridge.TicketService = (*Client)(nil)
