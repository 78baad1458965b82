// Package summary condenses ticket conversations through a configured LLM provider.
package summary

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/template"
	"time"

	"deskbridge/pkg/bridge"
)

const (
	defaultRequestTimeout = 60 * time.Second

	// DefaultSystemPromptTemplate instructs the model when no template is configured.
	DefaultSystemPromptTemplate = "You are a helpful customer support assistant. " +
		"Summarize the conversation of Zendesk ticket #{{.TicketID}} for a support agent. " +
		"Describe the customer's problem and what has been done about it so far, " +
		"then state the current status and any open next step. Keep it short and factual."
)

// Config selects the provider and generation options for summaries.
type Config struct {
	// Provider is the registry key of the LLM provider.
	Provider string
	// Model is the provider model name.
	Model string
	// SystemPromptTemplate is a text/template rendered per ticket. Empty uses
	// DefaultSystemPromptTemplate.
	SystemPromptTemplate string
	MaxOutputTokens      int
	Temperature          float64
	// RequestTimeout bounds one Summarize call.
	RequestTimeout time.Duration
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithLogger sets the summarizer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Summarizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Summarizer implements bridge.Summarizer on top of an LLM provider registry.
type Summarizer struct {
	providers bridge.LLMProviderRegistry
	cfg       Config
	prompt    *template.Template
	logger    *slog.Logger
}

// New validates cfg and builds one summarizer.
func New(providers bridge.LLMProviderRegistry, cfg Config, options ...Option) (*Summarizer, error) {
	if providers == nil {
		return nil, &bridge.ConfigError{Field: "llm.providers", Reason: "provider registry is required"}
	}
	cfg.Provider = strings.TrimSpace(cfg.Provider)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Provider == "" {
		return nil, &bridge.ConfigError{Field: "llm.summary.provider", Reason: "must not be empty"}
	}
	if cfg.Model == "" {
		return nil, &bridge.ConfigError{Field: "llm.summary.model", Reason: "must not be empty"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if _, err := providers.Resolve(cfg.Provider); err != nil {
		return nil, &bridge.ConfigError{Field: "llm.summary.provider", Reason: err.Error()}
	}

	source := strings.TrimSpace(cfg.SystemPromptTemplate)
	if source == "" {
		source = DefaultSystemPromptTemplate
	}
	prompt, err := template.New("system_prompt").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, &bridge.ConfigError{Field: "llm.summary.system_prompt_template", Reason: err.Error()}
	}

	summarizer := &Summarizer{
		providers: providers,
		cfg:       cfg,
		prompt:    prompt,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(summarizer)
	}

	return summarizer, nil
}

// Summarize asks the configured provider for one completion over the ticket
// conversation and returns the trimmed text. Private comments never reach the
// provider.
func (s *Summarizer) Summarize(ctx context.Context, ticket bridge.Ticket, comments []bridge.Comment) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("summarize ticket: nil context")
	}

	req, err := s.buildRequest(ticket, comments)
	if err != nil {
		return "", fmt.Errorf("summarize ticket %d: %w", ticket.ID, err)
	}
	provider, err := s.providers.Resolve(s.cfg.Provider)
	if err != nil {
		return "", s.upstreamError(err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	startedAt := time.Now()
	completion, err := provider.Complete(requestCtx, req)
	if err != nil {
		return "", s.upstreamError(fmt.Errorf("complete: %w", err))
	}

	summary := strings.TrimSpace(completion.Text)
	if summary == "" {
		if completion.FinishReason == bridge.LLMFinishFiltered {
			return "", s.upstreamError(fmt.Errorf("output withheld by provider content filter"))
		}
		return "", s.upstreamError(fmt.Errorf("no output text received (finish=%s)", completion.FinishReason))
	}
	if completion.FinishReason == bridge.LLMFinishLength {
		s.logger.WarnContext(ctx, "ticket summary truncated",
			"ticket_id", ticket.ID,
			"max_output_tokens", s.cfg.MaxOutputTokens,
		)
	}
	s.logger.DebugContext(ctx, "ticket summarized",
		"ticket_id", ticket.ID,
		"provider", s.cfg.Provider,
		"model", s.cfg.Model,
		"finish_reason", completion.FinishReason,
		"input_tokens", completion.Usage.InputTokens,
		"output_tokens", completion.Usage.OutputTokens,
		"duration", time.Since(startedAt),
	)

	return summary, nil
}

// RenderSummary formats summary as the chat reply for ticket.
func (s *Summarizer) RenderSummary(ticket bridge.Ticket, summary string) bridge.Reply {
	var builder bridge.TextBuilder
	builder.Bold(fmt.Sprintf("📝 Summary of Ticket #%d", ticket.ID)).Line().Line()
	builder.Bold("Original Subject:").Plain(" " + ticket.Subject).Line().Line()
	builder.Plain(strings.TrimSpace(summary)).Line().Line()
	builder.Link("View the full ticket in Zendesk", ticket.URL)

	reply := builder.Reply()
	reply.DisableLinkPreview = true

	return reply
}

func (s *Summarizer) buildRequest(ticket bridge.Ticket, comments []bridge.Comment) (bridge.LLMRequest, error) {
	var rendered bytes.Buffer
	data := map[string]any{
		"TicketID": ticket.ID,
		"Subject":  ticket.Subject,
		"Status":   ticket.Status,
		"Priority": ticket.Priority,
	}
	if err := s.prompt.Execute(&rendered, data); err != nil {
		return bridge.LLMRequest{}, fmt.Errorf("execute system prompt template: %w", err)
	}
	systemPrompt := strings.TrimSpace(rendered.String())
	if systemPrompt == "" {
		return bridge.LLMRequest{}, fmt.Errorf("rendered system prompt is empty")
	}

	req := bridge.LLMRequest{
		Model:           s.cfg.Model,
		System:          systemPrompt,
		Prompt:          ConversationHistory(ticket, comments),
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		Temperature:     s.cfg.Temperature,
	}
	if err := req.Validate(); err != nil {
		return bridge.LLMRequest{}, fmt.Errorf("validate request: %w", err)
	}

	return req, nil
}

func (s *Summarizer) upstreamError(cause error) error {
	return &bridge.UpstreamError{
		Service:   s.cfg.Provider,
		Operation: "summarize",
		Cause:     cause,
	}
}

// ConversationHistory renders the ticket and its public comments as the
// plain-text transcript handed to the model.
func ConversationHistory(ticket bridge.Ticket, comments []bridge.Comment) string {
	var builder strings.Builder
	builder.WriteString("TICKET #" + strconv.FormatInt(ticket.ID, 10) + ": " + ticket.Subject + "\n")
	builder.WriteString("Status: " + valueOr(ticket.Status, "unknown") + "\n")
	builder.WriteString("Priority: " + valueOr(ticket.Priority, "not set") + "\n\n")
	builder.WriteString("Initial Description:\n" + strings.TrimSpace(ticket.Description) + "\n\n")
	builder.WriteString("Conversation:\n")
	for _, comment := range comments {
		if !comment.Public {
			continue
		}
		builder.WriteString("From: " + valueOr(comment.Author, "Unknown") + "\n")
		builder.WriteString(strings.TrimSpace(comment.Body) + "\n\n")
	}

	return strings.TrimSpace(builder.String())
}

func valueOr(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}

	return fallback
}

var _ bridge.Summarizer = (*Summarizer)(nil)
