// Package openai implements bridge.LLMProvider on the OpenAI Responses API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"deskbridge/pkg/bridge"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const (
	eventOutputTextDelta = "response.output_text.delta"
	eventCompleted       = "response.completed"
	eventIncomplete      = "response.incomplete"
	eventFailed          = "response.failed"
	eventError           = "error"

	incompleteMaxOutputTokens = "max_output_tokens"
	incompleteContentFilter   = "content_filter"
)

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	APIKey string
	// BaseURL optionally overrides the OpenAI endpoint.
	BaseURL      string
	Organization string
	Project      string
	// MaxRetries overrides the SDK retry count; nil keeps the SDK default.
	MaxRetries *int
	// ReasoningEffort is forwarded for reasoning models.
	ReasoningEffort string
}

// Provider completes requests through one streaming Responses call.
type Provider struct {
	responses responsesClient
	effort    shared.ReasoningEffort
}

type responsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) eventStream
}

// eventStream is the subset of the SDK SSE stream the provider reads.
type eventStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

type responseService struct {
	service responses.ResponseService
}

func (s responseService) NewStreaming(
	ctx context.Context,
	body responses.ResponseNewParams,
	opts ...option.RequestOption,
) eventStream {
	return s.service.NewStreaming(ctx, body, opts...)
}

// New validates cfg and builds one provider.
func New(cfg ProviderConfig) (*Provider, error) {
	effort, err := validateConfig(&cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		options = append(options, option.WithOrganization(cfg.Organization))
	}
	if cfg.Project != "" {
		options = append(options, option.WithProject(cfg.Project))
	}
	if cfg.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*cfg.MaxRetries))
	}

	client := openai.NewClient(options...)

	return &Provider{
		responses: responseService{service: client.Responses},
		effort:    effort,
	}, nil
}

// Complete streams one response and assembles its output text.
func (p *Provider) Complete(ctx context.Context, req bridge.LLMRequest) (bridge.LLMCompletion, error) {
	if p == nil || p.responses == nil {
		return bridge.LLMCompletion{}, fmt.Errorf("openai complete: provider not configured")
	}
	if ctx == nil {
		return bridge.LLMCompletion{}, fmt.Errorf("openai complete: nil context")
	}
	if err := req.Validate(); err != nil {
		return bridge.LLMCompletion{}, fmt.Errorf("openai complete: %w", err)
	}

	stream := p.responses.NewStreaming(ctx, buildParams(req, p.effort))
	if stream == nil {
		return bridge.LLMCompletion{}, fmt.Errorf("openai complete: nil stream")
	}
	defer func() { _ = stream.Close() }()

	var (
		text       strings.Builder
		completion bridge.LLMCompletion
		finished   bool
	)
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case eventOutputTextDelta:
			text.WriteString(event.Delta)
		case eventCompleted:
			completion.FinishReason = bridge.LLMFinishStop
			completion.Usage = usageOf(event.Response)
			finished = true
		case eventIncomplete:
			completion.FinishReason = incompleteReason(string(event.Response.IncompleteDetails.Reason))
			completion.Usage = usageOf(event.Response)
			finished = true
		case eventFailed:
			return bridge.LLMCompletion{}, fmt.Errorf("openai complete: %w", failedResponseError(event.Response))
		case eventError:
			return bridge.LLMCompletion{}, fmt.Errorf("openai complete: %w", streamError(event.Code, event.Message))
		}
	}
	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return bridge.LLMCompletion{}, fmt.Errorf("openai complete: %w", ctxErr)
		}
		return bridge.LLMCompletion{}, fmt.Errorf("openai complete stream: %w", err)
	}
	if !finished {
		return bridge.LLMCompletion{}, fmt.Errorf("openai complete: stream ended without a terminal event")
	}

	completion.Text = text.String()

	return completion, nil
}

func buildParams(req bridge.LLMRequest, effort shared.ReasoningEffort) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.Instructions = openai.String(system)
	}
	if effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	return params
}

func usageOf(response responses.Response) bridge.LLMUsage {
	return bridge.LLMUsage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}
}

func incompleteReason(reason string) bridge.LLMFinishReason {
	switch reason {
	case incompleteMaxOutputTokens:
		return bridge.LLMFinishLength
	case incompleteContentFilter:
		return bridge.LLMFinishFiltered
	default:
		return bridge.LLMFinishUnknown
	}
}

func failedResponseError(response responses.Response) error {
	if message := strings.TrimSpace(response.Error.Message); message != "" {
		return streamError(string(response.Error.Code), message)
	}
	status := strings.TrimSpace(string(response.Status))
	if status == "" {
		status = "unknown"
	}

	return fmt.Errorf("response failed: status=%s", status)
}

func streamError(code string, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unspecified stream error"
	}
	if code = strings.TrimSpace(code); code != "" {
		return fmt.Errorf("%s: %s", code, message)
	}

	return errors.New(message)
}

func validateConfig(cfg *ProviderConfig) (shared.ReasoningEffort, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)

	if cfg.APIKey == "" {
		return "", fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return "", fmt.Errorf("base_url must be an absolute url")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return "", fmt.Errorf("max_retries must be >= 0")
	}

	effort := shared.ReasoningEffort(strings.ToLower(strings.TrimSpace(cfg.ReasoningEffort)))
	switch effort {
	case "", shared.ReasoningEffortNone, shared.ReasoningEffortMinimal, shared.ReasoningEffortLow,
		shared.ReasoningEffortMedium, shared.ReasoningEffortHigh:
		return effort, nil
	default:
		return "", fmt.Errorf("unsupported reasoning_effort %q", cfg.ReasoningEffort)
	}
}

var _ bridge.LLMProvider = (*Provider)(nil)
