// Package gemini implements bridge.LLMProvider on the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"

	"deskbridge/pkg/bridge"

	"google.golang.org/genai"
)

const defaultAPIVersion = "v1beta"

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	APIKey string
	// BaseURL optionally overrides the Gemini endpoint.
	BaseURL string
	// APIVersion defaults to v1beta.
	APIVersion string
	// ThinkingBudget and ThinkingLevel (low|medium|high) are mutually exclusive.
	ThinkingBudget *int
	ThinkingLevel  string
}

// Provider completes requests through one GenerateContentStream call.
type Provider struct {
	models   modelsClient
	thinking *genai.ThinkingConfig
}

type modelsClient interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// New validates cfg and builds one provider.
func New(cfg ProviderConfig) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new gemini provider: missing api_key")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("new gemini provider: base_url must be an absolute url")
		}
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if !IsValidAPIVersion(apiVersion) {
		return nil, fmt.Errorf("new gemini provider: invalid api_version %q", cfg.APIVersion)
	}
	thinking, err := thinkingConfig(cfg.ThinkingBudget, cfg.ThinkingLevel)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider: %w", err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{models: client.Models, thinking: thinking}, nil
}

// Complete drains one content stream and joins the non-thought text parts of
// the first candidate.
func (p *Provider) Complete(ctx context.Context, req bridge.LLMRequest) (bridge.LLMCompletion, error) {
	if p == nil || p.models == nil {
		return bridge.LLMCompletion{}, fmt.Errorf("gemini complete: provider not configured")
	}
	if ctx == nil {
		return bridge.LLMCompletion{}, fmt.Errorf("gemini complete: nil context")
	}
	if err := req.Validate(); err != nil {
		return bridge.LLMCompletion{}, fmt.Errorf("gemini complete: %w", err)
	}
	config, err := buildConfig(req, p.thinking)
	if err != nil {
		return bridge.LLMCompletion{}, fmt.Errorf("gemini complete: %w", err)
	}

	var (
		text       strings.Builder
		completion bridge.LLMCompletion
	)
	stream := p.models.GenerateContentStream(ctx, strings.TrimSpace(req.Model), genai.Text(req.Prompt), config)
	for response, streamErr := range stream {
		if streamErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return bridge.LLMCompletion{}, fmt.Errorf("gemini complete: %w", ctxErr)
			}
			return bridge.LLMCompletion{}, fmt.Errorf("gemini complete stream: %w", streamErr)
		}
		if response == nil {
			continue
		}
		if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
			completion.FinishReason = bridge.LLMFinishFiltered
		}
		if response.UsageMetadata != nil {
			completion.Usage = bridge.LLMUsage{
				InputTokens:  int64(response.UsageMetadata.PromptTokenCount),
				OutputTokens: int64(response.UsageMetadata.CandidatesTokenCount),
			}
		}
		if len(response.Candidates) == 0 || response.Candidates[0] == nil {
			continue
		}
		candidate := response.Candidates[0]
		if candidate.FinishReason != "" {
			completion.FinishReason = finishReason(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text.WriteString(part.Text)
		}
	}

	completion.Text = text.String()
	if completion.FinishReason == "" {
		completion.FinishReason = bridge.LLMFinishUnknown
	}

	return completion, nil
}

func buildConfig(req bridge.LLMRequest, thinking *genai.ThinkingConfig) (*genai.GenerateContentConfig, error) {
	// The caller context is the only deadline for streams.
	streamTimeout := time.Duration(0)
	config := &genai.GenerateContentConfig{
		HTTPOptions: &genai.HTTPOptions{Timeout: &streamTimeout},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if thinking != nil {
		cloned := *thinking
		config.ThinkingConfig = &cloned
	}

	return config, nil
}

func finishReason(reason genai.FinishReason) bridge.LLMFinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return bridge.LLMFinishStop
	case genai.FinishReasonMaxTokens:
		return bridge.LLMFinishLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonRecitation:
		return bridge.LLMFinishFiltered
	default:
		return bridge.LLMFinishUnknown
	}
}

func thinkingConfig(budget *int, level string) (*genai.ThinkingConfig, error) {
	var thinkingLevel genai.ThinkingLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
	case "low":
		thinkingLevel = genai.ThinkingLevelLow
	case "medium":
		thinkingLevel = genai.ThinkingLevelMedium
	case "high":
		thinkingLevel = genai.ThinkingLevelHigh
	default:
		return nil, fmt.Errorf("unsupported thinking_level %q", level)
	}

	switch {
	case budget != nil && thinkingLevel != "":
		return nil, fmt.Errorf("thinking_budget and thinking_level are mutually exclusive")
	case budget != nil:
		if *budget < 0 || *budget > math.MaxInt32 {
			return nil, fmt.Errorf("thinking_budget must be between 0 and %d", math.MaxInt32)
		}
		value := int32(*budget)
		return &genai.ThinkingConfig{ThinkingBudget: &value}, nil
	case thinkingLevel != "":
		return &genai.ThinkingConfig{ThinkingLevel: thinkingLevel}, nil
	default:
		return nil, nil
	}
}

// IsValidAPIVersion reports whether raw looks like a Gemini API version
// segment such as v1 or v1beta.
func IsValidAPIVersion(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == '_' {
			continue
		}
		return false
	}

	return true
}

var _ bridge.LLMProvider = (*Provider)(nil)
