package bridge

import (
	"context"
	"fmt"
	"strings"
)

// LLMProviderRegistry resolves LLM providers by configured name.
type LLMProviderRegistry interface {
	Resolve(provider string) (LLMProvider, error)
}

// LLMProvider produces one complete model answer per request. Providers may
// stream internally; callers only see the assembled text.
type LLMProvider interface {
	Complete(ctx context.Context, req LLMRequest) (LLMCompletion, error)
}

// LLMRequest is one single-turn generation call: fixed instructions plus one
// user prompt.
type LLMRequest struct {
	Model string
	// System carries the instructions; empty sends none.
	System string
	Prompt string
	// MaxOutputTokens bounds output when positive.
	MaxOutputTokens int
	// Temperature is forwarded when positive.
	Temperature float64
}

// Validate checks one request contract.
func (r LLMRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("validate llm request: missing model")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("validate llm request: missing prompt")
	}
	if r.MaxOutputTokens < 0 {
		return fmt.Errorf("validate llm request: max_output_tokens must be >= 0")
	}
	if r.Temperature < 0 {
		return fmt.Errorf("validate llm request: temperature must be >= 0")
	}

	return nil
}

// LLMFinishReason records why generation stopped.
type LLMFinishReason string

const (
	// LLMFinishStop is a natural end of output.
	LLMFinishStop LLMFinishReason = "stop"
	// LLMFinishLength means MaxOutputTokens cut the output short.
	LLMFinishLength LLMFinishReason = "length"
	// LLMFinishFiltered means provider safety filtering ended the output.
	LLMFinishFiltered LLMFinishReason = "filtered"
	// LLMFinishUnknown covers provider reasons with no neutral mapping.
	LLMFinishUnknown LLMFinishReason = "unknown"
)

// LLMUsage is the token accounting reported by the provider, zero when absent.
type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// LLMCompletion is the assembled provider answer.
type LLMCompletion struct {
	Text         string
	FinishReason LLMFinishReason
	Usage        LLMUsage
}
