package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"text/template"
	"unicode"
)

// Validate checks the parsed section. Parse calls it; callers that build a
// Config by hand should too.
func (cfg Config) Validate() error {
	switch {
	case cfg.RequestTimeout <= 0:
		return errors.New("validate llm config: request_timeout must be > 0")
	case len(cfg.Providers) == 0:
		return errors.New("validate llm config: providers is required")
	}

	for _, key := range slices.Sorted(maps.Keys(cfg.Providers)) {
		if err := cfg.Providers[key].validate(); err != nil {
			return fmt.Errorf("validate llm config providers[%s]: %w", key, err)
		}
	}
	if err := cfg.Summary.validate(); err != nil {
		return fmt.Errorf("validate llm config summary: %w", err)
	}
	if _, ok := cfg.Providers[cfg.Summary.Provider]; !ok {
		return fmt.Errorf("validate llm config summary: provider %s is not configured", cfg.Summary.Provider)
	}

	return nil
}

func (p ProviderProfile) validate() error {
	switch p.Type {
	case "":
		return errors.New("missing type")
	case ProviderTypeOpenAI:
		if p.Gemini != nil {
			return errors.New("gemini options are only supported for gemini providers")
		}
		if p.OpenAI != nil && p.OpenAI.MaxRetries != nil && *p.OpenAI.MaxRetries < 0 {
			return errors.New("invalid openai options: max_retries must be >= 0")
		}
	case ProviderTypeGemini:
		if p.OpenAI != nil {
			return errors.New("openai options are only supported for openai providers")
		}
		if err := p.Gemini.validate(); err != nil {
			return fmt.Errorf("invalid gemini options: %w", err)
		}
	default:
		return fmt.Errorf("unsupported type %q", p.Type)
	}

	if p.APIKey == "" {
		return errors.New("missing api_key")
	}
	if p.BaseURL != "" {
		parsed, err := url.Parse(p.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return errors.New("invalid base_url: must include scheme and host")
		}
	}

	return nil
}

func (o *GeminiOptions) validate() error {
	if o == nil {
		return nil
	}

	switch {
	case !isAPIVersion(o.APIVersion):
		return fmt.Errorf("invalid api_version %q", o.APIVersion)
	case o.ThinkingBudget != nil && *o.ThinkingBudget < 0:
		return errors.New("thinking_budget must be >= 0")
	case !slices.Contains([]string{"", "low", "medium", "high"}, o.ThinkingLevel):
		return fmt.Errorf("unsupported thinking_level %q", o.ThinkingLevel)
	case o.ThinkingBudget != nil && o.ThinkingLevel != "":
		return errors.New("thinking_budget and thinking_level are mutually exclusive")
	}

	return nil
}

func (s SummaryProfile) validate() error {
	switch {
	case s.Provider == "":
		return errors.New("missing provider")
	case s.Model == "":
		return errors.New("missing model")
	case s.MaxOutputTokens < 0:
		return errors.New("max_output_tokens must be >= 0")
	case s.Temperature < 0:
		return errors.New("temperature must be >= 0")
	}

	if s.SystemPromptTemplate != "" {
		if _, err := template.New("system-prompt").Option("missingkey=error").Parse(s.SystemPromptTemplate); err != nil {
			return fmt.Errorf("invalid system_prompt_template: %w", err)
		}
	}

	return nil
}

// isAPIVersion accepts path-safe version labels such as "v1beta".
func isAPIVersion(raw string) bool {
	return raw != "" && strings.IndexFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("-._", r)
	}) < 0
}
