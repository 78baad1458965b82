// Package config parses the "llm" section of the bridge configuration:
// named provider profiles plus the profile and options ticket summaries use.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	defaultRequestTimeout   = 60 * time.Second
	defaultMaxOutputTokens  = 500
	defaultTemperature      = 0.3
	defaultGeminiAPIVersion = "v1beta"

	ProviderTypeOpenAI = "openai"
	ProviderTypeGemini = "gemini"

	// EnvOpenAIAPIKey replaces api_key on every openai profile when set.
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvGeminiAPIKey replaces api_key on every gemini profile when set.
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// Config is the parsed llm section.
type Config struct {
	// RequestTimeout bounds one summary request end to end.
	RequestTimeout time.Duration
	Providers      map[string]ProviderProfile
	Summary        SummaryProfile
}

// ProviderProfile is one named provider. At most one of OpenAI and Gemini is
// set and it matches Type.
type ProviderProfile struct {
	Type    string
	APIKey  string
	BaseURL string
	OpenAI  *OpenAIOptions
	Gemini  *GeminiOptions
}

type OpenAIOptions struct {
	Organization    string
	Project         string
	MaxRetries      *int
	ReasoningEffort string
}

type GeminiOptions struct {
	APIVersion string
	// ThinkingBudget and ThinkingLevel cannot both be set.
	ThinkingBudget *int
	ThinkingLevel  string
}

// SummaryProfile picks the provider and generation options for summaries.
type SummaryProfile struct {
	Provider string
	Model    string
	// SystemPromptTemplate is a text/template; empty keeps the built-in one.
	SystemPromptTemplate string
	MaxOutputTokens      int
	Temperature          float64
}

// Parse decodes one llm section strictly, applies defaults and API key
// overrides from lookupEnv (nil skips them), then validates the result.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (Config, error) {
	var section sectionJSON
	if err := decodeStrict(data, &section); err != nil {
		return Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	cfg := Config{
		RequestTimeout: defaultRequestTimeout,
		Providers:      make(map[string]ProviderProfile, len(section.Providers)),
		Summary:        section.Summary.profile(),
	}
	if raw := strings.TrimSpace(section.RequestTimeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			return Config{}, fmt.Errorf("parse llm config request_timeout: %w", err)
		case timeout <= 0:
			return Config{}, errors.New("parse llm config request_timeout: must be > 0")
		}
		cfg.RequestTimeout = timeout
	}
	for key, entry := range section.Providers {
		profile := entry.profile()
		if value, ok := apiKeyFromEnv(profile.Type, lookupEnv); ok {
			profile.APIKey = value
		}
		cfg.Providers[key] = profile
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func apiKeyFromEnv(providerType string, lookupEnv func(string) (string, bool)) (string, bool) {
	if lookupEnv == nil {
		return "", false
	}

	var name string
	switch providerType {
	case ProviderTypeOpenAI:
		name = EnvOpenAIAPIKey
	case ProviderTypeGemini:
		name = EnvGeminiAPIKey
	default:
		return "", false
	}
	value, _ := lookupEnv(name)
	value = strings.TrimSpace(value)

	return value, value != ""
}

type sectionJSON struct {
	RequestTimeout string      `json:"request_timeout"`
	Providers      providerSet `json:"providers"`
	Summary        summaryJSON `json:"summary"`
}

// providerSet decodes the providers object with trimmed keys, rejecting keys
// that repeat after trimming.
type providerSet map[string]providerJSON

func (s *providerSet) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	if token, err := decoder.Token(); err != nil || token != json.Delim('{') {
		return errors.New("providers: expected object")
	}

	entries := make(providerSet)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		key := strings.TrimSpace(token.(string))
		switch _, seen := entries[key]; {
		case key == "":
			return errors.New("providers: empty provider key")
		case seen:
			return fmt.Errorf("providers: duplicate provider key %s", key)
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return fmt.Errorf("providers[%s]: %w", key, err)
		}
		var entry providerJSON
		if err := decodeStrict(raw, &entry); err != nil {
			return fmt.Errorf("providers[%s]: %w", key, err)
		}
		entries[key] = entry
	}
	*s = entries

	return nil
}

type providerJSON struct {
	Type    string      `json:"type"`
	APIKey  string      `json:"api_key"`
	BaseURL string      `json:"base_url"`
	OpenAI  *openAIJSON `json:"openai"`
	Gemini  *geminiJSON `json:"gemini"`
}

func (p providerJSON) profile() ProviderProfile {
	profile := ProviderProfile{
		Type:    strings.ToLower(strings.TrimSpace(p.Type)),
		APIKey:  strings.TrimSpace(p.APIKey),
		BaseURL: strings.TrimSpace(p.BaseURL),
	}
	if p.OpenAI != nil {
		profile.OpenAI = &OpenAIOptions{
			Organization:    strings.TrimSpace(p.OpenAI.Organization),
			Project:         strings.TrimSpace(p.OpenAI.Project),
			MaxRetries:      p.OpenAI.MaxRetries,
			ReasoningEffort: strings.ToLower(strings.TrimSpace(p.OpenAI.ReasoningEffort)),
		}
	}
	if p.Gemini != nil {
		profile.Gemini = &GeminiOptions{
			APIVersion:     strings.TrimSpace(p.Gemini.APIVersion),
			ThinkingBudget: p.Gemini.ThinkingBudget,
			ThinkingLevel:  strings.ToLower(strings.TrimSpace(p.Gemini.ThinkingLevel)),
		}
	}
	if profile.Type == ProviderTypeGemini {
		if profile.Gemini == nil {
			profile.Gemini = &GeminiOptions{}
		}
		if profile.Gemini.APIVersion == "" {
			profile.Gemini.APIVersion = defaultGeminiAPIVersion
		}
	}

	return profile
}

type openAIJSON struct {
	Organization    string `json:"organization"`
	Project         string `json:"project"`
	MaxRetries      *int   `json:"max_retries"`
	ReasoningEffort string `json:"reasoning_effort"`
}

type geminiJSON struct {
	APIVersion     string `json:"api_version"`
	ThinkingBudget *int   `json:"thinking_budget"`
	ThinkingLevel  string `json:"thinking_level"`
}

type summaryJSON struct {
	Provider             string   `json:"provider"`
	Model                string   `json:"model"`
	SystemPromptTemplate string   `json:"system_prompt_template"`
	MaxOutputTokens      *int     `json:"max_output_tokens"`
	Temperature          *float64 `json:"temperature"`
}

func (s summaryJSON) profile() SummaryProfile {
	profile := SummaryProfile{
		Provider:             strings.TrimSpace(s.Provider),
		Model:                strings.TrimSpace(s.Model),
		SystemPromptTemplate: strings.TrimSpace(s.SystemPromptTemplate),
		MaxOutputTokens:      defaultMaxOutputTokens,
		Temperature:          defaultTemperature,
	}
	if s.MaxOutputTokens != nil {
		profile.MaxOutputTokens = *s.MaxOutputTokens
	}
	if s.Temperature != nil {
		profile.Temperature = *s.Temperature
	}

	return profile
}

// decodeStrict decodes exactly one JSON value with no unknown fields.
func decodeStrict(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	switch err := decoder.Decode(&json.RawMessage{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("unexpected trailing content")
	default:
		return fmt.Errorf("decode trailing json: %w", err)
	}
}
