package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"deskbridge/internal/driver"
	"deskbridge/pkg/bridge"
	llmconfig "deskbridge/pkg/llm/config"
)

const (
	envConfigFile           = "DESKBRIDGE_CONFIG_FILE"
	defaultConfigFilePath   = "config/bridge.json"
	alternateConfigFilePath = "bin/config/bridge.json"

	envZendeskDomain   = "ZENDESK_DOMAIN"
	envZendeskEmail    = "ZENDESK_EMAIL"
	envZendeskAPIToken = "ZENDESK_API_TOKEN"

	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 90 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 4

	defaultRateLimitRequests = 10
	defaultRateLimitWindow   = time.Minute
	defaultCacheTTL          = 5 * time.Minute
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	rateLimitRequests int
	rateLimitWindow   time.Duration

	cacheTTL        time.Duration
	cacheMaxEntries int

	zendesk zendeskConfig
	llm     llmconfig.Config
	drivers []driver.Definition
	opsAddr string
}

type zendeskConfig struct {
	domain            string
	email             string
	apiToken          string
	baseURL           string
	timeout           time.Duration
	requestsPerSecond float64
	burst             int
	pageSize          int
}

type fileConfig struct {
	LogLevel  string              `json:"log_level"`
	Kernel    fileKernelConfig    `json:"kernel"`
	RateLimit fileRateLimitConfig `json:"rate_limit"`
	Cache     fileCacheConfig     `json:"cache"`
	Zendesk   fileZendeskConfig   `json:"zendesk"`
	LLM       json.RawMessage     `json:"llm"`
	Drivers   []fileDriverEntry   `json:"drivers"`
	Ops       fileOpsConfig       `json:"ops"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileRateLimitConfig struct {
	MaxRequests *int   `json:"max_requests"`
	Window      string `json:"window"`
}

type fileCacheConfig struct {
	TTL        string `json:"ttl"`
	MaxEntries *int   `json:"max_entries"`
}

type fileZendeskConfig struct {
	Domain            string   `json:"domain"`
	Email             string   `json:"email"`
	APIToken          string   `json:"api_token"`
	BaseURL           string   `json:"base_url"`
	Timeout           string   `json:"timeout"`
	RequestsPerSecond *float64 `json:"requests_per_second"`
	Burst             *int     `json:"burst"`
	PageSize          *int     `json:"page_size"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileOpsConfig struct {
	Addr string `json:"addr"`
}

func loadConfig(registry *driver.Registry, lookupEnv func(string) (string, bool)) (appConfig, error) {
	configFile, err := resolveConfigFilePath(lookupEnv)
	if err != nil {
		return appConfig{}, err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return appConfig{}, fmt.Errorf("read config file %s: %w", configFile, err)
	}

	cfg, err := parseAppConfig(data, lookupEnv)
	if err != nil {
		return appConfig{}, fmt.Errorf("parse config file %s: %w", configFile, err)
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(lookupEnv func(string) (string, bool)) (string, error) {
	if lookupEnv != nil {
		if configFile, ok := lookupEnv(envConfigFile); ok && strings.TrimSpace(configFile) != "" {
			return strings.TrimSpace(configFile), nil
		}
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		rateLimitRequests: defaultRateLimitRequests,
		rateLimitWindow:   defaultRateLimitWindow,
		cacheTTL:          defaultCacheTTL,

		drivers: make([]driver.Definition, 0),
	}
}

// parseAppConfig decodes one config document strictly and applies
// environment overrides for secrets.
func parseAppConfig(data []byte, lookupEnv func(string) (string, bool)) (appConfig, error) {
	var parsed fileConfig
	if err := decodeStrictJSON(data, &parsed); err != nil {
		return appConfig{}, err
	}

	cfg := defaultAppConfig()
	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return appConfig{}, configError("log_level", err.Error())
		}
		cfg.logLevel = level
	}

	if err := applyKernelConfig(&cfg, parsed.Kernel); err != nil {
		return appConfig{}, err
	}

	if parsed.RateLimit.MaxRequests != nil {
		if *parsed.RateLimit.MaxRequests <= 0 {
			return appConfig{}, configError("rate_limit.max_requests", "must be > 0")
		}
		cfg.rateLimitRequests = *parsed.RateLimit.MaxRequests
	}
	if err := parseOptionalDuration(parsed.RateLimit.Window, "rate_limit.window", &cfg.rateLimitWindow); err != nil {
		return appConfig{}, err
	}

	if err := parseOptionalDuration(parsed.Cache.TTL, "cache.ttl", &cfg.cacheTTL); err != nil {
		return appConfig{}, err
	}
	if parsed.Cache.MaxEntries != nil {
		if *parsed.Cache.MaxEntries < 0 {
			return appConfig{}, configError("cache.max_entries", "must be >= 0")
		}
		cfg.cacheMaxEntries = *parsed.Cache.MaxEntries
	}

	zendesk, err := parseZendeskConfig(parsed.Zendesk, lookupEnv)
	if err != nil {
		return appConfig{}, err
	}
	cfg.zendesk = zendesk

	if len(bytes.TrimSpace(parsed.LLM)) == 0 {
		return appConfig{}, configError("llm", "required")
	}
	llm, err := llmconfig.Parse(parsed.LLM, lookupEnv)
	if err != nil {
		return appConfig{}, fmt.Errorf("%w: %w", configError("llm", "invalid"), err)
	}
	cfg.llm = llm

	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		raw := bytes.TrimSpace(entry.Config)
		if len(raw) == 0 {
			raw = []byte("{}")
		}
		if !json.Valid(raw) {
			return appConfig{}, configError(fmt.Sprintf("drivers[%d].config", index), "invalid json")
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), raw...),
		})
	}

	cfg.opsAddr = strings.TrimSpace(parsed.Ops.Addr)

	return cfg, nil
}

func applyKernelConfig(cfg *appConfig, raw fileKernelConfig) error {
	if err := parseOptionalDuration(raw.ModuleHookTimeout, "kernel.module_hook_timeout", &cfg.moduleHookTimeout); err != nil {
		return err
	}
	if err := parseOptionalDuration(raw.ShutdownTimeout, "kernel.shutdown_timeout", &cfg.shutdownTimeout); err != nil {
		return err
	}
	if err := parseOptionalDuration(raw.HandlerTimeout, "kernel.handler_timeout", &cfg.handlerTimeout); err != nil {
		return err
	}
	if raw.SubscriptionBuffer != nil {
		if *raw.SubscriptionBuffer <= 0 {
			return configError("kernel.subscription_buffer", "must be > 0")
		}
		cfg.subscriptionBuffer = *raw.SubscriptionBuffer
	}
	if raw.SubscriptionWorkers != nil {
		if *raw.SubscriptionWorkers <= 0 {
			return configError("kernel.subscription_workers", "must be > 0")
		}
		cfg.subscriptionWorkers = *raw.SubscriptionWorkers
	}

	return nil
}

func parseZendeskConfig(raw fileZendeskConfig, lookupEnv func(string) (string, bool)) (zendeskConfig, error) {
	cfg := zendeskConfig{
		domain:   strings.TrimSpace(raw.Domain),
		email:    strings.TrimSpace(raw.Email),
		apiToken: strings.TrimSpace(raw.APIToken),
		baseURL:  strings.TrimSpace(raw.BaseURL),
	}
	overrideFromEnv(lookupEnv, envZendeskDomain, &cfg.domain)
	overrideFromEnv(lookupEnv, envZendeskEmail, &cfg.email)
	overrideFromEnv(lookupEnv, envZendeskAPIToken, &cfg.apiToken)

	if err := parseOptionalDuration(raw.Timeout, "zendesk.timeout", &cfg.timeout); err != nil {
		return zendeskConfig{}, err
	}
	if raw.RequestsPerSecond != nil {
		cfg.requestsPerSecond = *raw.RequestsPerSecond
	}
	if raw.Burst != nil {
		cfg.burst = *raw.Burst
	}
	if raw.PageSize != nil {
		if *raw.PageSize <= 0 {
			return zendeskConfig{}, configError("zendesk.page_size", "must be > 0")
		}
		cfg.pageSize = *raw.PageSize
	}

	return cfg, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	seen := make(map[string]struct{}, len(cfg.drivers))
	enabled := 0
	for index, definition := range cfg.drivers {
		if definition.Name == "" {
			return configError(fmt.Sprintf("drivers[%d].name", index), "required")
		}
		if definition.Type == "" {
			return configError(fmt.Sprintf("drivers[%s].type", definition.Name), "required")
		}
		if _, exists := seen[definition.Name]; exists {
			return configError(fmt.Sprintf("drivers[%s]", definition.Name), "duplicate name")
		}
		seen[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("%w: %w", configError(fmt.Sprintf("drivers[%s].type", definition.Name), "unsupported"), err)
		}
		enabled++
	}
	if enabled == 0 {
		return configError("drivers", "at least one enabled driver is required")
	}

	return nil
}

func parseOptionalDuration(raw string, field string, target *time.Duration) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return configError(field, err.Error())
	}
	if parsed <= 0 {
		return configError(field, "must be > 0")
	}
	*target = parsed

	return nil
}

func overrideFromEnv(lookupEnv func(string) (string, bool), key string, target *string) {
	if lookupEnv == nil {
		return
	}
	if value, ok := lookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func decodeStrictJSON(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	var trailing any
	if err := decoder.Decode(&trailing); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: trailing content after top-level object")
	}

	return nil
}

func configError(field string, reason string) error {
	return &bridge.ConfigError{Field: field, Reason: reason}
}
