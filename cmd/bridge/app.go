package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"

	"golang.org/x/sync/errgroup"

	"deskbridge/internal/admission"
	"deskbridge/internal/driver"
	"deskbridge/internal/kernel"
	"deskbridge/internal/opsserver"
	"deskbridge/internal/ratelimit"
	"deskbridge/internal/respcache"
	"deskbridge/internal/summary"
	"deskbridge/internal/zendesk"
	"deskbridge/modules/help"
	"deskbridge/modules/pingpong"
	"deskbridge/modules/tickets"
	"deskbridge/pkg/bridge"
	"deskbridge/pkg/llm"
	llmconfig "deskbridge/pkg/llm/config"
	"deskbridge/pkg/llm/providers/gemini"
	"deskbridge/pkg/llm/providers/openai"
)

// services holds the shared collaborators registered with the kernel.
type services struct {
	limiter    *ratelimit.Limiter
	cache      *respcache.Cache[bridge.Reply]
	tickets    *zendesk.Client
	summarizer *summary.Summarizer
}

func run(ctx context.Context) error {
	registry, err := driver.NewBuiltinRegistry(os.LookupEnv)
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	shared, err := buildServices(logger, cfg)
	if err != nil {
		return err
	}

	runtimes, sinkDispatcher, err := buildDriverRuntime(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}

	gate, err := admission.New(shared.limiter, sinkDispatcher, admission.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build admission gate: %w", err)
	}

	kernelRuntime := buildKernelRuntime(logger, cfg, gate)
	if err := registerRuntimeDrivers(kernelRuntime, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, sinkDispatcher, shared); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, logger); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := kernelRuntime.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if cfg.opsAddr != "" {
		ops, err := opsserver.New(
			shared.cache,
			shared.limiter,
			opsserver.WithLogger(logger),
			opsserver.WithAdmissionStats(func() (int64, int64) {
				stats := gate.Stats()
				return stats.Admitted, stats.Rejected
			}),
		)
		if err != nil {
			return fmt.Errorf("build ops server: %w", err)
		}
		listener, err := net.Listen("tcp", cfg.opsAddr)
		if err != nil {
			return fmt.Errorf("listen ops server %s: %w", cfg.opsAddr, err)
		}
		group.Go(func() error {
			return ops.Serve(groupCtx, listener, cfg.shutdownTimeout)
		})
	}

	logger.Info("bridge started",
		"drivers", len(runtimes),
		"ops_addr", cfg.opsAddr,
		"summary_provider", cfg.llm.Summary.Provider,
	)

	return group.Wait()
}

func buildServices(logger *slog.Logger, cfg appConfig) (services, error) {
	limiter, err := ratelimit.New(cfg.rateLimitRequests, cfg.rateLimitWindow)
	if err != nil {
		return services{}, fmt.Errorf("build rate limiter: %w", err)
	}

	cache, err := respcache.New[bridge.Reply](
		respcache.WithTTL(cfg.cacheTTL),
		respcache.WithMaxEntries(cfg.cacheMaxEntries),
	)
	if err != nil {
		return services{}, fmt.Errorf("build response cache: %w", err)
	}

	client, err := zendesk.NewClient(zendesk.Config{
		Domain:            cfg.zendesk.domain,
		Email:             cfg.zendesk.email,
		APIToken:          cfg.zendesk.apiToken,
		BaseURL:           cfg.zendesk.baseURL,
		Timeout:           cfg.zendesk.timeout,
		RequestsPerSecond: cfg.zendesk.requestsPerSecond,
		Burst:             cfg.zendesk.burst,
		PageSize:          cfg.zendesk.pageSize,
		Logger:            logger.With("component", "zendesk"),
	})
	if err != nil {
		return services{}, fmt.Errorf("build zendesk client: %w", err)
	}

	providers, err := buildLLMProviders(cfg.llm)
	if err != nil {
		return services{}, err
	}
	summarizer, err := summary.New(providers, summary.Config{
		Provider:             cfg.llm.Summary.Provider,
		Model:                cfg.llm.Summary.Model,
		SystemPromptTemplate: cfg.llm.Summary.SystemPromptTemplate,
		MaxOutputTokens:      cfg.llm.Summary.MaxOutputTokens,
		Temperature:          cfg.llm.Summary.Temperature,
		RequestTimeout:       cfg.llm.RequestTimeout,
	}, summary.WithLogger(logger.With("component", "summary")))
	if err != nil {
		return services{}, fmt.Errorf("build summarizer: %w", err)
	}

	return services{
		limiter:    limiter,
		cache:      cache,
		tickets:    client,
		summarizer: summarizer,
	}, nil
}

// buildLLMProviders builds every profile, in key order.
func buildLLMProviders(cfg llmconfig.Config) (*llm.Registry, error) {
	providers := make(map[string]bridge.LLMProvider, len(cfg.Providers))
	for _, key := range slices.Sorted(maps.Keys(cfg.Providers)) {
		provider, err := buildLLMProvider(cfg.Providers[key])
		if err != nil {
			return nil, fmt.Errorf("build llm provider %s: %w", key, err)
		}
		providers[key] = provider
	}

	registry, err := llm.NewRegistry(providers)
	if err != nil {
		return nil, fmt.Errorf("build llm provider registry: %w", err)
	}

	return registry, nil
}

func buildLLMProvider(profile llmconfig.ProviderProfile) (bridge.LLMProvider, error) {
	switch profile.Type {
	case llmconfig.ProviderTypeOpenAI:
		providerCfg := openai.ProviderConfig{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
		}
		if profile.OpenAI != nil {
			providerCfg.Organization = profile.OpenAI.Organization
			providerCfg.Project = profile.OpenAI.Project
			providerCfg.MaxRetries = profile.OpenAI.MaxRetries
			providerCfg.ReasoningEffort = profile.OpenAI.ReasoningEffort
		}
		provider, err := openai.New(providerCfg)
		if err != nil {
			return nil, err
		}
		return provider, nil
	case llmconfig.ProviderTypeGemini:
		providerCfg := gemini.ProviderConfig{
			APIKey:  profile.APIKey,
			BaseURL: profile.BaseURL,
		}
		if profile.Gemini != nil {
			providerCfg.APIVersion = profile.Gemini.APIVersion
			providerCfg.ThinkingBudget = profile.Gemini.ThinkingBudget
			providerCfg.ThinkingLevel = profile.Gemini.ThinkingLevel
		}
		provider, err := gemini.New(providerCfg)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", profile.Type)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig, gate bridge.CommandAdmission) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithCommandAdmission(gate),
	)
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) ([]driver.Runtime, bridge.SinkDispatcher, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}

	dispatcher, err := driver.NewSinkRouter(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build sink dispatcher: %w", err)
	}
	for _, sink := range driver.Sinks(runtimes) {
		logger.Debug("sink available", "platform", sink.Platform, "id", sink.ID)
	}

	return runtimes, dispatcher, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher bridge.SinkDispatcher,
	shared services,
) error {
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}

	registrations := []struct {
		name    string
		service any
	}{
		{name: bridge.ServiceLogger, service: logger},
		{name: bridge.ServiceSinkDispatcher, service: sinkDispatcher},
		{name: bridge.ServiceTicketService, service: shared.tickets},
		{name: bridge.ServiceSummarizer, service: shared.summarizer},
		{name: bridge.ServiceResponseCache, service: shared.cache},
	}
	for _, registration := range registrations {
		if err := kernelRuntime.RegisterService(registration.name, registration.service); err != nil {
			return fmt.Errorf("register service %s: %w", registration.name, err)
		}
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, logger *slog.Logger) error {
	modules := []bridge.Module{
		tickets.New(tickets.WithLogger(logger.With("module", "tickets"))),
		help.New(),
		pingpong.New(),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}

	return nil
}
