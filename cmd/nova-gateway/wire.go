package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/config"
	"github.com/run-bigpig/nova-gateway/pkg/critic"
	"github.com/run-bigpig/nova-gateway/pkg/gateway"
	"github.com/run-bigpig/nova-gateway/pkg/generation"
	"github.com/run-bigpig/nova-gateway/pkg/identity"
	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/llm"
	"github.com/run-bigpig/nova-gateway/pkg/llm/anthropic"
	"github.com/run-bigpig/nova-gateway/pkg/llm/openai"
	"github.com/run-bigpig/nova-gateway/pkg/llm/vertex"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/metrics"
	"github.com/run-bigpig/nova-gateway/pkg/prompts"
	"github.com/run-bigpig/nova-gateway/pkg/retry"
	"github.com/run-bigpig/nova-gateway/pkg/server"
	"github.com/run-bigpig/nova-gateway/pkg/tracing"
)

type closer func(ctx context.Context) error

// app holds everything main builds from the config
type app struct {
	pipeline *gateway.Pipeline
	handler  http.Handler
	closers  []closer
}

// Close releases resources in reverse construction order
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg config.Config, logger logging.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	m := metrics.New()

	otelTracer, err := tracing.NewOTelTracer(ctx, tracing.OTelConfig{
		Enabled:           cfg.Tracing.OTel.Enabled,
		ServiceName:       cfg.Tracing.OTel.ServiceName,
		CollectorEndpoint: cfg.Tracing.OTel.Endpoint,
		Insecure:          cfg.Tracing.OTel.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.closers = append(a.closers, otelTracer.Shutdown)

	langfuse, err := tracing.NewLangfuseTracer(ctx, tracing.LangfuseConfig{
		Enabled:     cfg.Tracing.Langfuse.Enabled,
		PublicKey:   cfg.Tracing.Langfuse.PublicKey,
		SecretKey:   cfg.Tracing.Langfuse.SecretKey,
		Host:        cfg.Tracing.Langfuse.Host,
		Environment: cfg.Tracing.Langfuse.Environment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up langfuse: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) error {
		langfuse.Flush(ctx)
		return nil
	})

	backend, err := buildBackend(ctx, cfg.LLM, logger, a)
	if err != nil {
		return nil, err
	}
	if client, ok := backend.Client(); ok {
		if otelTracer.Enabled() {
			client = tracing.NewLLMOTelMiddleware(client, otelTracer)
		}
		if langfuse.Enabled() {
			client = tracing.NewLLMMiddleware(client, langfuse)
		}
		backend = llm.Configured(client)
	} else {
		logger.Warn(ctx, "LLM backend not configured; pipeline requests will return 503", map[string]interface{}{
			"reason": backend.Reason(),
		})
	}

	sink, err := buildSink(ctx, cfg.Audit, logger, a)
	if err != nil {
		return nil, err
	}

	securityTmpl, policyTmpl, err := loadTemplates(ctx, cfg.Critics.TemplateDir)
	if err != nil {
		return nil, err
	}

	securityMode, _ := critic.ParseFailureMode(cfg.Critics.SecurityMode)
	policyMode, _ := critic.ParseFailureMode(cfg.Critics.PolicyMode)
	criticOptions := []critic.Option{
		critic.WithTimeout(cfg.Critics.Timeout),
		critic.WithMaxTokens(cfg.Critics.MaxTokens),
		critic.WithLogger(logger),
		critic.WithMetrics(m),
	}

	genOptions := []interfaces.GenerateOption{interfaces.WithTemperature(cfg.Generation.Temperature)}
	if cfg.Generation.MaxTokens > 0 {
		genOptions = append(genOptions, interfaces.WithMaxTokens(cfg.Generation.MaxTokens))
	}

	a.pipeline = gateway.New(backend,
		critic.NewSecurityCritic(backend, append(criticOptions, critic.WithFailureMode(securityMode), critic.WithTemplate(securityTmpl))...),
		critic.NewPolicyCritic(backend, append(criticOptions, critic.WithFailureMode(policyMode), critic.WithTemplate(policyTmpl))...),
		generation.New(backend,
			generation.WithSystemPrompt(cfg.Generation.SystemPrompt),
			generation.WithTimeout(cfg.Generation.Timeout),
			generation.WithGenerateOptions(genOptions...),
			generation.WithLogger(logger),
			generation.WithMetrics(m),
		),
		sink,
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
		gateway.WithTracer(otelTracer.Tracer()),
		gateway.WithStrictAudit(cfg.Audit.Strict),
		gateway.WithAuditTimeout(cfg.Audit.Timeout),
	)

	serverOptions := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithBodyLimit(cfg.Server.BodyLimit),
	}
	if cfg.Auth.Enabled() {
		svc, err := identity.NewService(cfg.Auth.SigningKey,
			identity.WithIssuer(cfg.Auth.Issuer),
			identity.WithLeeway(cfg.Auth.Leeway),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to set up token validation: %w", err)
		}
		serverOptions = append(serverOptions, server.WithAuth(svc, cfg.Auth.Required))
	}
	a.handler = server.New(a.pipeline, sink, serverOptions...).Routes()

	logger.Info(ctx, "Gateway assembled", map[string]interface{}{
		"llm":              backend.Name(),
		"audit_sinks":      cfg.Audit.Sinks,
		"audit_chain":      cfg.Audit.Chain,
		"security_mode":    securityMode.String(),
		"policy_mode":      policyMode.String(),
		"auth_required":    cfg.Auth.Required,
		"otel_enabled":     otelTracer.Enabled(),
		"langfuse_enabled": langfuse.Enabled(),
	})
	return a, nil
}

func buildBackend(ctx context.Context, cfg config.LLMConfig, logger logging.Logger, a *app) (llm.Backend, error) {
	switch cfg.Provider {
	case config.ProviderNone:
		return llm.Unconfigured("llm.provider is none"), nil

	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return llm.Unconfigured("OPENAI_API_KEY is not set"), nil
		}
		options := []openai.Option{
			openai.WithLogger(logger),
			openai.WithRetry(retry.WithMaxAttempts(attempts(cfg.MaxRetries))),
		}
		if cfg.Model != "" {
			options = append(options, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			options = append(options, openai.WithBaseURL(cfg.BaseURL))
		}
		return llm.Configured(openai.NewClient(cfg.APIKey, options...)), nil

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return llm.Unconfigured("ANTHROPIC_API_KEY is not set"), nil
		}
		options := []anthropic.Option{
			anthropic.WithLogger(logger),
			anthropic.WithRetry(retry.WithMaxAttempts(attempts(cfg.MaxRetries))),
		}
		if cfg.Model != "" {
			options = append(options, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			options = append(options, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return llm.Configured(anthropic.NewClient(cfg.AnthropicAPIKey, options...)), nil

	case config.ProviderVertex:
		if cfg.VertexProject == "" {
			return llm.Unconfigured("llm.vertex_project is not set"), nil
		}
		options := []vertex.ClientOption{
			vertex.WithLocation(cfg.VertexLocation),
			vertex.WithMaxRetries(cfg.MaxRetries),
			vertex.WithLogger(logger),
		}
		if cfg.Model != "" {
			options = append(options, vertex.WithModel(cfg.Model))
		}
		if cfg.VertexCredentials != "" {
			options = append(options, vertex.WithCredentialsFile(cfg.VertexCredentials))
		}
		client, err := vertex.NewClient(ctx, cfg.VertexProject, options...)
		if err != nil {
			return llm.Backend{}, fmt.Errorf("failed to create vertex client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return llm.Configured(client), nil

	default:
		return llm.Backend{}, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func buildSink(ctx context.Context, cfg config.AuditConfig, logger logging.Logger, a *app) (audit.Sink, error) {
	sinks := make([]audit.Sink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkConsole:
			sinks = append(sinks, audit.NewConsoleSink(logger))
		case config.SinkMemory:
			sinks = append(sinks, audit.NewMemorySink())
		case config.SinkSQLite:
			s, err := audit.NewSQLiteSink(ctx, cfg.SQLitePath)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func(context.Context) error { return s.Close() })
			sinks = append(sinks, s)
		case config.SinkPostgres:
			s, err := audit.NewPostgresSink(ctx, cfg.PostgresDSN)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func(context.Context) error { return s.Close() })
			sinks = append(sinks, s)
		case config.SinkRedis:
			options := []audit.RedisOption{audit.WithRetention(cfg.RedisRetention)}
			if cfg.RedisKey != "" {
				options = append(options, audit.WithRedisKey(cfg.RedisKey))
			}
			s, err := audit.OpenRedis(ctx, cfg.RedisURL, options...)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func(context.Context) error { return s.Close() })
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}

	// Readers first, so the log endpoints and chain resume use a durable store.
	ordered := make([]audit.Sink, 0, len(sinks))
	for _, s := range sinks {
		if _, ok := s.(audit.Reader); ok {
			ordered = append(ordered, s)
		}
	}
	for _, s := range sinks {
		if _, ok := s.(audit.Reader); !ok {
			ordered = append(ordered, s)
		}
	}

	var sink audit.Sink
	if len(ordered) == 1 {
		sink = ordered[0]
	} else {
		sink = audit.NewFanoutSink(ordered...)
	}
	if cfg.Chain {
		sink = audit.NewChainSink(sink)
	}
	return sink, nil
}

func loadTemplates(ctx context.Context, dir string) (*prompts.Template, *prompts.Template, error) {
	if dir == "" {
		return critic.DefaultSecurityTemplate, critic.DefaultPolicyTemplate, nil
	}
	store, err := prompts.NewFileStore(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open template dir: %w", err)
	}
	security, err := prompts.Resolve(ctx, store, critic.SecurityTemplateID, critic.DefaultSecurityTemplate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load security template: %w", err)
	}
	policy, err := prompts.Resolve(ctx, store, critic.PolicyTemplateID, critic.DefaultPolicyTemplate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load policy template: %w", err)
	}
	return security, policy, nil
}

// attempts turns llm.max_retries into a total call count, the first call
// included. Vertex counts retries the same way through backoff.WithMaxRetries.
func attempts(maxRetries int) int32 {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return int32(maxRetries) + 1
}
