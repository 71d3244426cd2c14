package tracing

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/henomis/langfuse-go"
	"github.com/henomis/langfuse-go/model"

	"github.com/run-bigpig/nova-gateway/pkg/identity"
	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

// LangfuseTracer implements tracing using Langfuse
type LangfuseTracer struct {
	client      *langfuse.Langfuse
	enabled     bool
	environment string
	logger      logging.Logger
}

// LangfuseConfig contains configuration for Langfuse
type LangfuseConfig struct {
	// Enabled determines whether Langfuse tracing is enabled
	Enabled bool

	// SecretKey is the Langfuse secret key
	SecretKey string

	// PublicKey is the Langfuse public key
	PublicKey string

	// Host is the Langfuse host (optional)
	Host string

	// Environment is the environment name (e.g., "production", "staging")
	Environment string
}

// NewLangfuseTracer creates a new Langfuse tracer
func NewLangfuseTracer(ctx context.Context, cfg LangfuseConfig, logger logging.Logger) (*LangfuseTracer, error) {
	if logger == nil {
		logger = logging.New()
	}
	if !cfg.Enabled {
		return &LangfuseTracer{enabled: false, logger: logger}, nil
	}
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("langfuse public and secret keys are required")
	}

	// langfuse-go only reads its credentials from the environment
	for key, value := range map[string]string{
		"LANGFUSE_PUBLIC_KEY": cfg.PublicKey,
		"LANGFUSE_SECRET_KEY": cfg.SecretKey,
		"LANGFUSE_HOST":       cfg.Host,
	} {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	return &LangfuseTracer{
		client:      langfuse.New(ctx),
		enabled:     true,
		environment: cfg.Environment,
		logger:      logger,
	}, nil
}

// Enabled reports whether observations are sent
func (t *LangfuseTracer) Enabled() bool {
	return t != nil && t.enabled
}

func (t *LangfuseTracer) metadata(ctx context.Context, extra map[string]interface{}) model.M {
	m := model.M{"environment": t.environment}
	if subject, ok := identity.Subject(ctx); ok {
		m["subject"] = subject
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// TraceGeneration traces an LLM generation
func (t *LangfuseTracer) TraceGeneration(ctx context.Context, modelName string, prompt string, response string, startTime time.Time, endTime time.Time, metadata map[string]interface{}) (string, error) {
	if !t.Enabled() {
		return "", nil
	}

	generation := &model.Generation{
		Name:      fmt.Sprintf("generation-%d", time.Now().UnixNano()),
		StartTime: &startTime,
		EndTime:   &endTime,
		Model:     modelName,
		Input: []model.M{
			{
				"prompt": prompt,
			},
		},
		Output: model.M{
			"completion": response,
		},
		Metadata: t.metadata(ctx, metadata),
	}

	var parentID string
	created, err := t.client.Generation(generation, &parentID)
	if err != nil {
		return "", fmt.Errorf("failed to create Langfuse generation: %w", err)
	}
	return created.ID, nil
}

// TraceEvent traces an event
func (t *LangfuseTracer) TraceEvent(ctx context.Context, name string, input interface{}, output interface{}, level string, metadata map[string]interface{}) (string, error) {
	if !t.Enabled() {
		return "", nil
	}

	event := &model.Event{
		Name:     name,
		Input:    input,
		Output:   output,
		Level:    model.ObservationLevel(level),
		Metadata: t.metadata(ctx, metadata),
	}

	var parentID string
	created, err := t.client.Event(event, &parentID)
	if err != nil {
		return "", fmt.Errorf("failed to create Langfuse event: %w", err)
	}
	return created.ID, nil
}

// Flush sends buffered observations
func (t *LangfuseTracer) Flush(ctx context.Context) {
	if !t.Enabled() {
		return
	}
	t.client.Flush(ctx)
}

// LLMMiddleware implements middleware for LLM calls with Langfuse tracing
type LLMMiddleware struct {
	llm    interfaces.LLM
	tracer *LangfuseTracer
}

// NewLLMMiddleware creates a new LLM middleware with Langfuse tracing
func NewLLMMiddleware(llm interfaces.LLM, tracer *LangfuseTracer) *LLMMiddleware {
	return &LLMMiddleware{
		llm:    llm,
		tracer: tracer,
	}
}

// Generate generates text from a prompt with Langfuse tracing
func (m *LLMMiddleware) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (string, error) {
	startTime := time.Now()
	response, err := m.llm.Generate(ctx, prompt, options...)
	endTime := time.Now()

	if !m.tracer.Enabled() {
		return response, err
	}

	params := interfaces.NewGenerateOptions(0, options...)
	metadata := map[string]interface{}{
		"temperature":    params.LLMConfig.Temperature,
		"max_tokens":     params.LLMConfig.MaxTokens,
		"system_message": params.SystemMessage,
	}

	if err == nil {
		if _, traceErr := m.tracer.TraceGeneration(ctx, m.llm.Name(), prompt, response, startTime, endTime, metadata); traceErr != nil {
			m.tracer.logger.Warn(ctx, "Failed to trace generation", map[string]interface{}{"error": traceErr.Error()})
		}
	} else {
		metadata["error"] = err.Error()
		if _, traceErr := m.tracer.TraceEvent(ctx, "llm_error", prompt, nil, "ERROR", metadata); traceErr != nil {
			m.tracer.logger.Warn(ctx, "Failed to trace error", map[string]interface{}{"error": traceErr.Error()})
		}
	}

	return response, err
}

// Name implements interfaces.LLM.Name
func (m *LLMMiddleware) Name() string {
	return m.llm.Name()
}
