package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
)

// LLMOTelMiddleware wraps an LLM with OpenTelemetry tracing
type LLMOTelMiddleware struct {
	llm    interfaces.LLM
	tracer *OTelTracer
}

// NewLLMOTelMiddleware creates a new LLMOTelMiddleware
func NewLLMOTelMiddleware(llm interfaces.LLM, tracer *OTelTracer) *LLMOTelMiddleware {
	return &LLMOTelMiddleware{
		llm:    llm,
		tracer: tracer,
	}
}

// Generate implements interfaces.LLM.Generate
func (m *LLMOTelMiddleware) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (string, error) {
	params := interfaces.NewGenerateOptions(0, options...)

	attributes := map[string]string{
		"llm.provider":          m.llm.Name(),
		"prompt.length":         fmt.Sprintf("%d", len(prompt)),
		"llm.temperature":       fmt.Sprintf("%g", params.LLMConfig.Temperature),
		"llm.max_tokens":        fmt.Sprintf("%d", params.LLMConfig.MaxTokens),
		"llm.system_msg_length": fmt.Sprintf("%d", len(params.SystemMessage)),
	}
	if params.ResponseFormat != nil {
		attributes["llm.response_format"] = string(params.ResponseFormat.Type)
	}

	ctx, span := m.tracer.StartSpan(ctx, "llm.generate", attributes)

	response, err := m.llm.Generate(ctx, prompt, options...)
	if err == nil {
		span.SetAttributes(attribute.Int("response.length", len(response)))
	}
	m.tracer.EndSpan(span, err)

	return response, err
}

// Name implements interfaces.LLM.Name
func (m *LLMOTelMiddleware) Name() string {
	return m.llm.Name()
}
