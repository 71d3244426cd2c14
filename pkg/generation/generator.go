// Package generation produces the primary model answer for prompts the
// Security Critic allowed through.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/llm"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/metrics"
)

const (
	// DefaultSystemPrompt is the fixed instruction sent with every generation
	DefaultSystemPrompt = "You are a helpful assistant."
	// EmptyReply replaces an empty model answer
	EmptyReply = "No response from model."
	// DefaultTimeout bounds one generation call including retries
	DefaultTimeout = 60 * time.Second
)

// Error is returned when the primary model call fails. There is no fallback
// answer, so it aborts the request.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation via %s failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Generator invokes the primary model
type Generator struct {
	backend      llm.Backend
	systemPrompt string
	timeout      time.Duration
	options      []interfaces.GenerateOption
	logger       logging.Logger
	metrics      *metrics.Metrics
}

// Option configures a Generator
type Option func(*Generator)

// WithSystemPrompt replaces DefaultSystemPrompt
func WithSystemPrompt(prompt string) Option {
	return func(g *Generator) {
		if strings.TrimSpace(prompt) != "" {
			g.systemPrompt = prompt
		}
	}
}

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Generator) {
		g.timeout = timeout
	}
}

// WithGenerateOptions appends provider options such as temperature
func WithGenerateOptions(options ...interfaces.GenerateOption) Option {
	return func(g *Generator) {
		g.options = append(g.options, options...)
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithMetrics records latency and failures
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// New creates a Generator on backend
func New(backend llm.Backend, options ...Option) *Generator {
	g := &Generator{
		backend:      backend,
		systemPrompt: DefaultSystemPrompt,
		timeout:      DefaultTimeout,
	}
	for _, option := range options {
		option(g)
	}
	if g.logger == nil {
		g.logger = logging.New()
	}
	return g
}

// Generate returns the model's answer to prompt. Failures come back as *Error.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	client, ok := g.backend.Client()
	if !ok {
		return "", &Error{Provider: g.backend.Name(), Err: llm.ErrNotConfigured}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	opts := append([]interfaces.GenerateOption{interfaces.WithSystemMessage(g.systemPrompt)}, g.options...)

	start := time.Now()
	text, err := client.Generate(ctx, prompt, opts...)
	g.metrics.ObserveGeneration(time.Since(start), err)
	if err != nil {
		g.logger.Error(ctx, "Primary model call failed", map[string]interface{}{
			"provider": client.Name(),
			"error":    err.Error(),
		})
		return "", &Error{Provider: client.Name(), Err: err}
	}

	if strings.TrimSpace(text) == "" {
		return EmptyReply, nil
	}

	g.logger.Debug(ctx, "Primary model answered", map[string]interface{}{
		"provider":    client.Name(),
		"length":      len(text),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return text, nil
}
