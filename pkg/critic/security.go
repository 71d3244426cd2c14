package critic

import (
	"context"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/llm"
)

const securityCriticName = "security"

// SecurityCritic classifies inbound prompts as SAFE or MALICIOUS.
type SecurityCritic struct {
	settings
	backend llm.Backend
}

// NewSecurityCritic creates a Security Critic on the given backend
func NewSecurityCritic(backend llm.Backend, options ...Option) *SecurityCritic {
	return &SecurityCritic{
		settings: newSettings(DefaultSecurityTemplate, options),
		backend:  backend,
	}
}

// Evaluate classifies prompt. It always returns a contract-valid verdict;
// failures produce the fallback for the configured FailureMode.
func (c *SecurityCritic) Evaluate(ctx context.Context, prompt string) SecurityVerdict {
	start := time.Now()

	client, ok := c.backend.Client()
	if !ok {
		return c.fallback(ctx, failNotConfigured, llm.ErrNotConfigured)
	}

	system, err := c.template.Render(map[string]interface{}{})
	if err != nil {
		return c.fallback(ctx, failTransport, err)
	}

	raw, err := c.ask(ctx, client, system, prompt)
	if err != nil {
		return c.fallback(ctx, failTransport, err)
	}

	verdict, err := ParseSecurityVerdict(raw)
	if err != nil {
		return c.fallback(ctx, failSchema, err)
	}

	c.logger.Debug(ctx, "Security critic verdict", map[string]interface{}{
		"verdict":     verdict.Verdict.String(),
		"attack_type": verdict.AttackType.String(),
		"confidence":  verdict.Confidence,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	c.metrics.ObserveCritic(securityCriticName, verdict.Verdict.String(), time.Since(start))
	return verdict
}

func (c *SecurityCritic) fallback(ctx context.Context, kind failureKind, cause error) SecurityVerdict {
	c.reportFallback(ctx, securityCriticName, kind, cause)
	v := securityFallback(c.mode, kind, cause)
	c.metrics.ObserveCritic(securityCriticName, v.Verdict.String(), 0)
	return v
}
