package critic

import (
	"context"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/llm"
)

const policyCriticName = "policy"

// PolicyCritic judges text against a caller-supplied natural language policy.
type PolicyCritic struct {
	settings
	backend llm.Backend
}

// NewPolicyCritic creates a Policy Critic on the given backend
func NewPolicyCritic(backend llm.Backend, options ...Option) *PolicyCritic {
	return &PolicyCritic{
		settings: newSettings(DefaultPolicyTemplate, options),
		backend:  backend,
	}
}

// Evaluate judges text against policy. The policy is only used as evaluation
// criteria inside the instruction template; it is never interpreted here.
func (c *PolicyCritic) Evaluate(ctx context.Context, text, policy string) PolicyVerdict {
	start := time.Now()

	client, ok := c.backend.Client()
	if !ok {
		return c.fallback(ctx, failNotConfigured, llm.ErrNotConfigured)
	}

	system, err := c.template.Render(map[string]interface{}{"Policy": policy})
	if err != nil {
		return c.fallback(ctx, failTransport, err)
	}

	raw, err := c.ask(ctx, client, system, policyUserPrefix+text)
	if err != nil {
		return c.fallback(ctx, failTransport, err)
	}

	verdict, err := ParsePolicyVerdict(raw)
	if err != nil {
		return c.fallback(ctx, failSchema, err)
	}

	c.logger.Debug(ctx, "Policy critic verdict", map[string]interface{}{
		"verdict":     verdict.Verdict.String(),
		"confidence":  verdict.Confidence,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	c.metrics.ObserveCritic(policyCriticName, verdict.Verdict.String(), time.Since(start))
	return verdict
}

func (c *PolicyCritic) fallback(ctx context.Context, kind failureKind, cause error) PolicyVerdict {
	c.reportFallback(ctx, policyCriticName, kind, cause)
	v := policyFallback(c.mode, kind, cause)
	c.metrics.ObserveCritic(policyCriticName, v.Verdict.String(), 0)
	return v
}
