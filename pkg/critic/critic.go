package critic

import (
	"context"
	"fmt"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/metrics"
	"github.com/run-bigpig/nova-gateway/pkg/prompts"
)

const (
	// DefaultTimeout bounds one critic call including retries.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxTokens is the completion budget for a critic reply.
	DefaultMaxTokens = 200
)

type settings struct {
	mode      FailureMode
	timeout   time.Duration
	maxTokens int
	logger    logging.Logger
	metrics   *metrics.Metrics
	template  *prompts.Template
}

// Option configures a critic
type Option func(*settings)

// WithFailureMode sets the fallback direction
func WithFailureMode(mode FailureMode) Option {
	return func(s *settings) {
		s.mode = mode
	}
}

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// WithMaxTokens sets the completion budget for the reply
func WithMaxTokens(maxTokens int) Option {
	return func(s *settings) {
		s.maxTokens = maxTokens
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics records verdicts and fallbacks
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithTemplate replaces the built-in instruction template
func WithTemplate(tmpl *prompts.Template) Option {
	return func(s *settings) {
		if tmpl != nil {
			s.template = tmpl
		}
	}
}

func newSettings(tmpl *prompts.Template, options []Option) settings {
	s := settings{
		mode:      FailOpen,
		timeout:   DefaultTimeout,
		maxTokens: DefaultMaxTokens,
		template:  tmpl,
	}
	for _, option := range options {
		option(&s)
	}
	if s.logger == nil {
		s.logger = logging.New()
	}
	if s.mode != FailClosed {
		s.mode = FailOpen
	}
	return s
}

// Mode returns the configured failure mode
func (s settings) Mode() FailureMode {
	return s.mode
}

// ask sends one zero-temperature, JSON-only request to the backend.
func (s settings) ask(ctx context.Context, client interfaces.LLM, system, user string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	opts := []interfaces.GenerateOption{
		interfaces.WithSystemMessage(system),
		interfaces.WithTemperature(0),
		interfaces.WithResponseFormat(interfaces.JSONObject),
	}
	if s.maxTokens > 0 {
		opts = append(opts, interfaces.WithMaxTokens(s.maxTokens))
	}

	reply, err := client.Generate(ctx, user, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return reply, nil
}

func (s settings) reportFallback(ctx context.Context, critic string, kind failureKind, cause error) {
	fields := map[string]interface{}{
		"critic": critic,
		"kind":   kind.String(),
		"mode":   s.mode.String(),
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.logger.Warn(ctx, "Critic fell back to default verdict", fields)
	s.metrics.IncCriticFallback(critic, kind.String(), s.mode.String())
}
