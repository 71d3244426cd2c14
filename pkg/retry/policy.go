package retry

import "time"

// Defaults sized for LLM calls that already run under a per-stage timeout.
const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaximumInterval = 5 * time.Second
	DefaultMaxAttempts     = 3
	DefaultJitter          = 0.5
)

// Policy controls how often and how far apart an operation is repeated.
// MaximumAttempts counts the first call; zero means retry until ctx is done.
type Policy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int32
	// Jitter randomizes each wait by +/- this fraction.
	Jitter float64
}

// Option represents a retry policy option
type Option func(*Policy)

// WithInitialInterval sets the wait before the first retry
func WithInitialInterval(interval time.Duration) Option {
	return func(p *Policy) {
		p.InitialInterval = interval
	}
}

// WithBackoffCoefficient sets the growth factor between waits
func WithBackoffCoefficient(coefficient float64) Option {
	return func(p *Policy) {
		p.BackoffCoefficient = coefficient
	}
}

// WithMaximumInterval caps a single wait
func WithMaximumInterval(interval time.Duration) Option {
	return func(p *Policy) {
		p.MaximumInterval = interval
	}
}

// WithMaxAttempts sets the total number of calls, the first one included.
// Negative values are treated as one attempt.
func WithMaxAttempts(attempts int32) Option {
	return func(p *Policy) {
		if attempts < 0 {
			attempts = 1
		}
		p.MaximumAttempts = attempts
	}
}

// WithJitter sets the randomization factor, clamped to [0, 1]
func WithJitter(jitter float64) Option {
	return func(p *Policy) {
		switch {
		case jitter < 0:
			jitter = 0
		case jitter > 1:
			jitter = 1
		}
		p.Jitter = jitter
	}
}

// NewPolicy returns the default policy with opts applied
func NewPolicy(opts ...Option) *Policy {
	policy := &Policy{
		InitialInterval:    DefaultInitialInterval,
		BackoffCoefficient: 2.0,
		MaximumInterval:    DefaultMaximumInterval,
		MaximumAttempts:    DefaultMaxAttempts,
		Jitter:             DefaultJitter,
	}

	for _, opt := range opts {
		opt(policy)
	}
	if policy.BackoffCoefficient < 1 {
		policy.BackoffCoefficient = 1
	}
	if policy.MaximumInterval < policy.InitialInterval {
		policy.MaximumInterval = policy.InitialInterval
	}

	return policy
}
