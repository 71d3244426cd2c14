package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Executor runs operations under a retry Policy
type Executor struct {
	policy *Policy
	notify func(err error, wait time.Duration)
}

// NewExecutor creates a new retry executor. A nil policy uses the defaults.
func NewExecutor(policy *Policy) *Executor {
	if policy == nil {
		policy = NewPolicy()
	}
	return &Executor{policy: policy}
}

// OnRetry registers a callback invoked before each retry wait
func (e *Executor) OnRetry(fn func(err error, wait time.Duration)) *Executor {
	e.notify = fn
	return e
}

// Policy returns the policy the executor was built with
func (e *Executor) Policy() Policy {
	return *e.policy
}

// Execute runs operation until it succeeds, returns a Permanent error,
// exhausts MaximumAttempts, or ctx is done.
func (e *Executor) Execute(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.InitialInterval
	b.Multiplier = e.policy.BackoffCoefficient
	b.MaxInterval = e.policy.MaximumInterval
	b.RandomizationFactor = e.policy.Jitter
	// ctx deadlines bound the total time
	b.MaxElapsedTime = 0

	var bo backoff.BackOff = b
	if e.policy.MaximumAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(e.policy.MaximumAttempts-1))
	}

	if e.notify != nil {
		return backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), e.notify)
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
