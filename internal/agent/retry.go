package agent

import (
	"context"
	"time"
)

// RetryPolicy bounds how an agent execution is retried on transient failures
type RetryPolicy struct {
	// MaxAttempts is the total number of executions, including the first
	MaxAttempts int

	// BackoffBase is the wait before the second attempt
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the wait on each further retry
	BackoffMultiplier float64

	// MaxBackoff caps the wait
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the default agent retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := float64(p.BackoffBase)
	for i := 1; i < attempt; i++ {
		wait *= p.BackoffMultiplier
	}
	if p.MaxBackoff > 0 && wait > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(wait)
}

type retryingAgent struct {
	Agent
	policy RetryPolicy
}

// WithRetry wraps an agent so rate-limited executions are retried.
// Other failures, including auth errors, are returned immediately.
func WithRetry(agent Agent, policy RetryPolicy) Agent {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryingAgent{Agent: agent, policy: policy}
}

func (r *retryingAgent) Execute(ctx context.Context, actx *Context) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res, err := r.Agent.Execute(ctx, actx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == r.policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(r.policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}
