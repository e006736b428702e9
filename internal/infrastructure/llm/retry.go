package llm

import (
	"context"
	"math"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/service"
	"go.uber.org/zap"
)

// RetryPolicy retries transient (5xx) model failures with exponential
// backoff. Every attempt runs under the per-call deadline.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		Timeout:    180 * time.Second,
	}
}

// Delay returns the backoff before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryingClient decorates a Provider with the retry policy. Streaming calls
// retry only when no event has been forwarded yet; once deltas have reached
// the client the stream is not restartable.
type retryingClient struct {
	inner  service.ModelClient
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry wraps a model client with the retry policy.
func WithRetry(inner service.ModelClient, policy RetryPolicy, logger *zap.Logger) service.ModelClient {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = 8 * time.Second
	}
	return &retryingClient{inner: inner, policy: policy, logger: logger}
}

func (c *retryingClient) Generate(ctx context.Context, req *service.ModelRequest) (*service.ModelResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxRetries; attempt++ {
		callCtx, cancel := c.callContext(ctx)
		resp, err := c.inner.Generate(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == c.policy.MaxRetries {
			return nil, err
		}
		delay := c.policy.Delay(attempt)
		c.logger.Warn("Model call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *retryingClient) Stream(ctx context.Context, req *service.ModelRequest, eventCh chan<- service.StreamEvent) (*service.ModelResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxRetries; attempt++ {
		forwarded := false
		tap := make(chan service.StreamEvent, 32)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range tap {
				forwarded = true
				eventCh <- ev
			}
		}()

		callCtx, cancel := c.callContext(ctx)
		resp, err := c.inner.Stream(callCtx, req, tap)
		close(tap)
		<-done
		cancel()

		if err == nil {
			return resp, nil
		}
		lastErr = err
		if forwarded || !IsRetryable(err) || attempt == c.policy.MaxRetries {
			return nil, err
		}
		delay := c.policy.Delay(attempt)
		c.logger.Warn("Model stream failed before first delta, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *retryingClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.policy.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.policy.Timeout)
}
