package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/strand/internal/backoff"
	"github.com/haasonsaas/strand/internal/observability"
	"github.com/haasonsaas/strand/internal/runtime"
	"github.com/haasonsaas/strand/pkg/models"
)

// RetryOptions configures a RetryingClient.
type RetryOptions struct {
	// MaxRetries is the number of retries after the initial attempt, so
	// the total attempt count is MaxRetries+1. Zero disables retries.
	MaxRetries int

	// Policy computes the delay before each retry. The zero value means
	// backoff.Default().
	Policy backoff.Policy

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// RetryingClient wraps a Client with bounded retry for transient
// failures. Fatal errors pass through on the first occurrence.
//
// Complete retries the whole call. Stream retries too, with one wrinkle:
// fragments already forwarded downstream cannot be un-sent, so when an
// attempt dies mid-stream after forwarding anything, the wrapper emits a
// Fragment{Restart: true} before the fragments of the fresh attempt.
// Consumers must throw away everything accumulated for the turn when
// they see it.
type RetryingClient struct {
	inner      runtime.Client
	maxRetries int
	policy     backoff.Policy
	logger     *observability.Logger
	metrics    *observability.Metrics
}

var _ runtime.Client = (*RetryingClient)(nil)

// NewRetryingClient wraps inner with the given retry behavior.
func NewRetryingClient(inner runtime.Client, opts RetryOptions) *RetryingClient {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Policy == (backoff.Policy{}) {
		opts.Policy = backoff.Default()
	}
	return &RetryingClient{
		inner:      inner,
		maxRetries: opts.MaxRetries,
		policy:     opts.Policy,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Name returns the wrapped provider's name.
func (c *RetryingClient) Name() string {
	return c.inner.Name()
}

// Complete issues the request, retrying transient failures with backoff
// until the attempt cap is reached.
func (c *RetryingClient) Complete(ctx context.Context, req *runtime.Request) (*runtime.Response, error) {
	var last error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		start := time.Now()
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			c.record(req.Model, "success", time.Since(start), resp.InputTokens, resp.OutputTokens)
			return resp, nil
		}
		c.record(req.Model, "error", time.Since(start), 0, 0)

		if !IsTransient(err) {
			return nil, err
		}
		last = err
		if attempt > c.maxRetries {
			break
		}
		if serr := c.waitRetry(ctx, attempt, err); serr != nil {
			return nil, serr
		}
	}
	return nil, &RetryExhaustedError{Attempts: c.maxRetries + 1, Last: last}
}

// Stream issues a streaming request under the same retry policy. The
// returned channel stays open across retries; it closes after a
// successful attempt finishes, or after a fragment with Err set.
func (c *RetryingClient) Stream(ctx context.Context, req *runtime.Request) (<-chan models.Fragment, error) {
	out := make(chan models.Fragment)

	go func() {
		defer close(out)

		// forwarded tracks whether any fragment reached downstream since
		// the last restart; only then does a retry need to announce one.
		forwarded := false
		var last error

		for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
			start := time.Now()
			inTokens, outTokens, err := c.streamOnce(ctx, req, out, &forwarded)
			if err == nil {
				c.record(req.Model, "success", time.Since(start), inTokens, outTokens)
				return
			}
			c.record(req.Model, "error", time.Since(start), 0, 0)

			if ctx.Err() != nil {
				send(ctx, out, models.Fragment{Err: ctx.Err()})
				return
			}
			if !IsTransient(err) {
				send(ctx, out, models.Fragment{Err: err})
				return
			}
			last = err
			if attempt > c.maxRetries {
				break
			}
			if serr := c.waitRetry(ctx, attempt, err); serr != nil {
				send(ctx, out, models.Fragment{Err: serr})
				return
			}
			if forwarded {
				if !send(ctx, out, models.Fragment{Restart: true}) {
					return
				}
				forwarded = false
			}
		}
		send(ctx, out, models.Fragment{Err: &RetryExhaustedError{Attempts: c.maxRetries + 1, Last: last}})
	}()

	return out, nil
}

// streamOnce drives a single inner stream attempt, forwarding fragments
// downstream. It returns the token usage from the Done fragment and the
// first stream-level error, if any.
func (c *RetryingClient) streamOnce(ctx context.Context, req *runtime.Request, out chan<- models.Fragment, forwarded *bool) (int, int, error) {
	inner, err := c.inner.Stream(ctx, req)
	if err != nil {
		return 0, 0, err
	}

	var inTokens, outTokens int
	for frag := range inner {
		if frag.Err != nil {
			return 0, 0, frag.Err
		}
		if frag.Done {
			inTokens = frag.InputTokens
			outTokens = frag.OutputTokens
		}
		if !send(ctx, out, frag) {
			return 0, 0, ctx.Err()
		}
		*forwarded = true
	}
	return inTokens, outTokens, nil
}

// waitRetry records the retry and sleeps the backoff delay for the given
// attempt, returning the context error if cancellation wins.
func (c *RetryingClient) waitRetry(ctx context.Context, attempt int, cause error) error {
	reason := Classify(cause)
	if c.metrics != nil {
		c.metrics.RecordModelRetry(c.inner.Name(), string(reason))
	}
	if c.logger != nil {
		c.logger.Warn(ctx, "retrying model call",
			"provider", c.inner.Name(),
			"attempt", attempt,
			"reason", string(reason),
			"error", cause.Error(),
		)
	}
	return c.policy.Sleep(ctx, attempt)
}

func (c *RetryingClient) record(model, status string, elapsed time.Duration, inTokens, outTokens int) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordModelRequest(c.inner.Name(), model, status, elapsed.Seconds(), inTokens, outTokens)
}
