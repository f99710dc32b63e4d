// Package provider wraps a single upstream data source with the
// resilience contract every agent's outbound call goes through: a
// per-provider rate limiter, a circuit breaker, and a bounded
// dead-letter retry queue for transient failures.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ErrQueueFull is returned to a caller whose retry was dropped because
// the dead-letter queue was at capacity.
var ErrQueueFull = errors.New("provider: dead-letter queue full")

// ErrRetriesExhausted is returned when a retried call still fails after
// its retry budget is spent.
var ErrRetriesExhausted = errors.New("provider: retries exhausted")

// Retryable wraps an error to mark it eligible for dead-letter retry,
// as opposed to an error Handle.Call should surface immediately (e.g. a
// malformed request it would never succeed on resubmission).
type Retryable struct {
	Err error
}

func (r Retryable) Error() string { return r.Err.Error() }
func (r Retryable) Unwrap() error { return r.Err }

// AsRetryable reports whether err was wrapped with Retryable.
func AsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r)
}

// Config configures one Handle's resilience envelope.
type Config struct {
	RequestsPerMinute float64 // 60-120 typical; rate.Limiter is req/sec internally
	Burst             int
	Breaker           BreakerConfig
	QueueCapacity     int
	QueueWorkers      int
	MaxRetries        int
	RetryBackoff      time.Duration
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerMinute/60) + 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.QueueWorkers <= 0 {
		c.QueueWorkers = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Handle is a resilient façade over one upstream provider: every call
// goes through the rate limiter and the circuit breaker; a call
// returning a Retryable error is also handed to the dead-letter queue
// for background retry, while the caller still receives the error.
type Handle struct {
	name    string
	limiter *rate.Limiter
	breaker *breaker
	dlq     *deadLetterQueue
	logger  *slog.Logger
}

// NewHandle builds a Handle named for logging/telemetry.
func NewHandle(name string, cfg Config) *Handle {
	cfg = cfg.withDefaults()
	perSecond := cfg.RequestsPerMinute / 60
	return &Handle{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(perSecond), cfg.Burst),
		breaker: newBreaker(cfg.Breaker),
		dlq:     newDeadLetterQueue(cfg.QueueCapacity, cfg.QueueWorkers, cfg.MaxRetries, cfg.RetryBackoff, cfg.Logger),
		logger:  cfg.Logger,
	}
}

// BreakerState reports the current circuit breaker state, for health
// reporting.
func (h *Handle) BreakerState() BreakerState {
	return h.breaker.State()
}

// Call waits for rate-limiter admission, then executes fn under the
// circuit breaker. A Retryable-wrapped failure is queued for
// background retry and Call returns that failure immediately rather
// than blocking on retries; a non-retryable failure is returned
// directly without a retry.
func (h *Handle) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := h.breaker.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err == nil {
		h.breaker.recordSuccess()
		return nil
	}

	h.breaker.recordFailure()

	if AsRetryable(err) {
		h.logger.Warn("provider call failed, queuing retry", "provider", h.name, "error", err)
		h.dlq.enqueue(deadLetterEntry{attempt: 1, fn: fn})
		return err
	}

	return err
}

// Close stops the background retry worker pool.
func (h *Handle) Close() {
	h.dlq.stop()
}
