package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCallSucceeds(t *testing.T) {
	h := NewHandle("test", Config{})
	defer h.Close()

	err := h.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, h.BreakerState())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := NewHandle("test", Config{Breaker: BreakerConfig{MaxFailures: 3, OpenTimeout: time.Hour}})
	defer h.Close()

	failing := func(ctx context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = h.Call(context.Background(), failing)
	}

	assert.Equal(t, BreakerOpen, h.BreakerState())

	err := h.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenClosesOnProbeSuccess(t *testing.T) {
	h := NewHandle("test", Config{Breaker: BreakerConfig{MaxFailures: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenMax: 1}})
	defer h.Close()

	_ = h.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, BreakerOpen, h.BreakerState())

	time.Sleep(20 * time.Millisecond)

	err := h.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, h.BreakerState())
}

func TestRetryableFailureIsRetriedUntilSuccess(t *testing.T) {
	var calls int32
	h := NewHandle("test", Config{QueueCapacity: 10, QueueWorkers: 1, RetryBackoff: time.Millisecond})
	defer h.Close()

	done := make(chan struct{})
	fn := func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return Retryable{Err: errors.New("transient")}
		}
		close(done)
		return nil
	}

	err := h.Call(context.Background(), fn)
	assert.Error(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never succeeded")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestDeadLetterQueueDropsWhenFull(t *testing.T) {
	q := newDeadLetterQueue(1, 1, 1, time.Hour, nil)
	defer q.stop()

	// Occupy the only worker with a long-running entry so the channel
	// buffer (capacity 1) is the next thing to fill.
	blocker := make(chan struct{})
	q.enqueue(deadLetterEntry{attempt: 1, fn: func(ctx context.Context) error {
		<-blocker
		return nil
	}})
	time.Sleep(10 * time.Millisecond)

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		q.enqueue(deadLetterEntry{attempt: 1, fn: func(ctx context.Context) error { return nil }, onDone: func(err error) { results <- err }})
	}
	close(blocker)

	var sawQueueFull bool
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			if errors.Is(err, ErrQueueFull) {
				sawQueueFull = true
			}
		case <-time.After(time.Second):
		}
	}
	assert.True(t, sawQueueFull)
}
