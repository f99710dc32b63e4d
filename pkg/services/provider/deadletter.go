package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// deadLetterEntry is one retryable call that failed its initial attempt
// and is queued for a bounded number of retries on a background worker.
type deadLetterEntry struct {
	attempt int
	fn      func(ctx context.Context) error
	onDone  func(err error)
}

// deadLetterQueue drains a fixed-capacity channel with a small worker
// pool. When full, the entry being enqueued is dropped and a warning is
// logged rather than blocking the caller that enqueued it.
type deadLetterQueue struct {
	entries    chan deadLetterEntry
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newDeadLetterQueue(capacity, workers, maxRetries int, backoff time.Duration, logger *slog.Logger) *deadLetterQueue {
	if capacity <= 0 {
		capacity = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &deadLetterQueue{
		entries:    make(chan deadLetterEntry, capacity),
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

// enqueue submits fn for retry. If the queue is full, the newest entry
// is dropped (not the oldest — a channel can't evict its head without a
// receive) and a warning is logged; this bounds memory under sustained
// upstream failure rather than buffering unboundedly.
func (q *deadLetterQueue) enqueue(entry deadLetterEntry) {
	select {
	case q.entries <- entry:
	default:
		q.logger.Warn("dead-letter queue full, dropping retry", "attempt", entry.attempt)
		if entry.onDone != nil {
			entry.onDone(ErrQueueFull)
		}
	}
}

func (q *deadLetterQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case entry := <-q.entries:
			q.process(entry)
		}
	}
}

func (q *deadLetterQueue) process(entry deadLetterEntry) {
	if entry.attempt > q.maxRetries {
		if entry.onDone != nil {
			entry.onDone(ErrRetriesExhausted)
		}
		return
	}

	select {
	case <-q.stopCh:
		return
	case <-time.After(q.backoff * time.Duration(entry.attempt)):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := entry.fn(ctx)
	cancel()

	if err == nil {
		if entry.onDone != nil {
			entry.onDone(nil)
		}
		return
	}

	q.logger.Warn("dead-letter retry failed", "attempt", entry.attempt, "error", err)
	entry.attempt++
	q.enqueue(entry)
}

func (q *deadLetterQueue) stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}
