package provider

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Handle.Call while the circuit is open.
var ErrCircuitOpen = errors.New("provider: circuit breaker is open")

// BreakerConfig configures the failure threshold and recovery timing.
type BreakerConfig struct {
	MaxFailures int           // consecutive failures before opening
	OpenTimeout time.Duration // time spent open before a half-open probe
	HalfOpenMax int           // probe calls admitted while half-open; one success closes
}

// DefaultBreakerConfig matches the three-consecutive-failures / 60s-open
// contract every provider.Handle uses unless overridden.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, OpenTimeout: 60 * time.Second, HalfOpenMax: 1}
}

// breaker is a minimal closed/open/half-open circuit breaker guarding a
// single upstream provider call.
type breaker struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	state        BreakerState
	failures     int
	halfOpenReqs int
	lastFailure  time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &breaker{cfg: cfg, state: BreakerClosed}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.halfOpenReqs = 0
	case BreakerHalfOpen:
		if b.halfOpenReqs >= b.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
	}
	b.halfOpenReqs++
	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenReqs = 0
	b.state = BreakerClosed
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = BreakerOpen
		b.halfOpenReqs = 0
	}
}
