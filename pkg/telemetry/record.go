// Package telemetry implements the append-only invocation log: one
// record per capability invocation, emitted regardless of outcome, plus
// the durable store it lands in.
package telemetry

import (
	"context"
	"time"
)

// Outcome classifies how a single capability invocation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
	OutcomeStub    Outcome = "stub"
)

// Record is one telemetry entry, emitted unconditionally by the adapter
// after every capability invocation.
type Record struct {
	CapabilityName    string    `json:"capability_name"`
	AgentName         string    `json:"agent_name"`
	StartedAt         time.Time `json:"started_at"`
	DurationMS        int64     `json:"duration_ms"`
	Outcome           Outcome   `json:"outcome"`
	ProvenanceWritten bool      `json:"provenance_written"`
	PatternID         string    `json:"pattern_id,omitempty"`
	StepName          string    `json:"step_name,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// Sink persists telemetry records. Implementations must not block the
// caller indefinitely; a slow or failing sink degrades telemetry, never
// the invocation it's recording.
type Sink interface {
	Record(ctx context.Context, r Record) error
}

// NoopSink discards every record. services.NewBundle falls back to it
// when no telemetry store is configured, so telemetry is never a hard
// dependency of invoking a capability.
type NoopSink struct{}

func (NoopSink) Record(ctx context.Context, r Record) error { return nil }
