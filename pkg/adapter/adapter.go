// Package adapter implements the single chokepoint through which every
// capability invocation must pass: resolve via the registry, check
// runtime compliance, apply a deadline, call the agent, normalize its
// result into a provenance envelope, and emit telemetry unconditionally.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dawsos/core/pkg/apperr"
	"github.com/dawsos/core/pkg/compliance"
	"github.com/dawsos/core/pkg/execctx"
	"github.com/dawsos/core/pkg/provenance"
	"github.com/dawsos/core/pkg/registry"
	"github.com/dawsos/core/pkg/telemetry"
)

// DefaultTimeout is the deadline applied to a capability invocation
// whose contract doesn't declare one of its own.
const DefaultTimeout = 30 * time.Second

// DefaultTTL is the provenance TTL applied to a non-stub result whose
// envelope and contract both leave TTLSeconds unset. Without this, a
// partial envelope with TTLSeconds==0 reads as already-expired the
// instant it's produced, defeating the fingerprint cache.
const DefaultTTL = 5 * time.Minute

// callerModule identifies this package to the compliance gate's runtime
// access monitor. Only the adapter, executor, and registry may appear
// here (see pkg/compliance.Gate.CheckAccess).
const callerModule = "adapter"

// Adapter is the sole caller of registry.Agent.Invoke anywhere in the
// module.
type Adapter struct {
	registry       *registry.Registry
	gate           *compliance.Gate
	telemetry      telemetry.Sink
	clock          func() time.Time
	defaultTimeout time.Duration
	defaultTTL     time.Duration
	logger         *slog.Logger
}

// Option customizes an Adapter at construction.
type Option func(*Adapter)

// WithClock overrides the adapter's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Adapter) { a.clock = clock }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.defaultTimeout = d }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(a *Adapter) { a.defaultTTL = d }
}

// WithLogger overrides the adapter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New builds an Adapter. sink may be telemetry.NoopSink{} if no
// persistence is configured.
func New(reg *registry.Registry, gate *compliance.Gate, sink telemetry.Sink, opts ...Option) *Adapter {
	a := &Adapter{
		registry:       reg,
		gate:           gate,
		telemetry:      sink,
		clock:          time.Now,
		defaultTimeout: DefaultTimeout,
		defaultTTL:     DefaultTTL,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke resolves capability, runs the runtime compliance check,
// applies a deadline, calls the agent, normalizes its result, and
// emits exactly one telemetry record before returning.
func (a *Adapter) Invoke(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (provenance.Result, error) {
	entry, err := a.registry.LookupByName(capability)
	if err != nil {
		started := a.clock()
		record := telemetry.Record{CapabilityName: capability, StartedAt: started, Outcome: telemetry.OutcomeError, ErrorMessage: err.Error()}
		record.DurationMS = a.clock().Sub(started).Milliseconds()
		if recErr := a.telemetry.Record(context.WithoutCancel(ctx), record); recErr != nil {
			a.logger.Warn("telemetry record failed", "capability", capability, "error", recErr)
		}
		return provenance.Result{}, apperr.Wrap(apperr.KindCapabilityNotFound, err, "capability %q", capability).WithCapability(capability)
	}
	return a.InvokeEntry(ctx, entry, ectx, params)
}

// InvokeEntry runs a capability invocation against an already-resolved
// registry.Entry, skipping the by-name registry lookup Invoke performs.
// Callers that pick a specific Entry themselves (e.g. the executor's
// tag-priority fallback) must use this instead of Invoke(entry.Contract.Name,
// ...), since a re-lookup by name can return a different entry than the
// one the caller selected when multiple entries share a capability name.
func (a *Adapter) InvokeEntry(ctx context.Context, entry registry.Entry, ectx *execctx.Context, params map[string]any) (provenance.Result, error) {
	started := a.clock()
	record := telemetry.Record{
		CapabilityName: entry.Contract.Name,
		AgentName:      entry.Agent.Name(),
		StartedAt:      started,
	}

	result, err := a.invoke(ctx, entry, ectx, params, &record)

	record.DurationMS = a.clock().Sub(started).Milliseconds()
	if recErr := a.telemetry.Record(context.WithoutCancel(ctx), record); recErr != nil {
		a.logger.Warn("telemetry record failed", "capability", entry.Contract.Name, "error", recErr)
	}

	return result, err
}

func (a *Adapter) invoke(ctx context.Context, entry registry.Entry, ectx *execctx.Context, params map[string]any, record *telemetry.Record) (provenance.Result, error) {
	capability := entry.Contract.Name
	access := a.gate.CheckAccess(callerModule, capability)
	if !access.Compliant && a.gate.Strict() {
		record.Outcome = telemetry.OutcomeError
		record.ErrorMessage = access.Reason
		return provenance.Result{}, apperr.New(apperr.KindValidationFailed, "%s", access.Reason).WithCapability(capability)
	}

	timeout := entry.Contract.Timeout
	if timeout <= 0 {
		timeout = a.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, envelope, invokeErr := a.callWithRecover(callCtx, entry, capability, ectx, params)

	if callCtx.Err() == context.DeadlineExceeded {
		record.Outcome = telemetry.OutcomeTimeout
		record.ErrorMessage = "capability invocation exceeded deadline"
		return provenance.Result{}, apperr.New(apperr.KindTimeout, "capability %q exceeded its %s deadline", capability, timeout).WithCapability(capability)
	}

	if invokeErr != nil {
		record.Outcome = telemetry.OutcomeError
		record.ErrorMessage = invokeErr.Error()
		return provenance.Result{}, apperr.Wrap(apperr.KindCapabilityError, invokeErr, "capability %q", capability).WithCapability(capability)
	}

	meta := a.normalizeEnvelope(envelope, entry, ectx)
	record.ProvenanceWritten = true
	if meta.ImplementationStatus == provenance.StatusStub {
		record.Outcome = telemetry.OutcomeStub
	} else {
		record.Outcome = telemetry.OutcomeSuccess
	}

	return provenance.Result{Payload: payload, Meta: meta}, nil
}

// callWithRecover invokes the agent method, converting any panic into a
// CapabilityError-shaped return instead of crashing the caller.
func (a *Adapter) callWithRecover(ctx context.Context, entry registry.Entry, capability string, ectx *execctx.Context, params map[string]any) (payload any, envelope *provenance.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("capability invocation panicked", "capability", capability, "agent", entry.Agent.Name(), "panic", r)
			err = fmt.Errorf("panic during %q invocation: %v", capability, r)
		}
	}()
	return entry.Agent.Invoke(ctx, capability, ectx, params)
}

// normalizeEnvelope fills in any fields an agent left unset, so every
// result the adapter returns carries a fully-populated envelope.
func (a *Adapter) normalizeEnvelope(envelope *provenance.Envelope, entry registry.Entry, ectx *execctx.Context) provenance.Envelope {
	now := a.clock()
	if envelope == nil {
		status := contractStatusToEnvelope(entry.Contract.ImplementationStatus)
		out := provenance.Envelope{
			Source:               entry.Contract.Name,
			AsOf:                 now,
			ComputedAt:           now,
			PricingPackID:        ectx.PricingPackID,
			ImplementationStatus: status,
		}
		if status != provenance.StatusStub {
			out.TTLSeconds = int(a.defaultTTLFor(entry) / time.Second)
		}
		return out
	}

	out := *envelope
	if out.Source == "" {
		out.Source = entry.Contract.Name
	}
	if out.ComputedAt.IsZero() {
		out.ComputedAt = now
	}
	if out.AsOf.IsZero() {
		out.AsOf = now
	}
	if out.PricingPackID == "" {
		out.PricingPackID = ectx.PricingPackID
	}
	if out.TTLSeconds <= 0 && out.ImplementationStatus != provenance.StatusStub {
		out.TTLSeconds = int(a.defaultTTLFor(entry) / time.Second)
	}
	return out
}

// defaultTTLFor resolves the TTL to fill when an agent leaves one unset:
// the contract's own DefaultTTL, or the adapter-wide default.
func (a *Adapter) defaultTTLFor(entry registry.Entry) time.Duration {
	if entry.Contract.DefaultTTL > 0 {
		return entry.Contract.DefaultTTL
	}
	return a.defaultTTL
}

func contractStatusToEnvelope(s registry.ImplementationStatus) provenance.Status {
	switch s {
	case registry.StatusReal:
		return provenance.StatusReal
	case registry.StatusPartial:
		return provenance.StatusPartial
	default:
		return provenance.StatusStub
	}
}
