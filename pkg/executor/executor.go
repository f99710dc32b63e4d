// Package executor walks a pattern's steps in order, resolving
// templates, routing each capability through the registry/adapter, and
// merging provenance across the whole run.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/dawsos/core/pkg/adapter"
	"github.com/dawsos/core/pkg/apperr"
	"github.com/dawsos/core/pkg/compliance"
	"github.com/dawsos/core/pkg/execctx"
	"github.com/dawsos/core/pkg/fingerprint"
	"github.com/dawsos/core/pkg/pattern"
	"github.com/dawsos/core/pkg/provenance"
	"github.com/dawsos/core/pkg/registry"
)

// stubMarker is bound into step_outputs in place of a real payload when
// an optional step fails: downstream steps that substitute from that
// slot see the marker and may choose to short-circuit.
type stubMarker struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Executor runs one pattern to completion (or to its first hard
// failure) against a single execution context.
type Executor struct {
	registry *registry.Registry
	adapter  *adapter.Adapter
	gate     *compliance.Gate
	cache    *fingerprint.Cache
}

// New builds an Executor over the given collaborators.
func New(reg *registry.Registry, ad *adapter.Adapter, gate *compliance.Gate, cache *fingerprint.Cache) *Executor {
	return &Executor{registry: reg, adapter: ad, gate: gate, cache: cache}
}

// Execute re-verifies compliance, then walks p.Steps strictly in order,
// resolving {var} templates, invoking capabilities, and merging their
// envelopes into a single running provenance record. When the pattern
// declares a Template, the rendered template is the returned payload;
// otherwise the last step's payload is.
func (e *Executor) Execute(ctx context.Context, p *pattern.Pattern, ectx *execctx.Context) (provenance.Result, error) {
	check := e.gate.StaticCheck(p.ToComplianceInfo(e.registry.AgentNames()))
	if !check.Compliant {
		return provenance.Result{}, apperr.New(apperr.KindValidationFailed, "pattern failed compliance re-check at execution time").WithPattern(p.ID)
	}

	if len(p.Steps) == 0 {
		return provenance.Result{Payload: nil, Meta: provenance.Envelope{ImplementationStatus: provenance.StatusReal, ComputedAt: time.Now().UTC()}}, nil
	}

	var aggregate *provenance.Envelope
	var lastPayload any
	seenPackID := ""

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return provenance.Result{}, apperr.Wrap(apperr.KindTimeout, err, "pattern execution cancelled").WithPattern(p.ID).WithStep(step.Name)
		}

		resolvedParams, err := execctx.ResolveParams(step.Params, ectx)
		if err != nil {
			return provenance.Result{}, apperr.Wrap(apperr.KindUnresolvedReference, err, "resolving step %q params", step.Name).WithPattern(p.ID).WithStep(step.Name)
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.TimeoutSeconds > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		}

		payload, env, stepErr := e.runStep(stepCtx, step, ectx, resolvedParams)
		if cancel != nil {
			cancel()
		}

		if stepErr != nil {
			if step.IsRequired() {
				return provenance.Result{}, annotate(stepErr, p.ID, step.Name)
			}
			payload = stubMarker{Status: "stub", Reason: stepErr.Error()}
			env = provenance.Envelope{ImplementationStatus: provenance.StatusStub, ComputedAt: time.Now().UTC()}
		}

		if env.PricingPackID != "" {
			if seenPackID == "" {
				seenPackID = env.PricingPackID
			} else if env.PricingPackID != seenPackID {
				return provenance.Result{}, apperr.New(apperr.KindValidationFailed,
					"inconsistent pricing_pack_id across steps: %q then %q", seenPackID, env.PricingPackID).
					WithPattern(p.ID).WithStep(step.Name)
			}
		}

		bind(ectx, step, payload)
		lastPayload = payload
		aggregate = mergeInto(aggregate, env)
	}

	if p.Template != "" {
		rendered, err := execctx.Resolve(p.Template, ectx)
		if err != nil {
			return provenance.Result{}, apperr.Wrap(apperr.KindUnresolvedReference, err, "rendering pattern template").WithPattern(p.ID)
		}
		lastPayload = rendered
	}

	if aggregate == nil {
		now := time.Now().UTC()
		aggregate = &provenance.Envelope{ImplementationStatus: provenance.StatusReal, ComputedAt: now}
	}

	return provenance.Result{Payload: lastPayload, Meta: *aggregate}, nil
}

// runStep dispatches one step to its capability (by name or, for a tag
// fallback, the first candidate to succeed, preferring non-stub
// implementations) via a fingerprint-scoped single-flight cache call.
func (e *Executor) runStep(ctx context.Context, step pattern.Step, ectx *execctx.Context, params map[string]any) (any, provenance.Envelope, error) {
	switch {
	case step.Capability != "":
		return e.invokeByName(ctx, step.Capability, ectx, params)
	case step.CapabilityTag != "":
		return e.invokeByTag(ctx, step.CapabilityTag, ectx, params)
	default:
		// No capability to dispatch: the step is a local transform over
		// already-resolved params (e.g. a synthesis/formatting step).
		// Its resolved params become its output verbatim.
		return params, provenance.Envelope{}, nil
	}
}

func (e *Executor) invokeByName(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, provenance.Envelope, error) {
	fp := fingerprint.Compute(capability, params, ectx.PricingPackID)
	result, err := e.cache.SingleFlight(ctx, fp, func(produceCtx context.Context) (provenance.Result, error) {
		return e.adapter.Invoke(produceCtx, capability, ectx, params)
	})
	if err != nil {
		return nil, provenance.Envelope{}, err
	}
	return result.Payload, result.Meta, nil
}

// invokeEntry dispatches an already-selected registry.Entry directly,
// the same way invokeByName does for a bare capability name, but without
// re-resolving the name through the registry.
func (e *Executor) invokeEntry(ctx context.Context, entry registry.Entry, ectx *execctx.Context, params map[string]any) (any, provenance.Envelope, error) {
	fp := fingerprint.Compute(entry.Contract.Name, params, ectx.PricingPackID)
	result, err := e.cache.SingleFlight(ctx, fp, func(produceCtx context.Context) (provenance.Result, error) {
		return e.adapter.InvokeEntry(produceCtx, entry, ectx, params)
	})
	if err != nil {
		return nil, provenance.Envelope{}, err
	}
	return result.Payload, result.Meta, nil
}

// invokeByTag tries every registered implementation of tag in
// descending priority, preferring real/partial implementations over
// stubs: non-stub candidates are tried first, in priority order; stub
// candidates are tried only if every non-stub candidate was absent or
// failed.
func (e *Executor) invokeByTag(ctx context.Context, tag string, ectx *execctx.Context, params map[string]any) (any, provenance.Envelope, error) {
	entries := e.registry.LookupByTag(tag)
	if len(entries) == 0 {
		return nil, provenance.Envelope{}, apperr.New(apperr.KindCapabilityNotFound, "no implementation registered for capability tag %q", tag)
	}

	var nonStub, stub []registry.Entry
	for _, entry := range entries {
		if entry.Contract.ImplementationStatus == registry.StatusStub {
			stub = append(stub, entry)
		} else {
			nonStub = append(nonStub, entry)
		}
	}

	var lastErr error
	for _, entry := range append(nonStub, stub...) {
		payload, env, err := e.invokeEntry(ctx, entry, ectx, params)
		if err == nil {
			return payload, env, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = apperr.New(apperr.KindCapabilityNotFound, "no implementation of capability tag %q succeeded", tag)
	}
	return nil, provenance.Envelope{}, lastErr
}

// bind stores payload under the step's own name and every declared
// output name.
func bind(ectx *execctx.Context, step pattern.Step, payload any) {
	ectx.StepOutputs[step.Name] = payload
	for _, out := range step.Outputs {
		ectx.StepOutputs[out] = payload
	}
}

// mergeInto folds env into aggregate, treating a nil aggregate (no
// prior step yet) as "nothing to merge" rather than a poisoning
// missing envelope.
func mergeInto(aggregate *provenance.Envelope, env provenance.Envelope) *provenance.Envelope {
	if aggregate == nil {
		out := env
		return &out
	}
	merged := provenance.Merge(*aggregate, env)
	return &merged
}

func annotate(err error, patternID, step string) error {
	if ae, ok := err.(*apperr.Error); ok {
		return ae.WithPattern(patternID).WithStep(step)
	}
	return fmt.Errorf("pattern %q step %q: %w", patternID, step, err)
}
