package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawsos/core/pkg/apperr"
	"github.com/dawsos/core/pkg/compliance"
	"github.com/dawsos/core/pkg/execctx"
	"github.com/dawsos/core/pkg/provenance"
	"github.com/dawsos/core/pkg/registry"
	"github.com/dawsos/core/pkg/telemetry"
)

type recordingSink struct {
	records []telemetry.Record
}

func (s *recordingSink) Record(ctx context.Context, r telemetry.Record) error {
	s.records = append(s.records, r)
	return nil
}

type testAgent struct {
	name string
	caps []registry.Contract
	fn   func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error)
}

func (a *testAgent) Name() string                     { return a.name }
func (a *testAgent) Capabilities() []registry.Contract { return a.caps }
func (a *testAgent) Invoke(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
	return a.fn(ctx, capability, ectx, params)
}

func newTestContext() *execctx.Context {
	return execctx.New("how much did I make", "P1", time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC), "PP_2025-10-21", "")
}

func TestInvokeReturnsCapabilityNotFound(t *testing.T) {
	a := New(registry.New(), compliance.New(false), &recordingSink{})
	_, err := a.Invoke(context.Background(), "metrics.nope", newTestContext(), nil)

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCapabilityNotFound))
}

func TestInvokeSuccessNormalizesEnvelope(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&testAgent{
		name: "metrics_agent",
		caps: []registry.Contract{{Name: "metrics.compute_twr", ImplementationStatus: registry.StatusReal}},
		fn: func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
			return map[string]any{"twr_ytd": 0.085}, nil, nil
		},
	}))

	sink := &recordingSink{}
	a := New(reg, compliance.New(false), sink)

	result, err := a.Invoke(context.Background(), "metrics.compute_twr", newTestContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, "PP_2025-10-21", result.Meta.PricingPackID)
	assert.Equal(t, "metrics.compute_twr", result.Meta.Source)
	assert.False(t, result.Meta.ComputedAt.IsZero())
	assert.Greater(t, result.Meta.TTLSeconds, 0, "a non-stub result with no TTL of its own must get the adapter's default TTL")
	assert.False(t, result.Meta.Expired(a.clock()), "a freshly filled default TTL must not already be expired")

	require.Len(t, sink.records, 1)
	assert.Equal(t, telemetry.OutcomeSuccess, sink.records[0].Outcome)
	assert.True(t, sink.records[0].ProvenanceWritten)
}

func TestInvokeFillsContractDefaultTTLOverAdapterDefault(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&testAgent{
		name: "metrics_agent",
		caps: []registry.Contract{{Name: "metrics.compute_twr", ImplementationStatus: registry.StatusReal, DefaultTTL: 90 * time.Second}},
		fn: func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
			return map[string]any{"twr_ytd": 0.085}, nil, nil
		},
	}))

	a := New(reg, compliance.New(false), &recordingSink{})

	result, err := a.Invoke(context.Background(), "metrics.compute_twr", newTestContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, 90, result.Meta.TTLSeconds)
}

func TestInvokeDoesNotFillTTLForStubResult(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&testAgent{
		name: "stub_agent",
		caps: []registry.Contract{{Name: "metrics.stub_twr", ImplementationStatus: registry.StatusStub}},
		fn: func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
			return map[string]any{"twr_ytd": 0.0}, nil, nil
		},
	}))

	a := New(reg, compliance.New(false), &recordingSink{})

	result, err := a.Invoke(context.Background(), "metrics.stub_twr", newTestContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Meta.TTLSeconds, "stub results must not get a default TTL that would mask their staleness")
}

func TestInvokeRecoversPanicIntoCapabilityError(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&testAgent{
		name: "flaky_agent",
		caps: []registry.Contract{{Name: "flaky.cap", ImplementationStatus: registry.StatusReal}},
		fn: func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
			panic("boom")
		},
	}))

	sink := &recordingSink{}
	a := New(reg, compliance.New(false), sink)

	_, err := a.Invoke(context.Background(), "flaky.cap", newTestContext(), nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCapabilityError))
	require.Len(t, sink.records, 1)
	assert.Equal(t, telemetry.OutcomeError, sink.records[0].Outcome)
}

func TestInvokeTimesOutOnSlowCapability(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&testAgent{
		name: "slow_agent",
		caps: []registry.Contract{{Name: "slow.cap", ImplementationStatus: registry.StatusReal, Timeout: 10 * time.Millisecond}},
		fn: func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		},
	}))

	a := New(reg, compliance.New(false), &recordingSink{})

	_, err := a.Invoke(context.Background(), "slow.cap", newTestContext(), nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
}

func TestInvokeAllowsAdapterCallerInStrictMode(t *testing.T) {
	// Invoke always calls CheckAccess with callerModule "adapter", which
	// is on the gate's allowlist, so a strict gate still lets the call
	// through. The strict refusal branch for a non-allowlisted caller
	// cannot be reached through Invoke and is not exercised here.
	reg := registry.New()
	require.NoError(t, reg.Register(&testAgent{
		name: "metrics_agent",
		caps: []registry.Contract{{Name: "metrics.compute_twr", ImplementationStatus: registry.StatusReal}},
		fn: func(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error) {
			return "ok", nil, nil
		},
	}))
	a := New(reg, compliance.New(true), &recordingSink{})

	_, err := a.Invoke(context.Background(), "metrics.compute_twr", newTestContext(), nil)
	assert.NoError(t, err)
}
