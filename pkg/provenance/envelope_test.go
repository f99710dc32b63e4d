package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapExtractRoundTrip(t *testing.T) {
	asOf := time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)
	payload := map[string]any{"twr_ytd": 0.085}

	result := Wrap(payload, "metrics_database:PP_2025-10-21", asOf, time.Hour, "PP_2025-10-21", StatusReal)

	gotPayload, meta := Extract(result)
	require.Equal(t, payload, gotPayload)
	assert.Equal(t, "metrics_database:PP_2025-10-21", meta.Source)
	assert.Equal(t, asOf, meta.AsOf)
	assert.Equal(t, 3600, meta.TTLSeconds)
	assert.Equal(t, "PP_2025-10-21", meta.PricingPackID)
	assert.Equal(t, StatusReal, meta.ImplementationStatus)
}

func TestMergeTakesMinAsOfAndMinTTL(t *testing.T) {
	e1 := Envelope{Source: "a", AsOf: time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC), TTLSeconds: 3600, ImplementationStatus: StatusReal, ComputedAt: time.Now()}
	e2 := Envelope{Source: "b", AsOf: time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC), TTLSeconds: 1800, ImplementationStatus: StatusPartial, ComputedAt: time.Now()}

	merged := Merge(e1, e2)

	assert.Equal(t, e2.AsOf, merged.AsOf)
	assert.Equal(t, 1800, merged.TTLSeconds)
	assert.Equal(t, StatusPartial, merged.ImplementationStatus)
	assert.Equal(t, "a+b", merged.Source)
}

func TestMergeStatusOrderStubDominates(t *testing.T) {
	real := Envelope{Source: "real", ImplementationStatus: StatusReal, AsOf: time.Now()}
	stub := Envelope{Source: "stub", ImplementationStatus: StatusStub, AsOf: time.Now()}

	merged := Merge(real, stub)

	assert.Equal(t, StatusStub, merged.ImplementationStatus)
}

func TestMergeMissingEnvelopePoisonsUpward(t *testing.T) {
	real := Envelope{Source: "real", ImplementationStatus: StatusReal, AsOf: time.Now(), TTLSeconds: 3600}
	var missing Envelope // zero value: treated as missing

	merged := Merge(real, missing)

	assert.Equal(t, StatusStub, merged.ImplementationStatus)
	assert.Equal(t, 0, merged.TTLSeconds)
}

func TestMergeIsCommutative(t *testing.T) {
	e1 := Envelope{Source: "a", AsOf: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), TTLSeconds: 100, ImplementationStatus: StatusReal}
	e2 := Envelope{Source: "b", AsOf: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), TTLSeconds: 200, ImplementationStatus: StatusPartial}
	e3 := Envelope{Source: "c", AsOf: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), TTLSeconds: 50, ImplementationStatus: StatusStub}

	forward := Merge(e1, e2, e3)
	backward := Merge(e3, e2, e1)

	assert.Equal(t, forward.AsOf, backward.AsOf)
	assert.Equal(t, forward.TTLSeconds, backward.TTLSeconds)
	assert.Equal(t, forward.ImplementationStatus, backward.ImplementationStatus)
	assert.Equal(t, forward.Source, backward.Source)
}

func TestEnvelopeExpired(t *testing.T) {
	now := time.Now()
	fresh := Envelope{ComputedAt: now, TTLSeconds: 3600}
	assert.False(t, fresh.Expired(now.Add(time.Minute)))

	stale := Envelope{ComputedAt: now.Add(-2 * time.Hour), TTLSeconds: 3600}
	assert.True(t, stale.Expired(now))

	noTTL := Envelope{ComputedAt: now}
	assert.True(t, noTTL.Expired(now))
}
