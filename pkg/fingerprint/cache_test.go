package fingerprint

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawsos/core/pkg/provenance"
)

func TestComputeIsDeterministicAndOrderIndependent(t *testing.T) {
	a := Compute("metrics.compute_twr", map[string]any{"portfolio_id": "P1", "asof_date": "2025-10-21"}, "PP1")
	b := Compute("metrics.compute_twr", map[string]any{"asof_date": "2025-10-21", "portfolio_id": "P1"}, "PP1")
	assert.Equal(t, a, b)
}

func TestComputeDiffersOnPricingPack(t *testing.T) {
	a := Compute("metrics.compute_twr", map[string]any{"portfolio_id": "P1"}, "PP1")
	b := Compute("metrics.compute_twr", map[string]any{"portfolio_id": "P1"}, "PP2")
	assert.NotEqual(t, a, b)
}

func TestSingleFlightCallsProducerExactlyOnce(t *testing.T) {
	c := New(Config{})
	var calls int32

	produce := func(ctx context.Context) (provenance.Result, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return provenance.Wrap(map[string]any{"twr_ytd": 0.085}, "metrics:PP1", time.Now(), time.Hour, "PP1", provenance.StatusReal), nil
	}

	const n = 20
	results := make([]provenance.Result, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := c.SingleFlight(context.Background(), "fp1", produce)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestGetMissOnExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	c := New(Config{Now: func() time.Time { return clock }})

	result := provenance.Wrap("payload", "src", now, time.Second, "PP1", provenance.StatusReal)
	_, err := c.SingleFlight(context.Background(), "fp", func(ctx context.Context) (provenance.Result, error) {
		return result, nil
	})
	require.NoError(t, err)

	_, ok := c.Get("fp")
	assert.True(t, ok)

	clock = now.Add(2 * time.Second)
	_, ok = c.Get("fp")
	assert.False(t, ok)
}

func TestStubResultsCappedAtStubTTL(t *testing.T) {
	now := time.Now()
	clock := now
	c := New(Config{StubTTL: 5 * time.Second, Now: func() time.Time { return clock }})

	stub := provenance.Wrap(nil, "src", now, time.Hour, "PP1", provenance.StatusStub)
	_, err := c.SingleFlight(context.Background(), "fp-stub", func(ctx context.Context) (provenance.Result, error) {
		return stub, nil
	})
	require.NoError(t, err)

	clock = now.Add(6 * time.Second)
	_, ok := c.Get("fp-stub")
	assert.False(t, ok, "stub entries must expire no later than the capped stub TTL regardless of declared TTL")
}

func TestInvalidateByPricingPack(t *testing.T) {
	c := New(Config{})
	_, err := c.SingleFlight(context.Background(), "fp-old", func(ctx context.Context) (provenance.Result, error) {
		return provenance.Wrap("v", "src", time.Now(), time.Hour, "PP_OLD", provenance.StatusReal), nil
	})
	require.NoError(t, err)
	_, err = c.SingleFlight(context.Background(), "fp-new", func(ctx context.Context) (provenance.Result, error) {
		return provenance.Wrap("v", "src", time.Now(), time.Hour, "PP_NEW", provenance.StatusReal), nil
	})
	require.NoError(t, err)

	c.Invalidate(func(fp string, env provenance.Envelope) bool {
		return env.PricingPackID != "PP_NEW"
	})

	_, ok := c.Get("fp-old")
	assert.False(t, ok)
	_, ok = c.Get("fp-new")
	assert.True(t, ok)
}

func TestProducerErrorAllowsRetryByNextWaiter(t *testing.T) {
	c := New(Config{})
	var attempt int32

	produce := func(ctx context.Context) (provenance.Result, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			return provenance.Result{}, assert.AnError
		}
		return provenance.Wrap("ok", "src", time.Now(), time.Hour, "PP1", provenance.StatusReal), nil
	}

	_, err := c.SingleFlight(context.Background(), "fp", produce)
	require.Error(t, err)

	result, err := c.SingleFlight(context.Background(), "fp", produce)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Payload)
}
