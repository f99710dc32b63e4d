package fingerprint

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dawsos/core/pkg/provenance"
)

// DefaultStubTTL caps how long a stub-status result may be served from
// cache, regardless of the envelope's own declared TTL — stubs must be
// retried frequently so real data replaces them promptly.
const DefaultStubTTL = 60 * time.Second

// Config configures the cache's bounded LRU storage.
type Config struct {
	// Capacity bounds the number of distinct fingerprints held at once.
	// Eviction among non-expired entries is least-recently-used.
	Capacity int
	// StubTTL caps the TTL applied to stub-status results. Zero uses
	// DefaultStubTTL.
	StubTTL time.Duration
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	result    provenance.Result
	expiresAt time.Time
}

// Cache implements the fingerprint-keyed store plus single-flight
// coalescing: a bounded LRU (github.com/hashicorp/golang-lru/v2) with
// per-entry TTL, fronted by golang.org/x/sync/singleflight so that
// concurrent requests for the same fingerprint share one producer call.
type Cache struct {
	lru     *lru.Cache[string, entry]
	group   singleflight.Group
	stubTTL time.Duration
	now     func() time.Time
}

// New builds a Cache with the given configuration.
func New(cfg Config) *Cache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10_000
	}
	stubTTL := cfg.StubTTL
	if stubTTL <= 0 {
		stubTTL = DefaultStubTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	store, err := lru.New[string, entry](capacity)
	if err != nil {
		// Only possible if capacity <= 0, already guarded above.
		panic(err)
	}

	return &Cache{lru: store, stubTTL: stubTTL, now: now}
}

// Get returns the cached result for fingerprint, or ok=false on a miss
// or an expired entry (which is also evicted).
func (c *Cache) Get(fp string) (provenance.Result, bool) {
	e, ok := c.lru.Get(fp)
	if !ok {
		return provenance.Result{}, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(fp)
		return provenance.Result{}, false
	}
	return e.result, true
}

// Produce is the function signature a SingleFlight caller supplies to
// compute a fresh result on a cache miss.
type Produce func(ctx context.Context) (provenance.Result, error)

// SingleFlight consults the cache; on a hit it returns immediately. On a
// miss it becomes (or joins) the single in-flight producer for fp:
// exactly one call to produce executes per distinct concurrently-active
// fingerprint, and every concurrent caller receives the same result.
func (c *Cache) SingleFlight(ctx context.Context, fp string, produce Produce) (provenance.Result, error) {
	if result, ok := c.Get(fp); ok {
		return result, nil
	}

	v, err, _ := c.group.Do(fp, func() (any, error) {
		// Re-check: another goroutine may have populated the cache
		// between our Get above and acquiring the single-flight slot.
		if result, ok := c.Get(fp); ok {
			return result, nil
		}

		result, produceErr := produce(ctx)
		if produceErr != nil {
			return result, produceErr
		}

		ttl := time.Duration(result.Meta.TTLSeconds) * time.Second
		if result.Meta.ImplementationStatus == provenance.StatusStub && ttl > c.stubTTL {
			ttl = c.stubTTL
		}
		// Expiry is absolute from the envelope's ComputedAt; the store
		// time stands in only when the envelope carries none.
		base := result.Meta.ComputedAt
		if base.IsZero() {
			base = c.now()
		}
		c.lru.Add(fp, entry{result: result, expiresAt: base.Add(ttl)})

		return result, nil
	})

	if err != nil {
		return provenance.Result{}, err
	}
	return v.(provenance.Result), nil
}

// Invalidate removes every cached fingerprint for which pred returns
// true, given its envelope. Used at pricing-pack rollover: all entries
// whose pricing_pack_id differs from the new active pack are purged.
func (c *Cache) Invalidate(pred func(fp string, env provenance.Envelope) bool) {
	for _, fp := range c.lru.Keys() {
		e, ok := c.lru.Peek(fp)
		if !ok {
			continue
		}
		if pred(fp, e.result.Meta) {
			c.lru.Remove(fp)
		}
	}
}

// Len reports the number of entries currently cached (including any not
// yet lazily evicted for expiry).
func (c *Cache) Len() int {
	return c.lru.Len()
}
