package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dawsos/core/pkg/fingerprint"
	"github.com/dawsos/core/pkg/services/provider"
	"github.com/dawsos/core/pkg/telemetry"
)

// Bundle is the set of injected collaborators every agent receives at
// construction: the telemetry sink, one resilient Handle per upstream
// provider, the fingerprint cache, and a structured logger.
type Bundle struct {
	Telemetry telemetry.Sink
	Providers map[string]*provider.Handle
	Cache     *fingerprint.Cache
	Logger    *slog.Logger
}

// ProviderSpec names one upstream provider and its resilience budget.
type ProviderSpec struct {
	Name              string
	RequestsPerMinute float64
}

// NewBundle opens the telemetry store, builds a Handle per entry in
// specs, and wires a fingerprint cache and logger. The telemetry DSN is
// read from TELEMETRY_DATABASE_URL; if unset, telemetry degrades to a
// NoopSink rather than failing bundle construction, since telemetry must
// never be a hard dependency of invoking a capability.
func NewBundle(ctx context.Context, specs []ProviderSpec) (*Bundle, error) {
	logger := slog.Default()

	sink, err := telemetrySinkFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry sink: %w", err)
	}

	providers := make(map[string]*provider.Handle, len(specs))
	for _, spec := range specs {
		providers[spec.Name] = provider.NewHandle(spec.Name, provider.Config{
			RequestsPerMinute: spec.RequestsPerMinute,
			Logger:            logger.With("provider", spec.Name),
		})
	}

	cache := fingerprint.New(fingerprint.Config{Capacity: cacheCapacityFromEnv()})

	return &Bundle{Telemetry: sink, Providers: providers, Cache: cache, Logger: logger}, nil
}

// Close releases every provider handle's background worker pool.
func (b *Bundle) Close() error {
	for _, p := range b.Providers {
		p.Close()
	}
	return nil
}

// StrictMode reports the STRICT_MODE environment flag, promoting
// pattern-compliance warnings to errors when set.
func StrictMode() bool {
	v, _ := strconv.ParseBool(os.Getenv("STRICT_MODE"))
	return v
}

func telemetrySinkFromEnv(ctx context.Context) (telemetry.Sink, error) {
	dsn := os.Getenv("TELEMETRY_DATABASE_URL")
	if dsn == "" {
		return telemetry.NoopSink{}, nil
	}
	return telemetry.NewPGSink(ctx, dsn)
}

func cacheCapacityFromEnv() int {
	v := os.Getenv("FINGERPRINT_CACHE_CAPACITY")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
