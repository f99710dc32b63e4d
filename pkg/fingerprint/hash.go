// Package fingerprint implements the fingerprint cache and single-flight
// coalescing (C7): deterministic hashing of (capability, canonicalized
// inputs, pricing pack) plus at-most-one-inflight-per-fingerprint
// execution.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Compute derives the deterministic fingerprint for a capability
// invocation. Canonicalization sorts mapping keys, normalizes decimals
// to fixed-precision strings, and normalizes dates to ISO-8601 — stdlib
// sha256 over a hand-built canonical form is used rather than a
// third-party hashing library: the pack's hashing dependencies
// (xxhash, cityhash-style libs pulled in transitively) are optimized
// for throughput on uninterpreted bytes, not for producing a stable
// canonical encoding of heterogeneous typed params, which is the actual
// work here (see DESIGN.md).
func Compute(capability string, inputs map[string]any, pricingPackID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", capability, pricingPackID)
	writeCanonical(h, inputs)
	return hex.EncodeToString(h.Sum(nil))
}

type writer interface {
	Write(p []byte) (int, error)
}

func writeCanonical(w writer, v any) {
	switch val := v.(type) {
	case nil:
		fmt.Fprint(w, "null")
	case string:
		fmt.Fprintf(w, "s:%s", val)
	case bool:
		fmt.Fprintf(w, "b:%t", val)
	case int:
		fmt.Fprintf(w, "n:%d", val)
	case int64:
		fmt.Fprintf(w, "n:%d", val)
	case float64:
		fmt.Fprintf(w, "n:%s", strconv.FormatFloat(val, 'f', 6, 64))
	case time.Time:
		fmt.Fprintf(w, "d:%s", val.UTC().Format("2006-01-02"))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprint(w, "{")
		for _, k := range keys {
			fmt.Fprintf(w, "%s:", k)
			writeCanonical(w, val[k])
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "}")
	case []any:
		fmt.Fprint(w, "[")
		for _, item := range val {
			writeCanonical(w, item)
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "]")
	default:
		fmt.Fprintf(w, "v:%v", val)
	}
}
