package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/dawsos/core/pkg/execctx"
	"github.com/dawsos/core/pkg/provenance"
)

// FieldType is the semantic type of a capability's input/output field
// (identifier, date, decimal, enum, mapping, ...) rather than a raw Go
// kind, so a contract can describe domain shape, not just wire type.
type FieldType string

const (
	FieldIdentifier FieldType = "identifier"
	FieldDate       FieldType = "date"
	FieldDecimal    FieldType = "decimal"
	FieldEnum       FieldType = "enum"
	FieldMapping    FieldType = "mapping"
	FieldString     FieldType = "string"
	FieldBool       FieldType = "bool"
)

// IsValid reports whether t is one of the declared field types.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldIdentifier, FieldDate, FieldDecimal, FieldEnum, FieldMapping, FieldString, FieldBool:
		return true
	default:
		return false
	}
}

// ImplementationStatus mirrors provenance.Status at the contract level:
// what a capability's author claims its implementation is, as opposed
// to what a single invocation's envelope reports.
type ImplementationStatus string

const (
	StatusReal    ImplementationStatus = "real"
	StatusPartial ImplementationStatus = "partial"
	StatusStub    ImplementationStatus = "stub"
)

// IsValid reports whether s is one of the three declared statuses.
func (s ImplementationStatus) IsValid() bool {
	return s == StatusReal || s == StatusPartial || s == StatusStub
}

// Contract is a capability's declarative description: its name, typed
// input/output schema, implementation status, dependencies on other
// capabilities, and whether it fetches positions internally.
type Contract struct {
	Name                 string
	Input                map[string]FieldType
	Output               map[string]FieldType
	FetchesPositions     bool
	ImplementationStatus ImplementationStatus
	Dependencies         []string
	Description          string
	Tags                 []string
	Timeout              time.Duration
	// DefaultTTL is the provenance TTL the adapter applies when this
	// capability returns a non-stub envelope with TTLSeconds unset.
	// Zero defers to the adapter's own configured default.
	DefaultTTL time.Duration
}

// Validate performs a cheap static sanity check in place of runtime
// signature introspection: Input and Output must not declare the same
// field name with two different types, and a capability that fetches
// positions must declare a "positions" output (see DESIGN.md).
func (c Contract) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("capability contract missing name")
	}
	for field, inType := range c.Input {
		if outType, ok := c.Output[field]; ok && outType != inType {
			return fmt.Errorf("capability %q: field %q is %s in input but %s in output", c.Name, field, inType, outType)
		}
	}
	if c.FetchesPositions {
		if _, ok := c.Output["positions"]; !ok {
			return fmt.Errorf("capability %q: fetches_positions=true requires a %q output field", c.Name, "positions")
		}
	}
	return nil
}

// Agent is the uniform shape every capability provider implements: a
// single typed dispatch method plus a declarative capability list,
// rather than duck-typed method lookup per agent kind.
type Agent interface {
	// Name identifies the agent for telemetry and compliance reporting.
	Name() string

	// Capabilities declares every capability this agent exposes.
	Capabilities() []Contract

	// Invoke dispatches a single capability call. params are already
	// resolved (no {var} templates remain). The returned envelope may be
	// nil or partially populated — the adapter fills in defaults.
	Invoke(ctx context.Context, capability string, ectx *execctx.Context, params map[string]any) (any, *provenance.Envelope, error)
}

// Entry is one binding in the registry: a capability name resolved to
// the agent and contract that serve it, plus the declared priority used
// to order multi-bound capabilities (higher wins).
type Entry struct {
	Agent    Agent
	Contract Contract
	Priority int
}
