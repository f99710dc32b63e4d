package pattern

import (
	"fmt"
	"strings"

	"github.com/dawsos/core/pkg/compliance"
	"github.com/dawsos/core/pkg/execctx"
	"github.com/dawsos/core/pkg/registry"
)

// ValidateDeps supplies the cross-reference state Validate needs beyond
// a single pattern's own bytes: the capability registry (for capability
// existence and fetches_positions ordering) and the compliance gate
// (for the static scan). Both may be nil, in which case the checks that
// need them are skipped — useful for unit-testing the parts of Validate
// that don't.
type ValidateDeps struct {
	Registry *registry.Registry
	Gate     *compliance.Gate
}

// Validate runs the full cross-reference and semantic check pipeline
// against one already schema-valid pattern: step reference resolution,
// capability existence, fetches_positions ordering, and the compliance
// gate's static scan.
func Validate(p *Pattern, corpus *Corpus, deps ValidateDeps) []Diagnostic {
	var diags []Diagnostic

	diags = append(diags, validateStepReferences(p)...)
	diags = append(diags, validateCapabilities(p, deps.Registry)...)
	diags = append(diags, validateFetchesPositionsOrdering(p, deps.Registry)...)

	if deps.Gate != nil {
		diags = append(diags, validateCompliance(p, deps.Registry, deps.Gate)...)
	}

	return diags
}

// validateStepReferences requires every {var} in every step's params to
// resolve transitively from known execution-context fields or from an
// earlier step's name/declared output name in the same pattern.
func validateStepReferences(p *Pattern) []Diagnostic {
	var diags []Diagnostic
	known := make(map[string]bool)
	for _, f := range execctx.KnownFields() {
		known[f] = true
	}

	for i, step := range p.Steps {
		available := availableAfter(p, i)
		for _, ref := range collectRefs(step.Params) {
			head := ref
			if idx := indexOfDot(ref); idx >= 0 {
				head = ref[:idx]
			}
			if known[head] || available[head] {
				continue
			}
			diags = append(diags, Diagnostic{
				PatternID: p.ID,
				StepName:  step.Name,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("unresolved reference {%s}: not a known context field or an earlier step's name/output", ref),
			})
		}
	}
	return diags
}

// availableAfter returns the set of names (step names and their
// declared outputs) that a step at index i may legally reference:
// every step strictly before it.
func availableAfter(p *Pattern, i int) map[string]bool {
	out := make(map[string]bool)
	for j := 0; j < i; j++ {
		out[p.Steps[j].Name] = true
		for _, o := range p.Steps[j].Outputs {
			out[o] = true
		}
	}
	return out
}

func indexOfDot(s string) int {
	for i, r := range s {
		if r == '.' {
			return i
		}
	}
	return -1
}

// collectRefs walks a params map (and any nested maps/slices) and
// extracts every {ref} template found in a string value.
func collectRefs(params map[string]any) []string {
	var refs []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			refs = append(refs, execctx.References(t)...)
		case map[string]any:
			for _, vv := range t {
				walk(vv)
			}
		case []any:
			for _, vv := range t {
				walk(vv)
			}
		}
	}
	for _, v := range params {
		walk(v)
	}
	return refs
}

// validateCapabilities requires every step.Capability to exist in the
// registry (skipped if reg is nil — capability existence can only be
// checked once a registry is available).
func validateCapabilities(p *Pattern, reg *registry.Registry) []Diagnostic {
	if reg == nil {
		return nil
	}
	var diags []Diagnostic
	for _, step := range p.Steps {
		if step.Capability == "" {
			continue
		}
		if !reg.Has(step.Capability) {
			diags = append(diags, Diagnostic{
				PatternID: p.ID,
				StepName:  step.Name,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("capability %q not found in registry", step.Capability),
			})
		}
	}
	return diags
}

// validateFetchesPositionsOrdering enforces both halves of the
// fetches_positions ordering rule: no two steps in the same pattern may
// both fetch positions, and no step may consume a prior step's
// "positions" output (via a {step.positions} reference) before some
// earlier step has actually fetched them.
func validateFetchesPositionsOrdering(p *Pattern, reg *registry.Registry) []Diagnostic {
	if reg == nil {
		return nil
	}
	var diags []Diagnostic
	seenFetcher := ""
	for _, step := range p.Steps {
		for _, ref := range collectRefs(step.Params) {
			if seenFetcher == "" && strings.HasSuffix(ref, ".positions") {
				diags = append(diags, Diagnostic{
					PatternID: p.ID,
					StepName:  step.Name,
					Severity:  SeverityError,
					Message:   fmt.Sprintf("step %q consumes positions via {%s} but no earlier step fetches_positions=true", step.Name, ref),
				})
			}
		}

		if step.Capability == "" {
			continue
		}
		entry, err := reg.LookupByName(step.Capability)
		if err != nil || !entry.Contract.FetchesPositions {
			continue
		}
		if seenFetcher != "" {
			diags = append(diags, Diagnostic{
				PatternID: p.ID,
				StepName:  step.Name,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("step %q fetches positions but follows step %q, which also fetches positions, in the same pattern", step.Name, seenFetcher),
			})
			continue
		}
		seenFetcher = step.Name
	}
	return diags
}

// validateCompliance delegates the structural scan (direct agent
// references, legacy action prefixes, missing metadata) to the
// compliance gate and converts its findings into Diagnostics. A strict
// gate promotes its warnings to error diagnostics.
func validateCompliance(p *Pattern, reg *registry.Registry, gate *compliance.Gate) []Diagnostic {
	var knownAgents map[string]bool
	if reg != nil {
		knownAgents = reg.AgentNames()
	}

	result := gate.StaticCheck(p.ToComplianceInfo(knownAgents))
	diags := make([]Diagnostic, 0, len(result.Violations))
	for _, v := range result.Violations {
		sev := SeverityError
		if v.Severity == compliance.SeverityWarning && !gate.Strict() {
			sev = SeverityWarning
		}
		diags = append(diags, Diagnostic{
			PatternID: p.ID,
			StepName:  v.StepName,
			Severity:  sev,
			Message:   v.Message,
		})
	}
	return diags
}
