package pattern

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var schemaValidator = validator.New()

// LoadOptions controls loader behavior beyond schema/reference/compliance
// validation. The zero value is the strict default: the legacy
// "parameters" step key is rejected outright rather than accepted.
type LoadOptions struct {
	// AcceptLegacyParamsKey opens a migration window in which a step may
	// spell its parameter map "parameters" instead of "params": the
	// loader folds it into Params and logs a deprecation warning. A step
	// that sets both keys is always rejected, regardless of this flag.
	AcceptLegacyParamsKey bool
}

// Load reads every *.yaml/*.yml file in dir as one pattern definition,
// running the full validation pipeline (schema, step references,
// trigger uniqueness, fetches_positions ordering, compliance) on each.
// A malformed or non-compliant file is recorded as diagnostics and
// skipped; Load never aborts on the first failure so a corpus can be
// partially usable during development.
func Load(dir string, deps ValidateDeps, opts ...LoadOptions) (*Corpus, []Diagnostic) {
	var opt LoadOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	corpus := &Corpus{Patterns: make(map[string]*Pattern)}
	var diags []Diagnostic

	entries, err := os.ReadDir(dir)
	if err != nil {
		diags = append(diags, Diagnostic{
			File:     dir,
			Severity: SeverityError,
			Message:  fmt.Sprintf("reading pattern directory: %v", err),
		})
		return corpus, diags
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		p, fileDiags := loadFile(path, opt)
		diags = append(diags, fileDiags...)
		if p == nil {
			continue
		}

		if existing, ok := corpus.Patterns[p.ID]; ok {
			diags = append(diags, Diagnostic{
				PatternID: p.ID,
				File:      path,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("duplicate pattern id, already loaded from %s", existing.SourceFile),
			})
			continue
		}

		valDiags := Validate(p, corpus, deps)
		diags = append(diags, valDiags...)
		if HasErrors(valDiags) {
			slog.Warn("pattern failed validation, excluding from corpus", "pattern_id", p.ID, "file", path)
			continue
		}

		corpus.Patterns[p.ID] = p
	}

	triggerDiags := checkTriggerUniqueness(corpus)
	diags = append(diags, triggerDiags...)

	return corpus, diags
}

func loadFile(path string, opt LoadOptions) (*Pattern, []Diagnostic) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, []Diagnostic{{File: path, Severity: SeverityError, Message: fmt.Sprintf("reading file: %v", err)}}
	}

	var p Pattern
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, []Diagnostic{{File: path, Severity: SeverityError, Message: fmt.Sprintf("parsing yaml: %v", err)}}
	}
	p.SourceFile = path

	if err := schemaValidator.Struct(&p); err != nil {
		return nil, []Diagnostic{{PatternID: p.ID, File: path, Severity: SeverityError, Message: fmt.Sprintf("schema validation: %v", err)}}
	}

	if diags := resolveLegacyParams(&p, opt); len(diags) > 0 {
		return nil, diags
	}

	return &p, nil
}

// resolveLegacyParams folds each step's deprecated "parameters" key into
// Params, or rejects the pattern, per opt.AcceptLegacyParamsKey. A step
// setting both params and parameters is always rejected: the migration
// window picks one spelling per step, never both.
func resolveLegacyParams(p *Pattern, opt LoadOptions) []Diagnostic {
	var diags []Diagnostic
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.LegacyParams == nil {
			continue
		}
		switch {
		case step.Params != nil:
			diags = append(diags, Diagnostic{
				PatternID: p.ID,
				StepName:  step.Name,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("step %q sets both params and the legacy parameters key; use one", step.Name),
			})
		case !opt.AcceptLegacyParamsKey:
			diags = append(diags, Diagnostic{
				PatternID: p.ID,
				StepName:  step.Name,
				Severity:  SeverityError,
				Message:   fmt.Sprintf("step %q uses the legacy parameters key, which this loader does not accept (AcceptLegacyParamsKey is false)", step.Name),
			})
		default:
			slog.Warn("step uses deprecated parameters key, migrate to params", "pattern_id", p.ID, "step", step.Name)
			step.Params = step.LegacyParams
		}
		step.LegacyParams = nil
	}
	return diags
}

// checkTriggerUniqueness collects, corpus-wide, every trigger phrase
// bound to more than one pattern, as a warning rather than a load
// failure (see DESIGN.md for why this differs from the stricter
// alert-type-uniqueness enforcement other chain-style loaders apply).
func checkTriggerUniqueness(corpus *Corpus) []Diagnostic {
	owners := make(map[string][]string)
	for _, p := range corpus.Patterns {
		for _, t := range p.Triggers {
			owners[t] = append(owners[t], p.ID)
		}
	}

	var diags []Diagnostic
	for trigger, ids := range owners {
		if len(ids) > 1 {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("trigger %q is claimed by multiple patterns: %s", trigger, strings.Join(ids, ", ")),
			})
		}
	}
	return diags
}
