// Package pattern loads and validates pattern definitions: declarative
// step lists with triggers, parameter templates, and output bindings.
package pattern

// Action names a step's dispatch mode.
const (
	ActionExecuteThroughRegistry = "execute_through_registry"
	ActionExecuteByCapability    = "execute_by_capability"
	ActionKnowledgeLookup        = "knowledge_lookup"
	ActionEvaluate               = "evaluate"
	ActionNormalizeResponse      = "normalize_response"
	ActionAddPosition            = "add_position"
	ActionSynthesize             = "synthesize"
)

// registryActions are the only actions legal on a step that names an
// Agent directly.
var registryActions = map[string]bool{
	ActionExecuteThroughRegistry: true,
	ActionExecuteByCapability:    true,
}

// Step is one entry in a pattern's ordered step list.
type Step struct {
	Name          string         `yaml:"name" validate:"required"`
	Action        string         `yaml:"action" validate:"required"`
	Agent         string         `yaml:"agent,omitempty"`
	Capability    string         `yaml:"capability,omitempty"`
	CapabilityTag string         `yaml:"capability_tag,omitempty"`
	Params        map[string]any `yaml:"params,omitempty"`
	// LegacyParams holds the deprecated "parameters" spelling of Params.
	// It is always recognized by the decoder (so KnownFields(true)
	// doesn't reject it outright); the loader decides, via
	// AcceptLegacyParamsKey, whether to fold it into Params with a
	// deprecation warning or reject the pattern at load time.
	LegacyParams   map[string]any `yaml:"parameters,omitempty"`
	Outputs        []string       `yaml:"outputs,omitempty"`
	Required       *bool          `yaml:"required,omitempty"`
	TimeoutSeconds int            `yaml:"timeout_seconds,omitempty"`
}

// IsRequired reports whether a step failure should abort the pattern.
// Unset defaults to required, matching the "required unless marked
// optional" default in the step failure policy.
func (s Step) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// Pattern is a declarative, ordered sequence of steps plus the metadata
// used to select and describe it.
type Pattern struct {
	ID          string   `yaml:"id" validate:"required"`
	Version     string   `yaml:"version" validate:"required"`
	LastUpdated string   `yaml:"last_updated,omitempty"`
	Triggers    []string `yaml:"triggers,omitempty"`
	Steps       []Step   `yaml:"steps" validate:"required,min=1,dive"`
	Template    string   `yaml:"template,omitempty"`
	Category    string   `yaml:"category,omitempty"`
	Description string   `yaml:"description,omitempty"`

	// SourceFile records where this pattern was loaded from, for
	// diagnostics and telemetry; not part of the wire format.
	SourceFile string `yaml:"-"`
}

// StepByName returns the step with the given name and its index, or
// ok=false if no step has that name.
func (p *Pattern) StepByName(name string) (Step, int, bool) {
	for i, s := range p.Steps {
		if s.Name == name {
			return s, i, true
		}
	}
	return Step{}, -1, false
}

// Corpus is the set of patterns successfully loaded from a directory,
// keyed by pattern ID.
type Corpus struct {
	Patterns map[string]*Pattern
}

// ByTrigger returns every pattern whose Triggers slice contains phrase
// verbatim. Matching triggers against free-form user input is a host
// concern; this only does the final exact lookup.
func (c *Corpus) ByTrigger(phrase string) []*Pattern {
	var out []*Pattern
	for _, p := range c.Patterns {
		for _, t := range p.Triggers {
			if t == phrase {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
