package pattern

import "fmt"

// Severity of a load or validation diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one finding from Load or Validate, attributed to a
// pattern and, where applicable, a specific step.
type Diagnostic struct {
	PatternID string
	StepName  string
	File      string
	Severity  Severity
	Message   string
}

func (d Diagnostic) String() string {
	if d.StepName != "" {
		return fmt.Sprintf("%s[%s]: %s: %s", d.PatternID, d.StepName, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.PatternID, d.Severity, d.Message)
}

// HasErrors reports whether any diagnostic in the slice is an error
// (as opposed to only warnings).
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
