// Package apperr defines the structured error taxonomy shared by every
// execution-core component. Components never let a bare panic or an
// untyped error cross a component boundary — failures are always one of
// the Kinds below, wrapped in an *Error, so the executor can decide
// whether to abort a pattern or degrade it.
package apperr

import "fmt"

// Kind enumerates the structured failure categories a capability
// invocation or pattern execution can surface.
type Kind int

const (
	// KindCapabilityNotFound is returned when a registry lookup by name fails.
	KindCapabilityNotFound Kind = iota
	// KindUnresolvedReference is returned when a {var} template does not resolve.
	KindUnresolvedReference
	// KindTimeout is returned when a step exceeds its deadline.
	KindTimeout
	// KindCapabilityError is returned when an agent method itself errors.
	KindCapabilityError
	// KindValidationFailed is returned when a pattern fails schema or compliance checks.
	KindValidationFailed
	// KindStaleData flags a merged envelope older than the configured staleness threshold.
	KindStaleData
	// KindDataAbsent marks a result produced by a stub implementation.
	KindDataAbsent
)

func (k Kind) String() string {
	switch k {
	case KindCapabilityNotFound:
		return "CapabilityNotFound"
	case KindUnresolvedReference:
		return "UnresolvedReference"
	case KindTimeout:
		return "Timeout"
	case KindCapabilityError:
		return "CapabilityError"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindStaleData:
		return "StaleData"
	case KindDataAbsent:
		return "DataAbsent"
	default:
		return "Unknown"
	}
}

// Error is the structured result every component boundary returns in
// place of a language-level exception. Pattern, Step, and Capability are
// populated whenever the failure can be attributed to a specific place
// in a running pattern, so user-visible errors can name what failed.
type Error struct {
	Kind       Kind
	Pattern    string
	Step       string
	Capability string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.Pattern != "" && e.Step != "":
		return fmt.Sprintf("%s: pattern %q step %q: %s", e.Kind, e.Pattern, e.Step, e.Message)
	case e.Pattern != "":
		return fmt.Sprintf("%s: pattern %q: %s", e.Kind, e.Pattern, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithPattern returns a copy of e annotated with the pattern id.
func (e *Error) WithPattern(patternID string) *Error {
	clone := *e
	clone.Pattern = patternID
	return &clone
}

// WithStep returns a copy of e annotated with the step name.
func (e *Error) WithStep(step string) *Error {
	clone := *e
	clone.Step = step
	return &clone
}

// WithCapability returns a copy of e annotated with the capability name.
func (e *Error) WithCapability(capability string) *Error {
	clone := *e
	clone.Capability = capability
	return &clone
}

// Is reports whether err is an *Error of the given kind, following wraps.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrap.Unwrap()
	}
	return e != nil && e.Kind == kind
}
