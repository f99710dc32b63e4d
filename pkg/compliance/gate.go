// Package compliance implements the compliance gate: a static pattern
// scanner plus a runtime access monitor, both enforcing that every
// agent invocation flows through the registry/adapter rather than a
// direct reference.
package compliance

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Severity classifies a Violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is a single compliance finding, static or runtime.
type Violation struct {
	Type      string
	Severity  Severity
	Message   string
	PatternID string
	StepName  string
	Timestamp time.Time
}

// StepInfo is the minimal view of a pattern step the gate needs to
// statically check — defined locally (rather than importing pkg/pattern)
// so pkg/pattern can depend on pkg/compliance without a cycle.
type StepInfo struct {
	Name   string
	Action string
	Agent  string
}

// PatternInfo is the minimal view of a pattern the gate needs.
type PatternInfo struct {
	ID          string
	Version     string
	LastUpdated string
	Steps       []StepInfo
	// KnownAgents lists agent names the registry actually has bound, so
	// the gate can flag a dangling reference.
	KnownAgents map[string]bool
}

// allowedCallers is the allowlist of modules permitted to invoke agents
// directly at runtime — everything else is a compliance violation.
var allowedCallers = map[string]bool{
	"executor": true,
	"adapter":  true,
	"registry": true,
}

// registryActions are the only two step actions a step with a non-empty
// Agent field may legally declare.
var registryActions = map[string]bool{
	"execute_through_registry": true,
	"execute_by_capability":    true,
}

// AccessEvent records one runtime CheckAccess call.
type AccessEvent struct {
	Timestamp  time.Time
	Caller     string
	Capability string
	Compliant  bool
	Reason     string
}

// PatternCheckResult is the outcome of a single StaticCheck call.
type PatternCheckResult struct {
	PatternID  string
	Compliant  bool
	Violations []Violation
	CheckedAt  time.Time
}

// Stats aggregates compliance counters across every check this gate has
// performed, for the compliance report.
type Stats struct {
	PatternsChecked     int
	PatternsCompliant   int
	PatternsNonCompliant int
	AccessesMonitored   int
	ViolationsByType     map[string]int
	ViolationsBySeverity map[Severity]int
}

// Gate is the compliance validator: static pattern scan plus runtime
// access monitor, both required.
type Gate struct {
	mu            sync.Mutex
	strict        bool
	violations    []Violation
	patternChecks map[string]PatternCheckResult
	accessLog     *ringBuffer
	stats         Stats
	now           func() time.Time
}

// New creates a Gate. strict promotes warnings to pattern-level
// non-compliance and is reported by Strict(), which the adapter uses to
// refuse a call that CheckAccess marked non-compliant; CheckAccess
// itself only records the access.
func New(strict bool) *Gate {
	return &Gate{
		strict:        strict,
		patternChecks: make(map[string]PatternCheckResult),
		accessLog:     newRingBuffer(1000),
		stats: Stats{
			ViolationsByType:     make(map[string]int),
			ViolationsBySeverity: make(map[Severity]int),
		},
		now: time.Now,
	}
}

// StaticCheck validates one pattern's structure at load time (and is
// re-run once more by the executor immediately before execution, since
// a pattern may have been loaded under a laxer host configuration).
func (g *Gate) StaticCheck(p PatternInfo) PatternCheckResult {
	var violations []Violation

	if p.ID == "" {
		violations = append(violations, Violation{Type: "missing_metadata", Severity: SeverityError, Message: "pattern missing id field"})
	}
	if p.Version == "" {
		violations = append(violations, Violation{Type: "missing_metadata", Severity: SeverityWarning, Message: "pattern missing version field", PatternID: p.ID})
	}
	if p.LastUpdated == "" {
		violations = append(violations, Violation{Type: "missing_metadata", Severity: SeverityWarning, Message: "pattern missing last_updated field", PatternID: p.ID})
	}

	for _, step := range p.Steps {
		violations = append(violations, g.checkStep(p, step)...)
	}

	hasError := false
	hasWarning := false
	for _, v := range violations {
		if v.Severity == SeverityError {
			hasError = true
		}
		if v.Severity == SeverityWarning {
			hasWarning = true
		}
	}
	compliant := !hasError && (!hasWarning || !g.strict)

	result := PatternCheckResult{
		PatternID:  p.ID,
		Compliant:  compliant,
		Violations: violations,
		CheckedAt:  g.now(),
	}

	g.mu.Lock()
	g.patternChecks[p.ID] = result
	g.stats.PatternsChecked++
	if compliant {
		g.stats.PatternsCompliant++
	} else {
		g.stats.PatternsNonCompliant++
	}
	for _, v := range violations {
		g.violations = append(g.violations, v)
		g.stats.ViolationsByType[v.Type]++
		g.stats.ViolationsBySeverity[v.Severity]++
	}
	g.mu.Unlock()

	return result
}

func (g *Gate) checkStep(p PatternInfo, step StepInfo) []Violation {
	var violations []Violation

	if step.Agent != "" {
		if !registryActions[step.Action] {
			violations = append(violations, Violation{
				Type:      "direct_agent_reference",
				Severity:  SeverityError,
				Message:   fmt.Sprintf("step %q has direct agent reference %q but action is %q; must use execute_through_registry or execute_by_capability", step.Name, step.Agent, step.Action),
				PatternID: p.ID,
				StepName:  step.Name,
			})
		} else if p.KnownAgents != nil && !p.KnownAgents[step.Agent] {
			violations = append(violations, Violation{
				Type:      "invalid_agent_reference",
				Severity:  SeverityError,
				Message:   fmt.Sprintf("step %q references agent %q not found in registry", step.Name, step.Agent),
				PatternID: p.ID,
				StepName:  step.Name,
			})
		}
	}

	if strings.HasPrefix(step.Action, "agent:") {
		violations = append(violations, Violation{
			Type:      "legacy_action_format",
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("step %q uses legacy action format %q; migrate to execute_through_registry", step.Name, step.Action),
			PatternID: p.ID,
			StepName:  step.Name,
		})
	}

	return violations
}

// CheckAccess is the runtime compliance check the adapter calls before
// every agent invocation. Only callerModule values in allowedCallers are
// compliant. In strict mode, Invoke should treat a non-compliant
// CheckAccess as a refusal (the caller decides — the gate only records
// and reports).
func (g *Gate) CheckAccess(callerModule, capability string) AccessEvent {
	event := AccessEvent{
		Timestamp:  g.now(),
		Caller:     callerModule,
		Capability: capability,
		Compliant:  allowedCallers[callerModule],
	}
	if !event.Compliant {
		event.Reason = fmt.Sprintf("module %q accessed capability %q directly; must go through Executor or Adapter", callerModule, capability)
	}

	g.mu.Lock()
	g.stats.AccessesMonitored++
	g.mu.Unlock()
	g.accessLog.Push(event)

	return event
}

// Strict reports whether the gate is running in strict mode.
func (g *Gate) Strict() bool {
	return g.strict
}

// Report builds the compliance report: compliance rate, violations by
// type/severity, top offenders, and recommendations.
func (g *Gate) Report() ComplianceReport {
	g.mu.Lock()
	stats := g.stats
	violationsCopy := make([]Violation, len(g.violations))
	copy(violationsCopy, g.violations)
	byType := copyIntMap(stats.ViolationsByType)
	bySeverity := copySeverityMap(stats.ViolationsBySeverity)
	g.mu.Unlock()

	accessEvents := g.accessLog.All()

	patternRate := 100.0
	if stats.PatternsChecked > 0 {
		patternRate = float64(stats.PatternsCompliant) / float64(stats.PatternsChecked) * 100
	}

	nonCompliantAccesses := 0
	offenderCounts := map[string]int{}
	for _, e := range accessEvents {
		if !e.Compliant {
			nonCompliantAccesses++
			offenderCounts[e.Caller]++
		}
	}
	accessRate := 100.0
	if len(accessEvents) > 0 {
		accessRate = float64(len(accessEvents)-nonCompliantAccesses) / float64(len(accessEvents)) * 100
	}

	recent := violationsCopy
	if len(recent) > 50 {
		recent = recent[len(recent)-50:]
	}

	return ComplianceReport{
		GeneratedAt:               g.now(),
		StrictMode:                g.strict,
		PatternsChecked:           stats.PatternsChecked,
		CompliantPatterns:         stats.PatternsCompliant,
		NonCompliantPatterns:      stats.PatternsNonCompliant,
		PatternComplianceRate:     patternRate,
		AccessComplianceRate:      accessRate,
		TotalAccessesMonitored:    len(accessEvents),
		NonCompliantAccesses:      nonCompliantAccesses,
		ViolationsByType:          byType,
		ViolationsBySeverity:      bySeverity,
		RecentViolations:          recent,
		TopOffenders:              topOffenders(offenderCounts, 5),
		Recommendations:          recommendations(byType, offenderCounts),
	}
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySeverityMap(m map[Severity]int) map[Severity]int {
	out := make(map[Severity]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Offender ranks a caller module by violation count for the compliance
// report's "top offenders" section.
type Offender struct {
	Caller string
	Count  int
}

func topOffenders(counts map[string]int, limit int) []Offender {
	offenders := make([]Offender, 0, len(counts))
	for caller, count := range counts {
		offenders = append(offenders, Offender{Caller: caller, Count: count})
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].Count != offenders[j].Count {
			return offenders[i].Count > offenders[j].Count
		}
		return offenders[i].Caller < offenders[j].Caller
	})
	if len(offenders) > limit {
		offenders = offenders[:limit]
	}
	return offenders
}

// recommendations generates short, human-readable remediation hints
// ranked by how often each violation type occurred.
func recommendations(byType map[string]int, offenders map[string]int) []string {
	var recs []string
	if byType["direct_agent_reference"] > 0 {
		recs = append(recs, fmt.Sprintf("%d step(s) bypass the registry with a direct agent reference; change action to execute_through_registry or execute_by_capability", byType["direct_agent_reference"]))
	}
	if byType["invalid_agent_reference"] > 0 {
		recs = append(recs, fmt.Sprintf("%d step(s) reference an agent not present in the registry; register the agent or fix the pattern", byType["invalid_agent_reference"]))
	}
	if byType["legacy_action_format"] > 0 {
		recs = append(recs, fmt.Sprintf("%d step(s) still use the legacy 'agent:<name>' action format; migrate to execute_through_registry", byType["legacy_action_format"]))
	}
	if byType["missing_metadata"] > 0 {
		recs = append(recs, fmt.Sprintf("%d pattern(s) are missing version/last_updated metadata", byType["missing_metadata"]))
	}
	for caller, count := range offenders {
		if count >= 5 {
			recs = append(recs, fmt.Sprintf("module %q has %d non-compliant direct accesses; route it through the executor", caller, count))
		}
	}
	sort.Strings(recs)
	return recs
}
