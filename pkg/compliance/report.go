package compliance

import "time"

// ComplianceReport summarizes everything a Gate has observed: pattern
// scan results and runtime access monitoring, rolled up into rates,
// violation breakdowns, and a short recommendation list. Exported as
// JSON by cmd/compliancecheck and by any on-demand reporting endpoint.
type ComplianceReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	StrictMode  bool      `json:"strict_mode"`

	PatternsChecked       int     `json:"patterns_checked"`
	CompliantPatterns     int     `json:"compliant_patterns"`
	NonCompliantPatterns  int     `json:"non_compliant_patterns"`
	PatternComplianceRate float64 `json:"pattern_compliance_rate"`

	TotalAccessesMonitored int     `json:"total_accesses_monitored"`
	NonCompliantAccesses   int     `json:"non_compliant_accesses"`
	AccessComplianceRate   float64 `json:"access_compliance_rate"`

	ViolationsByType     map[string]int     `json:"violations_by_type"`
	ViolationsBySeverity map[Severity]int   `json:"violations_by_severity"`
	RecentViolations     []Violation        `json:"recent_violations"`
	TopOffenders         []Offender         `json:"top_offenders"`
	Recommendations      []string           `json:"recommendations"`
}

// OverallCompliant reports whether both the pattern and access
// compliance rates are 100%.
func (r ComplianceReport) OverallCompliant() bool {
	return r.NonCompliantPatterns == 0 && r.NonCompliantAccesses == 0
}
