package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStaticCheckDirectAgentReferenceIsError(t *testing.T) {
	g := New(false)
	g.now = fixedClock(time.Now())

	result := g.StaticCheck(PatternInfo{
		ID:          "p1",
		Version:     "1.0.0",
		LastUpdated: "2026-01-01",
		Steps: []StepInfo{
			{Name: "s1", Action: "call_direct", Agent: "metrics_agent"},
		},
	})

	require.False(t, result.Compliant)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "direct_agent_reference", result.Violations[0].Type)
	assert.Equal(t, SeverityError, result.Violations[0].Severity)
}

func TestStaticCheckRegistryActionsAreCompliant(t *testing.T) {
	g := New(false)
	result := g.StaticCheck(PatternInfo{
		ID:          "p1",
		Version:     "1.0.0",
		LastUpdated: "2026-01-01",
		Steps: []StepInfo{
			{Name: "s1", Action: "execute_through_registry", Agent: "metrics_agent"},
			{Name: "s2", Action: "execute_by_capability"},
		},
		KnownAgents: map[string]bool{"metrics_agent": true},
	})

	assert.True(t, result.Compliant)
	assert.Empty(t, result.Violations)
}

func TestStaticCheckUnknownAgentIsError(t *testing.T) {
	g := New(false)
	result := g.StaticCheck(PatternInfo{
		ID:          "p1",
		Version:     "1.0.0",
		LastUpdated: "2026-01-01",
		Steps: []StepInfo{
			{Name: "s1", Action: "execute_through_registry", Agent: "ghost_agent"},
		},
		KnownAgents: map[string]bool{"metrics_agent": true},
	})

	require.False(t, result.Compliant)
	assert.Equal(t, "invalid_agent_reference", result.Violations[0].Type)
}

func TestStaticCheckLegacyActionIsWarningNotError(t *testing.T) {
	g := New(false)
	result := g.StaticCheck(PatternInfo{
		ID:          "p1",
		Version:     "1.0.0",
		LastUpdated: "2026-01-01",
		Steps: []StepInfo{
			{Name: "s1", Action: "agent:metrics_agent"},
		},
	})

	assert.True(t, result.Compliant, "a lone warning must not fail compliance outside strict mode")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, SeverityWarning, result.Violations[0].Severity)
}

func TestStaticCheckStrictModePromotesWarningsToNonCompliant(t *testing.T) {
	g := New(true)
	result := g.StaticCheck(PatternInfo{
		ID:    "p1",
		Steps: []StepInfo{{Name: "s1", Action: "agent:metrics_agent"}},
	})

	assert.False(t, result.Compliant)
}

func TestStaticCheckMissingMetadataIsWarning(t *testing.T) {
	g := New(false)
	result := g.StaticCheck(PatternInfo{ID: "p1"})

	assert.True(t, result.Compliant)
	assert.Len(t, result.Violations, 2)
}

func TestCheckAccessAllowsOnlyCoreModules(t *testing.T) {
	g := New(false)

	ok := g.CheckAccess("executor", "metrics.compute_twr")
	assert.True(t, ok.Compliant)

	bad := g.CheckAccess("scoring_agent", "metrics.compute_twr")
	assert.False(t, bad.Compliant)
	assert.NotEmpty(t, bad.Reason)
}

func TestReportAggregatesPatternAndAccessStats(t *testing.T) {
	g := New(false)
	g.StaticCheck(PatternInfo{ID: "p1", Version: "1", LastUpdated: "2026-01-01"})
	g.StaticCheck(PatternInfo{ID: "p2", Steps: []StepInfo{{Name: "s1", Action: "call_direct", Agent: "x"}}})

	g.CheckAccess("executor", "metrics.compute_twr")
	g.CheckAccess("scoring_agent", "metrics.compute_twr")
	g.CheckAccess("scoring_agent", "metrics.compute_twr")

	report := g.Report()

	assert.Equal(t, 2, report.PatternsChecked)
	assert.Equal(t, 1, report.CompliantPatterns)
	assert.Equal(t, 1, report.NonCompliantPatterns)
	assert.Equal(t, 3, report.TotalAccessesMonitored)
	assert.Equal(t, 2, report.NonCompliantAccesses)
	assert.False(t, report.OverallCompliant())
	require.Len(t, report.TopOffenders, 1)
	assert.Equal(t, "scoring_agent", report.TopOffenders[0].Caller)
	assert.Equal(t, 2, report.TopOffenders[0].Count)
	assert.NotEmpty(t, report.Recommendations)
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	b := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		b.Push(AccessEvent{Caller: string(rune('a' + i))})
	}
	all := b.All()
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Caller)
	assert.Equal(t, "d", all[1].Caller)
	assert.Equal(t, "e", all[2].Caller)
}
