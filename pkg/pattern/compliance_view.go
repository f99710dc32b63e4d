package pattern

import "github.com/dawsos/core/pkg/compliance"

// ToComplianceInfo converts this pattern into the minimal view the
// compliance gate's static scan operates on.
func (p *Pattern) ToComplianceInfo(knownAgents map[string]bool) compliance.PatternInfo {
	info := compliance.PatternInfo{
		ID:          p.ID,
		Version:     p.Version,
		LastUpdated: p.LastUpdated,
		KnownAgents: knownAgents,
	}
	for _, s := range p.Steps {
		info.Steps = append(info.Steps, compliance.StepInfo{Name: s.Name, Action: s.Action, Agent: s.Agent})
	}
	return info
}
