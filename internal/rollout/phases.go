// Package rollout owns the progressive rollout of the real AI backend:
// the phase table, the health-driven control loop and the kill switches.
package rollout

import (
	"github.com/classpilot/aihub-go/internal/domain"
)

// phaseTable is the ordered rollout ladder. Each phase declares the backend
// mode it targets, who reaches it, and what must hold before entering the
// next one.
var phaseTable = []domain.PhaseSpec{
	{
		Phase:         domain.PhasePreparation,
		TargetMode:    domain.ModeMock,
		Strategy:      domain.StrategyInternal,
		EntryCriteria: "mock backend validated by internal users",
		Next:          domain.PhaseCanary,
	},
	{
		Phase:         domain.PhaseCanary,
		TargetMode:    domain.ModeHybrid,
		Strategy:      domain.StrategyInternal,
		EntryCriteria: "real backend healthy for internal traffic",
		Next:          domain.PhaseEarlyAdopters,
		Previous:      domain.PhasePreparation,
	},
	{
		Phase:         domain.PhaseEarlyAdopters,
		TargetMode:    domain.ModeReal,
		Strategy:      domain.StrategyBetaUsers,
		EntryCriteria: "beta cohort success rate above the floor",
		Next:          domain.PhaseGradual,
		Previous:      domain.PhaseCanary,
	},
	{
		Phase:             domain.PhaseGradual,
		TargetMode:        domain.ModeReal,
		Strategy:          domain.StrategyPercentage,
		RolloutPercentage: 25,
		EntryCriteria:     "percentage cohort holding healthy metrics",
		Next:              domain.PhaseFullRollout,
		Previous:          domain.PhaseEarlyAdopters,
	},
	{
		Phase:             domain.PhaseFullRollout,
		TargetMode:        domain.ModeReal,
		Strategy:          domain.StrategyPercentage,
		RolloutPercentage: 100,
		EntryCriteria:     "full population healthy through one review window",
		Next:              domain.PhaseStable,
		Previous:          domain.PhaseGradual,
	},
	{
		Phase:             domain.PhaseStable,
		TargetMode:        domain.ModeReal,
		Strategy:          domain.StrategyFull,
		RolloutPercentage: 100,
		EntryCriteria:     "terminal phase",
		Previous:          domain.PhaseFullRollout,
	},
}

// SpecFor returns the table entry for a phase.
func SpecFor(phase domain.Phase) (domain.PhaseSpec, bool) {
	for _, spec := range phaseTable {
		if spec.Phase == phase {
			return spec, true
		}
	}
	return domain.PhaseSpec{}, false
}

// FirstPhase is the bottom of the ladder; rollbacks stop here.
func FirstPhase() domain.Phase {
	return phaseTable[0].Phase
}

// AllPhases lists phase names in ladder order.
func AllPhases() []string {
	out := make([]string, len(phaseTable))
	for i, spec := range phaseTable {
		out[i] = string(spec.Phase)
	}
	return out
}

// ParsePhase validates a phase name from config or an admin request.
func ParsePhase(s string) (domain.Phase, bool) {
	for _, spec := range phaseTable {
		if string(spec.Phase) == s {
			return spec.Phase, true
		}
	}
	return "", false
}

// Table returns a copy of the phase table for the admin API.
func Table() []domain.PhaseSpec {
	out := make([]domain.PhaseSpec, len(phaseTable))
	copy(out, phaseTable)
	return out
}
