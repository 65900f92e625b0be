// Package derive computes read-only views over the reference snapshot:
// ticket routing, ageing, RAG rollups, milestone mapping, hold decoding and
// the portfolio summaries. Everything here is a pure function of its inputs
// plus an explicit clock value.
package derive

import (
	"controltower/internal/domain"
)

// TeamGeneral is the catch-all operations team for stages with no
// dedicated queue.
const TeamGeneral domain.TeamID = "OPS_GENERAL"

// LifecycleToTeam routes a lifecycle stage to its owning operations team.
var LifecycleToTeam = map[domain.Stage]domain.TeamID{
	domain.StageLeadToOrder:   "OPS_L2O",
	domain.StageOnboarding:    "OPS_ONBOARDING",
	domain.StageBuildToOrder:  "OPS_B2O",
	domain.StageLastMileWless: "OPS_LMB_WIRELESS",
	domain.StageLastMileFiber: "OPS_LMB_FIBER",
	domain.StageActivation:    "OPS_O2A",
}

// RoutedTeam returns the operations team owning a stage, TeamGeneral when
// the stage has no dedicated queue (including Completed and unknown stages).
func RoutedTeam(stage domain.Stage) domain.TeamID {
	if team, ok := LifecycleToTeam[stage]; ok {
		return team
	}
	return TeamGeneral
}

// Milestones is the customer-facing journey, coarser than the internal
// lifecycle stages.
var Milestones = []string{
	"Order Confirmed",
	"Build in Progress",
	"Installation",
	"Activation",
	"Completed",
}

// MilestoneDefaultIndex is used for stages missing from the mapping.
const MilestoneDefaultIndex = 1

var lifecycleToMilestone = map[domain.Stage]int{
	domain.StageLeadToOrder:   0,
	domain.StageOnboarding:    0,
	domain.StageBuildToOrder:  1,
	domain.StageLastMileWless: 1,
	domain.StageLastMileFiber: 1,
	domain.StageActivation:    3,
	domain.StageCompleted:     4,
}

// MilestoneIndex maps a lifecycle stage onto the customer milestone
// journey. Unknown stages land on MilestoneDefaultIndex.
func MilestoneIndex(stage domain.Stage) int {
	if idx, ok := lifecycleToMilestone[stage]; ok {
		return idx
	}
	return MilestoneDefaultIndex
}
