package phases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwelvePhases(t *testing.T) {
	all := All()
	require.Len(t, all, Count)

	for i, phase := range all {
		assert.Equal(t, i, phase.Number)
		assert.NotEmpty(t, phase.Name)
		assert.NotEmpty(t, phase.Agents)
	}

	assert.Equal(t, "Project Discovery & Planning", all[0].Name)
	assert.Equal(t, "Deployment & Validation", all[5].Name)
	assert.Equal(t, "Documentation & Knowledge Transfer", all[11].Name)
}

func TestApprovalFlags(t *testing.T) {
	for _, approvalPhase := range []int{0, 1, 2, 3, 4, 5, 11} {
		assert.True(t, RequiresApproval(approvalPhase), "phase %d", approvalPhase)
	}
	for _, autoPhase := range []int{6, 7, 8, 9, 10} {
		assert.False(t, RequiresApproval(autoPhase), "phase %d", autoPhase)
	}
}

func TestGetBounds(t *testing.T) {
	_, err := Get(-1)
	assert.Error(t, err)
	_, err = Get(Count)
	assert.Error(t, err)

	phase, err := Get(4)
	require.NoError(t, err)
	assert.Equal(t, "Infrastructure Code Generation", phase.Name)
}

func TestPriorityClassification(t *testing.T) {
	// Early user-driven phases route high.
	for _, early := range []int{0, 1, 2, 3} {
		assert.Equal(t, PriorityHigh, PriorityFor(early, MessageExecution), "phase %d", early)
	}

	// Mid-workflow operational phases route normal.
	for _, mid := range []int{4, 6, 7, 8} {
		assert.Equal(t, PriorityNormal, PriorityFor(mid, MessageExecution), "phase %d", mid)
	}

	// Tracking, testing and documentation phases route low.
	for _, late := range []int{9, 10, 11} {
		assert.Equal(t, PriorityLow, PriorityFor(late, MessageExecution), "phase %d", late)
	}

	// Deployment is critical regardless of message type.
	assert.Equal(t, PriorityCritical, PriorityFor(5, MessageExecution))

	// Escalations are critical regardless of phase.
	for phase := 0; phase < Count; phase++ {
		assert.Equal(t, PriorityCritical, PriorityFor(phase, MessageEscalation), "phase %d", phase)
	}
}

func TestCanonicalPhase4Transitions(t *testing.T) {
	transition, ok := NextFor(4, ReasonValidationPasses)
	require.True(t, ok)
	assert.Equal(t, []int{5}, transition.Next)

	transition, ok = NextFor(4, ReasonSyntaxErrors)
	require.True(t, ok)
	assert.Equal(t, []int{4}, transition.Next)

	_, ok = NextFor(4, ReasonEscalation)
	assert.False(t, ok)
}

func TestParallelPhasesAfterEight(t *testing.T) {
	transition, ok := NextFor(8, ReasonSuccess)
	require.True(t, ok)
	assert.Equal(t, []int{9, 10}, transition.Next)

	nine, ok := NextFor(9, ReasonSuccess)
	require.True(t, ok)
	ten, ok2 := NextFor(10, ReasonSuccess)
	require.True(t, ok2)
	assert.Equal(t, []int{11}, nine.Next)
	assert.Equal(t, []int{11}, ten.Next)
}

func TestPrerequisites(t *testing.T) {
	assert.Empty(t, PrerequisitesFor(0))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, PrerequisitesFor(5))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, PrerequisitesFor(9))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, PrerequisitesFor(10))
	assert.Contains(t, PrerequisitesFor(11), 9)
	assert.Contains(t, PrerequisitesFor(11), 10)
}

func TestAgentsForCapabilityFilter(t *testing.T) {
	all := AgentsFor(0, "")
	assert.Equal(t, []string{"planner", "coordinator", "qa"}, all)

	validators := AgentsFor(0, "validation")
	assert.Equal(t, []string{"qa"}, validators)

	assert.Empty(t, AgentsFor(0, "bicep"))
	assert.Nil(t, AgentsFor(99, ""))
}

func TestReturnedSlicesAreCopies(t *testing.T) {
	agents := AgentsFor(1, "")
	agents[0] = "mutated"
	assert.Equal(t, []string{"planner"}, AgentsFor(1, ""))

	prereqs := PrerequisitesFor(11)
	prereqs[0] = 99
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, PrerequisitesFor(11))
}
