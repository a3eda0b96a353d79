package phasebus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
)

func TestSuccessfulTransitionPublishesEntryMessage(t *testing.T) {
	b := newTestBus(t)

	var order []events.Type
	var mu sync.Mutex
	b.Events().On(func(event events.Event) {
		mu.Lock()
		order = append(order, event.Type)
		mu.Unlock()
	}, events.TypePhaseTransitioned, events.TypeMessageQueued)

	result := b.ProcessPhaseTransition(4, phases.ReasonValidationPasses, TransitionContext{
		CompletedPhases: []int{0, 1, 2, 3, 4},
	})

	assert.True(t, result.PhaseTransitioned)
	assert.False(t, result.Escalated)
	assert.Equal(t, 5, result.NextPhase)
	require.Len(t, result.MessageIDs, 1)

	// The transition event precedes the entry message at the new phase.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, events.TypePhaseTransitioned, order[0])
	assert.Equal(t, events.TypeMessageQueued, order[1])

	// Phase 5 is critical: the entry message rides the CRITICAL tier.
	assert.Equal(t, 1, b.GetMetrics().QueueStats.Critical)
}

func TestTransitionRefusedWhenPrerequisitesMissing(t *testing.T) {
	b := newTestBus(t)

	result := b.ProcessPhaseTransition(4, phases.ReasonValidationPasses, TransitionContext{
		CompletedPhases: []int{0, 1}, // 2 and 3 missing
	})

	assert.False(t, result.PhaseTransitioned)
	assert.False(t, result.Escalated)
	assert.Contains(t, result.Reason, "prerequisite")
	assert.Empty(t, result.MessageIDs)
}

func TestUnknownReasonEscalates(t *testing.T) {
	b := newTestBus(t)

	result := b.ProcessPhaseTransition(7, phases.ReasonRejected, TransitionContext{})

	assert.False(t, result.PhaseTransitioned)
	assert.True(t, result.Escalated)

	// The escalation alert entered the CRITICAL tier regardless of phase 7
	// being a NORMAL phase.
	assert.Equal(t, 1, b.GetMetrics().QueueStats.Critical)
}

func TestExplicitEscalation(t *testing.T) {
	b := newTestBus(t)

	result := b.ProcessPhaseTransition(2, phases.ReasonEscalation, TransitionContext{})
	assert.True(t, result.Escalated)
	assert.False(t, result.PhaseTransitioned)
	assert.Equal(t, 1, b.GetMetrics().QueueStats.Critical)
}

func TestSelfTransitionSkipsPrerequisiteCheck(t *testing.T) {
	b := newTestBus(t)

	// Syntax errors re-enter phase 4 for rework regardless of context.
	result := b.ProcessPhaseTransition(4, phases.ReasonSyntaxErrors, TransitionContext{})
	assert.True(t, result.PhaseTransitioned)
	assert.Equal(t, 4, result.NextPhase)
}

func TestParallelFanOutAfterPhaseEight(t *testing.T) {
	b := newTestBus(t)

	result := b.ProcessPhaseTransition(8, phases.ReasonSuccess, TransitionContext{
		CompletedPhases: []int{0, 1, 2, 3, 4, 5, 6, 7, 8},
	})

	assert.True(t, result.PhaseTransitioned)
	assert.Equal(t, 9, result.NextPhase)
	assert.Equal(t, []int{9, 10}, result.NextPhases)
	assert.Len(t, result.MessageIDs, 2)

	// Both entry messages land in LOW (phases 9 and 10 are reporting
	// phases).
	assert.Equal(t, 2, b.GetMetrics().QueueStats.Low)
}

func TestTransitionCountsInMetrics(t *testing.T) {
	b := newTestBus(t)

	b.ProcessPhaseTransition(0, phases.ReasonSuccess, TransitionContext{CompletedPhases: []int{0}})
	b.ProcessPhaseTransition(1, phases.ReasonSuccess, TransitionContext{CompletedPhases: []int{0, 1}})

	assert.Equal(t, 2, b.GetMetrics().PhaseTransitions)
}

func TestInvalidPhaseNumber(t *testing.T) {
	b := newTestBus(t)

	result := b.ProcessPhaseTransition(99, phases.ReasonSuccess, TransitionContext{})
	assert.False(t, result.PhaseTransitioned)
	assert.False(t, result.Escalated)
	assert.NotEmpty(t, result.Reason)
}

func TestStateMachineSoundness(t *testing.T) {
	b := newTestBus(t)

	// Every successful transition's (previous, next) pair must be in the
	// static transition set with prerequisites satisfied.
	completed := make([]int, phases.Count)
	for i := range completed {
		completed[i] = i
	}
	for phase := 0; phase < phases.Count; phase++ {
		transition, ok := phases.NextFor(phase, phases.ReasonSuccess)
		if !ok || len(transition.Next) == 0 {
			continue
		}

		result := b.ProcessPhaseTransition(phase, phases.ReasonSuccess, TransitionContext{
			CompletedPhases: completed,
		})
		require.True(t, result.PhaseTransitioned, "phase %d", phase)
		assert.Equal(t, transition.Next, result.NextPhases, "phase %d", phase)
		for _, next := range result.NextPhases {
			for _, prereq := range phases.PrerequisitesFor(next) {
				assert.Contains(t, completed, prereq)
			}
		}
	}
}

func TestEscalationAlwaysDeliversFirst(t *testing.T) {
	b := newTestBus(t)

	rec := &phaseRecorder{}
	require.NoError(t, b.SubscribeAgent("planner", rec.handler))
	require.NoError(t, b.SubscribeAgent("coordinator", rec.handler))

	// Queue ordinary phase-0 traffic (HIGH tier), then an escalation from
	// the same phase.
	_, err := b.Publish(&PhaseMessage{CurrentPhase: 0, MessageType: phases.MessageExecution})
	require.NoError(t, err)
	escID, err := b.Publish(&PhaseMessage{CurrentPhase: 0, MessageType: phases.MessageEscalation})
	require.NoError(t, err)

	b.ProcessPending(context.Background())

	ids := rec.ids()
	require.NotEmpty(t, ids)
	assert.Equal(t, escID, ids[0])
}
