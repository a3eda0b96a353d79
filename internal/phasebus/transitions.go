package phasebus

import (
	"fmt"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
)

// ProcessPhaseTransition advances the lifecycle from currentPhase for the
// given reason. The transition must exist in the static state machine and
// every prerequisite of the target phase must already be completed;
// otherwise the request is refused or escalated. On success the transition
// event is emitted before any entry message is published at the new phase.
func (b *EnhancedBus) ProcessPhaseTransition(currentPhase int, reason phases.TransitionReason, transitionCtx TransitionContext) TransitionResult {
	if !phases.IsValid(currentPhase) {
		return TransitionResult{Reason: fmt.Sprintf("phase %d does not exist", currentPhase)}
	}

	if reason == phases.ReasonEscalation {
		b.emitEscalation(currentPhase, "escalation requested")
		return TransitionResult{Escalated: true, Reason: "escalation"}
	}

	transition, ok := phases.NextFor(currentPhase, reason)
	if !ok {
		b.emitEscalation(currentPhase, fmt.Sprintf("no transition for reason %q", reason))
		return TransitionResult{Escalated: true, Reason: fmt.Sprintf("no transition from phase %d for reason %q", currentPhase, reason)}
	}

	if len(transition.Next) == 0 {
		// Terminal phase completed.
		b.recordTransition(currentPhase, currentPhase, reason, "lifecycle complete")
		return TransitionResult{PhaseTransitioned: true, NextPhases: []int{}, Reason: "lifecycle complete"}
	}

	completed := make(map[int]bool, len(transitionCtx.CompletedPhases))
	for _, phase := range transitionCtx.CompletedPhases {
		completed[phase] = true
	}

	for _, next := range transition.Next {
		// Re-entering the current phase (rework) is exempt from its own
		// prerequisite check.
		if next == currentPhase {
			continue
		}
		for _, prereq := range phases.PrerequisitesFor(next) {
			if prereq == currentPhase || completed[prereq] {
				continue
			}
			return TransitionResult{
				Reason: fmt.Sprintf("phase %d prerequisite %d is not completed", next, prereq),
			}
		}
	}

	result := TransitionResult{
		PhaseTransitioned: true,
		NextPhase:         transition.Next[0],
		NextPhases:        transition.Next,
	}

	// Transition event first, then entry messages at the new phases.
	b.recordTransition(currentPhase, transition.Next[0], reason, "")

	for _, next := range transition.Next {
		messageID, err := b.Publish(&PhaseMessage{
			CurrentPhase: next,
			MessageType:  phases.MessageExecution,
			Payload: map[string]interface{}{
				"event":          "phase_entry",
				"previous_phase": currentPhase,
				"reason":         string(reason),
			},
		})
		if err == nil {
			result.MessageIDs = append(result.MessageIDs, messageID)
		}
	}

	return result
}

func (b *EnhancedBus) recordTransition(from, to int, reason phases.TransitionReason, detail string) {
	b.metricsMu.Lock()
	b.metrics.PhaseTransitions++
	b.metricsMu.Unlock()

	data := map[string]interface{}{
		"from_phase": from,
		"to_phase":   to,
		"reason":     string(reason),
	}
	if detail != "" {
		data["detail"] = detail
	}
	b.emitter.Emit(events.TypePhaseTransitioned, "", data)
}

func (b *EnhancedBus) emitEscalation(phase int, detail string) {
	// Escalation alerts ride the CRITICAL tier regardless of phase.
	b.Publish(&PhaseMessage{
		CurrentPhase: phase,
		MessageType:  phases.MessageEscalation,
		Payload: map[string]interface{}{
			"event":  "escalation",
			"detail": detail,
		},
	})
}
