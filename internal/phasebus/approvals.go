package phasebus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
)

// ApprovalDecision is a human verdict on an approval request.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
	DecisionRevise  ApprovalDecision = "revise"
)

// RequestApproval opens an approval gate for a phase. The request stays
// awaiting_approval until a decision is submitted; callers poll or subscribe
// to approval:decided.
func (b *EnhancedBus) RequestApproval(phase int, artifacts map[string]interface{}, completedPhases []int) (*ApprovalRequest, error) {
	if !phases.IsValid(phase) {
		return nil, fmt.Errorf("phase %d does not exist", phase)
	}
	if !phases.RequiresApproval(phase) {
		return nil, fmt.Errorf("phase %d does not require approval", phase)
	}

	request := &ApprovalRequest{
		ApprovalID:      uuid.New().String(),
		Phase:           phase,
		Artifacts:       artifacts,
		Status:          ApprovalAwaiting,
		RequestedAt:     time.Now().UTC(),
		CompletedPhases: append([]int{}, completedPhases...),
	}

	b.approvalsMu.Lock()
	b.approvals[request.ApprovalID] = request
	b.approvalsMu.Unlock()

	b.metricsMu.Lock()
	b.metrics.ApprovalGatesTriggered++
	b.metricsMu.Unlock()

	b.emitter.Emit(events.TypeApprovalRequested, "", map[string]interface{}{
		"approval_id": request.ApprovalID,
		"phase":       phase,
	})

	log.WithFields(log.Fields{
		"approval_id": request.ApprovalID,
		"phase":       phase,
	}).Info("Approval requested")

	return request, nil
}

// SubmitApprovalDecision resolves an approval request. Approving lets the
// pending phase transition proceed; the transition result is returned
// alongside the resolved request.
func (b *EnhancedBus) SubmitApprovalDecision(approvalID string, decision ApprovalDecision, feedback string) (*ApprovalRequest, *TransitionResult, error) {
	b.approvalsMu.Lock()
	request, ok := b.approvals[approvalID]
	if !ok {
		b.approvalsMu.Unlock()
		return nil, nil, fmt.Errorf("approval %s not found", approvalID)
	}
	if request.Status != ApprovalAwaiting {
		b.approvalsMu.Unlock()
		return nil, nil, fmt.Errorf("approval %s is already %s", approvalID, request.Status)
	}

	var status ApprovalStatus
	var reason phases.TransitionReason
	switch decision {
	case DecisionApprove:
		status, reason = ApprovalApproved, phases.ReasonApproved
	case DecisionReject:
		status, reason = ApprovalRejected, phases.ReasonRejected
	case DecisionRevise:
		status, reason = ApprovalRevise, phases.ReasonRevise
	default:
		b.approvalsMu.Unlock()
		return nil, nil, fmt.Errorf("unknown decision %q", decision)
	}

	now := time.Now().UTC()
	request.DecidedAt = &now
	request.Feedback = feedback
	request.Status = status
	b.approvalsMu.Unlock()

	b.emitter.Emit(events.TypeApprovalDecided, "", map[string]interface{}{
		"approval_id": approvalID,
		"phase":       request.Phase,
		"decision":    string(decision),
	})

	if decision != DecisionApprove {
		return request, nil, nil
	}

	result := b.ProcessPhaseTransition(request.Phase, reason, TransitionContext{
		CompletedPhases: request.CompletedPhases,
	})
	return request, &result, nil
}

// GetApproval returns an approval request by id.
func (b *EnhancedBus) GetApproval(approvalID string) (*ApprovalRequest, error) {
	b.approvalsMu.Lock()
	defer b.approvalsMu.Unlock()

	request, ok := b.approvals[approvalID]
	if !ok {
		return nil, fmt.Errorf("approval %s not found", approvalID)
	}
	return request, nil
}

// PendingApprovals returns every request still awaiting a decision.
func (b *EnhancedBus) PendingApprovals() []*ApprovalRequest {
	b.approvalsMu.Lock()
	defer b.approvalsMu.Unlock()

	var pending []*ApprovalRequest
	for _, request := range b.approvals {
		if request.Status == ApprovalAwaiting {
			pending = append(pending, request)
		}
	}
	return pending
}
