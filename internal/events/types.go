package events

import (
	"time"
)

// Type identifies what kind of event occurred. The set is closed: components
// only emit types declared here.
type Type string

const (
	// Agent lifecycle and execution events
	TypeAgentInitializing Type = "agent:initializing"
	TypeAgentReady        Type = "agent:ready"
	TypeAgentExecution    Type = "agent:execution"
	TypeAgentError        Type = "agent:error"
	TypeAgentStopped      Type = "agent:stopped"

	// Workflow engine events
	TypeWorkflowStart    Type = "workflow:start"
	TypeWorkflowComplete Type = "workflow:complete"
	TypeWorkflowError    Type = "workflow:error"
	TypeStepStart        Type = "step:start"
	TypeStepComplete     Type = "step:complete"
	TypeStepError        Type = "step:error"
	TypeStepSkipped      Type = "step:skipped"

	// Base bus events
	TypeDeliveryError Type = "delivery:error"

	// Enhanced bus events
	TypeMessageQueued     Type = "message:queued"
	TypeMessageProcessed  Type = "message:processed"
	TypeMessageRetry      Type = "message:retry"
	TypeMessageDeadLetter Type = "message:deadletter"
	TypePhaseTransitioned Type = "phase:transitioned"
	TypeApprovalRequested Type = "approval:requested"
	TypeApprovalDecided   Type = "approval:decided"
)

// Event is a single occurrence delivered to handlers.
type Event struct {
	// ID is a unique identifier for this event instance
	ID string

	// Type identifies what kind of event this is
	Type Type

	// Source is the component or agent that emitted the event
	Source string

	// Data contains event-specific payload
	Data map[string]interface{}

	// Timestamp when the event was created
	Timestamp time.Time
}

// Handler processes events of the types it was registered for.
type Handler func(event Event)
