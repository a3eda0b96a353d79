package phasebus

import (
	"context"
	"time"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
)

// PhaseMessage is the unit of work routed by the enhanced bus. The bus owns
// a message from the moment it is queued until it is delivered, dead-lettered
// or explicitly retried out of the dead-letter queue; a message is never in
// two queues at once.
type PhaseMessage struct {
	// MessageID uniquely identifies the message
	MessageID string `json:"message_id"`

	// CurrentPhase is the lifecycle phase the message belongs to
	CurrentPhase int `json:"current_phase"`

	// MessageType classifies the message
	MessageType phases.MessageType `json:"message_type"`

	// Payload is the message body
	Payload map[string]interface{} `json:"payload"`

	// FromAgent identifies the sender, if any
	FromAgent string `json:"from_agent,omitempty"`

	// RequiredCapability filters routing targets by capability tag
	RequiredCapability string `json:"required_capability,omitempty"`

	// ApprovalRequired overrides the phase's approval flag
	ApprovalRequired *bool `json:"approval_required,omitempty"`

	// Priority is derived from (phase, messageType) at publish time
	Priority phases.Priority `json:"priority"`

	// RetryCount is the number of retries scheduled so far; it stays at
	// MaxRetries when the final failure dead-letters the message
	RetryCount int `json:"retry_count"`

	// EnqueuedAt is when the message entered its current queue
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetterEntry wraps a message that exhausted its retry budget.
type DeadLetterEntry struct {
	Message       *PhaseMessage `json:"message"`
	FailureReason string        `json:"failure_reason"`
	FailedAt      time.Time     `json:"failed_at"`
	RetryCount    int           `json:"retry_count"`
}

// ApprovalStatus is the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalAwaiting ApprovalStatus = "awaiting_approval"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalRevise   ApprovalStatus = "revise"
)

// ApprovalRequest tracks a human decision gating phase progression.
type ApprovalRequest struct {
	ApprovalID      string                 `json:"approval_id"`
	Phase           int                    `json:"phase"`
	Artifacts       map[string]interface{} `json:"artifacts,omitempty"`
	Status          ApprovalStatus         `json:"status"`
	Feedback        string                 `json:"feedback,omitempty"`
	RequestedAt     time.Time              `json:"requested_at"`
	DecidedAt       *time.Time             `json:"decided_at,omitempty"`
	CompletedPhases []int                  `json:"completed_phases,omitempty"`
}

// TransitionContext carries the execution state a transition is validated
// against.
type TransitionContext struct {
	CompletedPhases []int
}

// TransitionResult reports the outcome of a phase transition request.
type TransitionResult struct {
	PhaseTransitioned bool     `json:"phase_transitioned"`
	Escalated         bool     `json:"escalated"`
	NextPhase         int      `json:"next_phase,omitempty"`
	NextPhases        []int    `json:"next_phases,omitempty"`
	MessageIDs        []string `json:"message_ids,omitempty"`
	Reason            string   `json:"reason,omitempty"`
}

// QueueStats reports per-tier and total queue depth.
type QueueStats struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Normal   int `json:"normal"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// Metrics is a snapshot of the bus counters.
type Metrics struct {
	MessagesReceived       int        `json:"messages_received"`
	MessagesProcessed      int        `json:"messages_processed"`
	MessagesFailed         int        `json:"messages_failed"`
	MessagesRetried        int        `json:"messages_retried"`
	DeadLetterCount        int        `json:"dead_letter_count"`
	PhaseTransitions       int        `json:"phase_transitions"`
	ApprovalGatesTriggered int        `json:"approval_gates_triggered"`
	QueueStats             QueueStats `json:"queue_stats"`
	CurrentlyProcessing    bool       `json:"currently_processing"`
}

// Snapshot is the serializable state of the bus for export/import.
type Snapshot struct {
	Queues     map[string][]*PhaseMessage `json:"queues"`
	DeadLetter []*DeadLetterEntry         `json:"dead_letter"`
	Metrics    Metrics                    `json:"metrics"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// DeadLetterFilter narrows dead-letter queries.
type DeadLetterFilter struct {
	// Phase restricts to one phase when non-nil
	Phase *int

	// Since restricts to entries that failed at or after this time
	Since time.Time

	// Limit caps the number of entries returned; 0 means all
	Limit int
}

// PhaseHandler consumes phase messages delivered to an agent.
type PhaseHandler func(ctx context.Context, msg *PhaseMessage) error
