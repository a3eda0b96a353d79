package agent

import (
	"time"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/toolclient"
)

// Type categorizes an agent definition.
type Type string

const (
	TypeTask           Type = "task"
	TypeInfrastructure Type = "infrastructure"
	TypeValidation     Type = "validation"
	TypeOrchestration  Type = "orchestration"
)

// State represents the current state of an agent.
type State string

const (
	// StateIdle indicates the agent has been created but not initialized
	StateIdle State = "idle"
	// StateInitializing indicates tool clients are being connected
	StateInitializing State = "initializing"
	// StateReady indicates the agent can accept execute calls
	StateReady State = "ready"
	// StateExecuting indicates an execution is in flight
	StateExecuting State = "executing"
	// StateError indicates initialization or execution failed
	StateError State = "error"
	// StateStopped indicates the agent has been cleaned up
	StateStopped State = "stopped"
)

// validTransitions is the agent lifecycle state machine. Transitions outside
// this table are rejected with a StateTransitionError.
var validTransitions = map[State][]State{
	StateIdle:         {StateInitializing, StateStopped},
	StateInitializing: {StateReady, StateError, StateStopped},
	StateReady:        {StateExecuting, StateStopped},
	StateExecuting:    {StateReady, StateError},
	StateError:        {StateStopped, StateInitializing},
}

// RetryPolicy bounds execution retries. MaxRetries is the total number of
// attempts; the delay before attempt n+1 is BaseBackoff * 2^(n-1).
type RetryPolicy struct {
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
	BaseBackoff time.Duration `json:"base_backoff" mapstructure:"base_backoff"`
}

// Definition is the static description of an agent type, authored once.
type Definition struct {
	// ID is the unique agent identifier
	ID string `json:"id"`

	// Name is a human-readable name
	Name string `json:"name"`

	// Version of the agent definition
	Version string `json:"version"`

	// Type categorizes the agent
	Type Type `json:"type"`

	// Inputs is the schema document execute inputs must satisfy
	Inputs interface{} `json:"inputs,omitempty"`

	// Outputs is the schema document execute outputs must satisfy
	Outputs interface{} `json:"outputs,omitempty"`

	// MCPServers lists the external tool servers the agent connects to
	MCPServers []toolclient.ServerRef `json:"mcp_servers,omitempty"`

	// Timeout bounds a single execution attempt
	Timeout time.Duration `json:"timeout"`

	// Retry bounds execution attempts
	Retry RetryPolicy `json:"retry"`

	// Dependencies are agent ids that must be registered first
	Dependencies []string `json:"dependencies,omitempty"`
}

// ExecutionStatus is the outcome recorded for one execute call.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// ExecutionRecord captures one execute call. One record is appended per
// outer call; Attempt holds the attempt number that produced the outcome.
type ExecutionRecord struct {
	ExecutionID string                 `json:"execution_id"`
	Input       map[string]interface{} `json:"input"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	Duration    time.Duration          `json:"duration"`
	Attempt     int                    `json:"attempt"`
	Status      ExecutionStatus        `json:"status"`
}

// Status is a point-in-time snapshot of an agent.
type Status struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Type             Type          `json:"type"`
	State            State         `json:"state"`
	Executions       int           `json:"executions"`
	SuccessRate      float64       `json:"success_rate"`
	AverageDuration  time.Duration `json:"average_duration"`
	ConnectedServers []string      `json:"connected_servers"`
}

// Context carries workflow-level information into an execution.
type Context struct {
	// WorkflowID identifies the running workflow, if any
	WorkflowID string

	// ExecutionID identifies the workflow execution, if any
	ExecutionID string

	// StepID identifies the workflow step, if any
	StepID string

	// Shared holds values visible across steps
	Shared map[string]interface{}
}
