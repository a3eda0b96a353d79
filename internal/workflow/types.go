package workflow

import (
	"fmt"
	"time"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/agent"
)

// ErrorStrategy decides how the engine proceeds after a step fails.
type ErrorStrategy string

const (
	// StrategyStop fails the workflow immediately
	StrategyStop ErrorStrategy = "stop"
	// StrategyContinue records the failure and carries on
	StrategyContinue ErrorStrategy = "continue"
	// StrategyRetry behaves as stop once the per-step retry budget is
	// already exhausted
	StrategyRetry ErrorStrategy = "retry"
)

// Definition is a declarative workflow: a DAG of steps with reference-resolved
// data flow.
type Definition struct {
	// ID uniquely identifies the workflow
	ID string `json:"id"`

	// Name is a human-readable name
	Name string `json:"name"`

	// Version of the definition
	Version string `json:"version"`

	// Steps in declaration order
	Steps []Step `json:"steps"`

	// Outputs maps external output names to reference expressions
	Outputs map[string]string `json:"outputs,omitempty"`

	// ErrorHandling sets the default error strategy
	ErrorHandling ErrorHandling `json:"error_handling"`
}

// ErrorHandling holds the workflow-level error policy.
type ErrorHandling struct {
	Strategy ErrorStrategy `json:"strategy"`
}

// Step invokes one agent with reference-resolved inputs.
type Step struct {
	// ID is unique within the workflow
	ID string `json:"id"`

	// AgentID names the registered agent to invoke
	AgentID string `json:"agent_id"`

	// Inputs maps input names to literals or reference expressions
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	// DependsOn lists step ids that must succeed first
	DependsOn []string `json:"depends_on,omitempty"`

	// Condition skips the step when it evaluates to false
	Condition string `json:"condition,omitempty"`

	// Retry overrides the agent's retry policy for this step
	Retry *agent.RetryPolicy `json:"retry,omitempty"`

	// OnError overrides the workflow error strategy for this step
	OnError ErrorStrategy `json:"on_error,omitempty"`
}

// StepStatus is the recorded outcome of a step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of one step within an execution.
type StepResult struct {
	Status    StepStatus             `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepFailure identifies a failed step in Execution.Errors, under any
// error strategy.
type StepFailure struct {
	StepID string `json:"step_id"`
	Error  string `json:"error"`
}

// Execution is the runtime record of one workflow run. It exclusively owns
// its StepResults; once the status is terminal it is never mutated again.
type Execution struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      ExecutionStatus        `json:"status"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time,omitempty"`
	Duration    time.Duration          `json:"duration,omitempty"`
	StepResults map[string]*StepResult `json:"step_results"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Errors      []StepFailure          `json:"errors,omitempty"`
	FailedStep  string                 `json:"failed_step,omitempty"`
}

// CycleError reports a dependency cycle between workflow steps.
type CycleError struct {
	WorkflowID string
	Node       string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow %s: circular dependency detected involving step %s", e.WorkflowID, e.Node)
}

// DependencyError marks a step whose dependency did not succeed. Not retried.
type DependencyError struct {
	StepID string
	DepID  string
	Status StepStatus
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %s: dependency not satisfied: %s is %s", e.StepID, e.DepID, e.Status)
}
