package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/agent"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/registry"
)

// compiledStep is a Step with its references and condition parsed.
type compiledStep struct {
	step      Step
	inputs    map[string]compiledValue
	condition *Condition
}

// compiledWorkflow is a Definition after registration-time compilation.
type compiledWorkflow struct {
	def     Definition
	steps   map[string]*compiledStep
	order   []string // declaration order
	outputs map[string]*Reference
}

// Engine executes declarative workflows over registered agents. Steps run
// sequentially within one execution; multiple executions may run
// concurrently.
type Engine struct {
	registry *registry.Registry
	emitter  *events.Emitter

	mu         sync.RWMutex
	workflows  map[string]*compiledWorkflow
	executions map[string]*Execution
}

// NewEngine creates a workflow engine backed by the given registry.
func NewEngine(reg *registry.Registry, emitter *events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Engine{
		registry:   reg,
		emitter:    emitter,
		workflows:  make(map[string]*compiledWorkflow),
		executions: make(map[string]*Execution),
	}
}

// Events exposes the engine's emitter.
func (e *Engine) Events() *events.Emitter {
	return e.emitter
}

// RegisterWorkflow validates the definition, compiles its reference
// expressions and conditions, and stores it. Every referenced agent must
// already be registered.
func (e *Engine) RegisterWorkflow(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow requires an id")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", def.ID)
	}
	if def.ErrorHandling.Strategy == "" {
		def.ErrorHandling.Strategy = StrategyStop
	}

	compiled := &compiledWorkflow{
		def:     def,
		steps:   make(map[string]*compiledStep, len(def.Steps)),
		outputs: make(map[string]*Reference, len(def.Outputs)),
	}

	for _, step := range def.Steps {
		if step.ID == "" {
			return fmt.Errorf("workflow %s: step requires an id", def.ID)
		}
		if _, dup := compiled.steps[step.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate step id %s", def.ID, step.ID)
		}
		if !e.registry.Has(step.AgentID) {
			return fmt.Errorf("workflow %s: step %s references unregistered agent %s", def.ID, step.ID, step.AgentID)
		}

		cs := &compiledStep{step: step, inputs: make(map[string]compiledValue, len(step.Inputs))}

		for name, value := range step.Inputs {
			cv, err := compileValue(value)
			if err != nil {
				return fmt.Errorf("workflow %s: step %s input %s: %w", def.ID, step.ID, name, err)
			}
			cs.inputs[name] = cv
		}

		if step.Condition != "" {
			condition, err := ParseCondition(step.Condition)
			if err != nil {
				return fmt.Errorf("workflow %s: step %s: %w", def.ID, step.ID, err)
			}
			cs.condition = condition
		}

		compiled.steps[step.ID] = cs
		compiled.order = append(compiled.order, step.ID)
	}

	for name, expr := range def.Outputs {
		ref, err := ParseReference(expr)
		if err != nil {
			return fmt.Errorf("workflow %s: output %s: %w", def.ID, name, err)
		}
		compiled.outputs[name] = ref
	}

	e.mu.Lock()
	e.workflows[def.ID] = compiled
	e.mu.Unlock()

	log.WithFields(log.Fields{
		"workflow_id": def.ID,
		"steps":       len(def.Steps),
	}).Info("Workflow registered")

	return nil
}

// Execute runs a registered workflow. The execution order is a topological
// sort over step dependencies; a cycle fails the run before any step
// executes and leaves StepResults empty.
func (e *Engine) Execute(ctx context.Context, workflowID string, initialInputs map[string]interface{}) (*Execution, error) {
	e.mu.RLock()
	compiled, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %s is not registered", workflowID)
	}

	execution := &Execution{
		ExecutionID: uuid.New().String(),
		WorkflowID:  workflowID,
		Status:      ExecutionRunning,
		StartTime:   time.Now().UTC(),
		StepResults: make(map[string]*StepResult),
	}

	e.mu.Lock()
	e.executions[execution.ExecutionID] = execution
	e.mu.Unlock()

	e.emitter.Emit(events.TypeWorkflowStart, workflowID, map[string]interface{}{
		"execution_id": execution.ExecutionID,
	})

	order, err := e.executionOrder(compiled)
	if err != nil {
		e.finish(execution, ExecutionFailed, "", err)
		return execution, err
	}

	stepOutputs := make(map[string]map[string]interface{})

	for _, stepID := range order {
		cs := compiled.steps[stepID]

		runErr := e.runStep(ctx, compiled, cs, execution, initialInputs, stepOutputs)
		if runErr == nil {
			continue
		}

		strategy := cs.step.OnError
		if strategy == "" {
			strategy = compiled.def.ErrorHandling.Strategy
		}

		switch strategy {
		case StrategyContinue:
			execution.Errors = append(execution.Errors, StepFailure{StepID: stepID, Error: runErr.Error()})

		default:
			// stop, and retry once the step budget is exhausted, both
			// fail the workflow here.
			execution.Errors = append(execution.Errors, StepFailure{StepID: stepID, Error: runErr.Error()})
			e.finish(execution, ExecutionFailed, stepID, runErr)
			return execution, nil
		}
	}

	execution.Outputs = make(map[string]interface{}, len(compiled.outputs))
	for name, ref := range compiled.outputs {
		execution.Outputs[name] = ref.Resolve(initialInputs, stepOutputs)
	}

	e.finish(execution, ExecutionCompleted, "", nil)
	return execution, nil
}

// executionOrder builds the step ordering, detecting cycles up front.
func (e *Engine) executionOrder(compiled *compiledWorkflow) ([]string, error) {
	graph := newDependencyGraph()
	for _, stepID := range compiled.order {
		graph.addNode(stepID)
	}
	for _, stepID := range compiled.order {
		for _, dep := range compiled.steps[stepID].step.DependsOn {
			if err := graph.addEdge(dep, stepID); err != nil {
				return nil, err
			}
		}
	}

	order, cycleNode := graph.topologicalOrder()
	if cycleNode != "" {
		return nil, &CycleError{WorkflowID: compiled.def.ID, Node: cycleNode}
	}
	return order, nil
}

// runStep checks dependencies, evaluates the condition, resolves inputs and
// executes the agent. A nil return means the step succeeded or was skipped;
// an error means the step failed and was recorded as such.
func (e *Engine) runStep(
	ctx context.Context,
	compiled *compiledWorkflow,
	cs *compiledStep,
	execution *Execution,
	initialInputs map[string]interface{},
	stepOutputs map[string]map[string]interface{},
) error {
	stepID := cs.step.ID

	// Dependency verification comes first: a step below an unsatisfied
	// dependency must not run, condition or not.
	for _, dep := range cs.step.DependsOn {
		result, ok := execution.StepResults[dep]
		if !ok || result.Status != StepSuccess {
			status := StepSkipped
			if ok {
				status = result.Status
			}
			depErr := &DependencyError{StepID: stepID, DepID: dep, Status: status}
			execution.StepResults[stepID] = &StepResult{
				Status:    StepFailed,
				Error:     depErr.Error(),
				Timestamp: time.Now().UTC(),
			}
			e.emitter.Emit(events.TypeStepError, stepID, map[string]interface{}{
				"execution_id": execution.ExecutionID,
				"error":        depErr.Error(),
			})
			return depErr
		}
	}

	if cs.condition != nil {
		shouldRun, err := cs.condition.Evaluate(initialInputs, stepOutputs)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"workflow_id": compiled.def.ID,
				"step_id":     stepID,
			}).Warn("Condition evaluation failed; skipping step")
			shouldRun = false
		}
		if !shouldRun {
			execution.StepResults[stepID] = &StepResult{
				Status:    StepSkipped,
				Timestamp: time.Now().UTC(),
			}
			e.emitter.Emit(events.TypeStepSkipped, stepID, map[string]interface{}{
				"execution_id": execution.ExecutionID,
			})
			return nil
		}
	}

	input := make(map[string]interface{}, len(cs.inputs))
	for name, cv := range cs.inputs {
		input[name] = cv.resolve(initialInputs, stepOutputs)
	}

	e.emitter.Emit(events.TypeStepStart, stepID, map[string]interface{}{
		"execution_id": execution.ExecutionID,
		"agent_id":     cs.step.AgentID,
	})

	a, err := e.registry.Get(cs.step.AgentID)
	if err == nil {
		var output map[string]interface{}
		output, err = a.ExecuteWithPolicy(ctx, input, &agent.Context{
			WorkflowID:  compiled.def.ID,
			ExecutionID: execution.ExecutionID,
			StepID:      stepID,
		}, cs.step.Retry)

		if err == nil {
			execution.StepResults[stepID] = &StepResult{
				Status:    StepSuccess,
				Output:    output,
				Timestamp: time.Now().UTC(),
			}
			stepOutputs[stepID] = output
			e.emitter.Emit(events.TypeStepComplete, stepID, map[string]interface{}{
				"execution_id": execution.ExecutionID,
			})
			return nil
		}
	}

	execution.StepResults[stepID] = &StepResult{
		Status:    StepFailed,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
	e.emitter.Emit(events.TypeStepError, stepID, map[string]interface{}{
		"execution_id": execution.ExecutionID,
		"error":        err.Error(),
	})
	return err
}

func (e *Engine) finish(execution *Execution, status ExecutionStatus, failedStep string, err error) {
	execution.Status = status
	execution.EndTime = time.Now().UTC()
	execution.Duration = execution.EndTime.Sub(execution.StartTime)
	execution.FailedStep = failedStep

	if status == ExecutionCompleted {
		e.emitter.Emit(events.TypeWorkflowComplete, execution.WorkflowID, map[string]interface{}{
			"execution_id": execution.ExecutionID,
			"duration_ms":  execution.Duration.Milliseconds(),
		})
		log.WithFields(log.Fields{
			"workflow_id":  execution.WorkflowID,
			"execution_id": execution.ExecutionID,
			"duration":     execution.Duration,
		}).Info("Workflow completed")
		return
	}

	data := map[string]interface{}{
		"execution_id": execution.ExecutionID,
	}
	if failedStep != "" {
		data["failed_step"] = failedStep
	}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emitter.Emit(events.TypeWorkflowError, execution.WorkflowID, data)

	log.WithFields(log.Fields{
		"workflow_id":  execution.WorkflowID,
		"execution_id": execution.ExecutionID,
		"failed_step":  failedStep,
	}).Warn("Workflow failed")
}

// GetExecution returns a previously started execution by id.
func (e *Engine) GetExecution(executionID string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	execution, ok := e.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	return execution, nil
}

// ListExecutions returns executions, optionally filtered by workflow id,
// oldest first.
func (e *Engine) ListExecutions(workflowID string) []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]*Execution, 0, len(e.executions))
	for _, execution := range e.executions {
		if workflowID == "" || execution.WorkflowID == workflowID {
			matched = append(matched, execution)
		}
	}

	for i := 0; i < len(matched); i++ {
		for j := i + 1; j < len(matched); j++ {
			if matched[j].StartTime.Before(matched[i].StartTime) {
				matched[i], matched[j] = matched[j], matched[i]
			}
		}
	}
	return matched
}

// Workflows returns the registered workflow ids.
func (e *Engine) Workflows() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		ids = append(ids, id)
	}
	return ids
}
