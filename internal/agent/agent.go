package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/schema"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/toolclient"
)

const (
	defaultTimeout    = 2 * time.Minute
	defaultMaxRetries = 1
	defaultBackoff    = time.Second

	// maxHistory caps the execution history; the most recent records are
	// always retained.
	maxHistory = 100
)

// Runner supplies the behavior of a concrete agent. The base Agent owns
// lifecycle, validation, retry, timeout and history around these hooks.
type Runner interface {
	// OnInitialize runs after tool clients are connected
	OnInitialize(ctx context.Context) error

	// OnExecute performs the agent's work for one attempt
	OnExecute(ctx context.Context, input map[string]interface{}, execCtx *Context, executionID string) (map[string]interface{}, error)

	// OnCleanup runs after tool clients are released
	OnCleanup(ctx context.Context) error
}

// Agent is the runtime harness every concrete agent runs inside.
type Agent struct {
	def     Definition
	runner  Runner
	emitter *events.Emitter
	factory toolclient.Factory

	inputValidator  *schema.Validator
	outputValidator *schema.Validator

	mu          sync.RWMutex
	state       State
	toolClients map[string]toolclient.Client
	history     []ExecutionRecord
	executions  int
	successes   int
	totalDur    time.Duration
}

// Option configures an Agent.
type Option func(*Agent)

// WithClientFactory substitutes the tool client factory, mainly for tests.
func WithClientFactory(factory toolclient.Factory) Option {
	return func(a *Agent) {
		a.factory = factory
	}
}

// WithEmitter sets the event emitter the agent reports lifecycle and
// execution events to.
func WithEmitter(emitter *events.Emitter) Option {
	return func(a *Agent) {
		a.emitter = emitter
	}
}

// New creates an agent from a definition, compiling its input and output
// schemas once.
func New(def Definition, runner Runner, opts ...Option) (*Agent, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("agent definition requires an id")
	}
	if runner == nil {
		return nil, fmt.Errorf("agent %s requires a runner", def.ID)
	}

	if def.Timeout <= 0 {
		def.Timeout = defaultTimeout
	}
	if def.Retry.MaxRetries <= 0 {
		def.Retry.MaxRetries = defaultMaxRetries
	}
	if def.Retry.BaseBackoff <= 0 {
		def.Retry.BaseBackoff = defaultBackoff
	}

	a := &Agent{
		def:         def,
		runner:      runner,
		emitter:     events.NewEmitter(),
		factory:     toolclient.NewClient,
		state:       StateIdle,
		toolClients: make(map[string]toolclient.Client),
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if def.Inputs != nil {
		if a.inputValidator, err = schema.Compile(def.Inputs); err != nil {
			return nil, fmt.Errorf("agent %s: input schema: %w", def.ID, err)
		}
	}
	if def.Outputs != nil {
		if a.outputValidator, err = schema.Compile(def.Outputs); err != nil {
			return nil, fmt.Errorf("agent %s: output schema: %w", def.ID, err)
		}
	}

	return a, nil
}

// Definition returns the agent's static definition.
func (a *Agent) Definition() Definition {
	return a.def
}

// ID returns the agent identifier.
func (a *Agent) ID() string {
	return a.def.ID
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// transition moves the agent between lifecycle states, enforcing the state
// machine.
func (a *Agent) transition(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, allowed := range validTransitions[a.state] {
		if allowed == to {
			a.state = to
			return nil
		}
	}
	return &StateTransitionError{AgentID: a.def.ID, From: a.state, To: to}
}

// Initialize connects every declared tool server and moves the agent to
// ready. Each client is registered before connecting so a failed connect can
// still be cleaned up.
func (a *Agent) Initialize(ctx context.Context) error {
	if err := a.transition(StateInitializing); err != nil {
		return err
	}
	a.emitter.Emit(events.TypeAgentInitializing, a.def.ID, nil)

	for _, ref := range a.def.MCPServers {
		client, err := a.factory(ref)
		if err != nil {
			a.failInitialize()
			return fmt.Errorf("agent %s: tool server %s: %w", a.def.ID, ref.Name, err)
		}

		a.mu.Lock()
		a.toolClients[ref.Name] = client
		a.mu.Unlock()

		if err := client.Connect(ctx); err != nil {
			client.Disconnect()
			a.failInitialize()
			return fmt.Errorf("agent %s: connect %s: %w", a.def.ID, ref.Name, err)
		}

		log.WithFields(log.Fields{
			"agent_id": a.def.ID,
			"server":   ref.Name,
		}).Debug("Tool server connected")
	}

	if err := a.runner.OnInitialize(ctx); err != nil {
		a.failInitialize()
		return fmt.Errorf("agent %s: initialize: %w", a.def.ID, err)
	}

	if err := a.transition(StateReady); err != nil {
		return err
	}
	a.emitter.Emit(events.TypeAgentReady, a.def.ID, nil)
	return nil
}

// failInitialize moves to error and closes whatever clients were opened.
func (a *Agent) failInitialize() {
	a.transition(StateError)
	a.closeToolClients()
}

// Execute validates the input, runs the runner with an attempt timeout and
// backoff-bounded retries, validates the output and appends an execution
// record. Schema validation failures are a contract violation and are never
// retried.
func (a *Agent) Execute(ctx context.Context, input map[string]interface{}, execCtx *Context) (map[string]interface{}, error) {
	return a.ExecuteWithPolicy(ctx, input, execCtx, nil)
}

// ExecuteWithPolicy is Execute with the retry policy overridden for this call,
// used by the workflow engine for step-level retry configuration.
func (a *Agent) ExecuteWithPolicy(ctx context.Context, input map[string]interface{}, execCtx *Context, retry *RetryPolicy) (map[string]interface{}, error) {
	if err := a.transition(StateExecuting); err != nil {
		a.mu.RLock()
		current := a.state
		a.mu.RUnlock()
		return nil, &StateTransitionError{AgentID: a.def.ID, From: current, Op: "execute"}
	}

	executionID := uuid.New().String()
	startTime := time.Now().UTC()

	if execCtx == nil {
		execCtx = &Context{}
	}

	policy := a.def.Retry
	if retry != nil {
		policy = *retry
		if policy.MaxRetries <= 0 {
			policy.MaxRetries = a.def.Retry.MaxRetries
		}
		if policy.BaseBackoff <= 0 {
			policy.BaseBackoff = a.def.Retry.BaseBackoff
		}
	}

	output, attempt, err := a.executeWithRetry(ctx, input, execCtx, executionID, policy)

	endTime := time.Now().UTC()
	record := ExecutionRecord{
		ExecutionID: executionID,
		Input:       input,
		StartTime:   startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(startTime),
		Attempt:     attempt,
	}

	if err != nil {
		record.Status = ExecutionError
		record.Error = err.Error()
		a.appendRecord(record)
		a.transition(StateError)

		a.emitter.Emit(events.TypeAgentError, a.def.ID, map[string]interface{}{
			"execution_id": executionID,
			"attempt":      attempt,
			"error":        err.Error(),
		})
		return nil, err
	}

	record.Status = ExecutionSuccess
	record.Output = output
	a.appendRecord(record)
	a.transition(StateReady)

	a.emitter.Emit(events.TypeAgentExecution, a.def.ID, map[string]interface{}{
		"execution_id": executionID,
		"attempt":      attempt,
		"duration_ms":  record.Duration.Milliseconds(),
	})
	return output, nil
}

func (a *Agent) executeWithRetry(ctx context.Context, input map[string]interface{}, execCtx *Context, executionID string, policy RetryPolicy) (map[string]interface{}, int, error) {
	if a.inputValidator != nil {
		if err := a.inputValidator.MustValidate("input", input); err != nil {
			return nil, 1, err
		}
	}

	attempts := policy.MaxRetries
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := policy.BaseBackoff * (1 << uint(attempt-2))
			log.WithFields(log.Fields{
				"agent_id": a.def.ID,
				"attempt":  attempt,
				"delay":    delay,
			}).Debug("Retrying execution")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			}
		}

		output, err := a.attemptOnce(ctx, input, execCtx, executionID, attempt)
		if err == nil {
			if a.outputValidator != nil {
				// Output contract violations surface immediately.
				if verr := a.outputValidator.MustValidate("output", output); verr != nil {
					return nil, attempt, verr
				}
			}
			return output, attempt, nil
		}
		lastErr = err
	}

	return nil, attempts, lastErr
}

// attemptOnce races the runner against the attempt timeout. The runner is
// expected to observe context cancellation; the attempt resolves either way.
func (a *Agent) attemptOnce(ctx context.Context, input map[string]interface{}, execCtx *Context, executionID string, attempt int) (map[string]interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, a.def.Timeout)
	defer cancel()

	type outcome struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("agent %s panicked: %v", a.def.ID, r)}
			}
		}()
		output, err := a.runner.OnExecute(attemptCtx, input, execCtx, executionID)
		done <- outcome{output: output, err: err}
	}()

	select {
	case result := <-done:
		// A cooperative runner returns the attempt context's error on
		// timeout; normalize it so callers see a TimeoutError either way.
		if result.err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
			return nil, &TimeoutError{AgentID: a.def.ID, ExecutionID: executionID, Attempt: attempt}
		}
		return result.output, result.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{AgentID: a.def.ID, ExecutionID: executionID, Attempt: attempt}
	}
}

func (a *Agent) appendRecord(record ExecutionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, record)
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
	a.executions++
	if record.Status == ExecutionSuccess {
		a.successes++
	}
	a.totalDur += record.Duration
}

// Cleanup closes every tool client, runs the cleanup hook and moves to
// stopped. Individual close failures are logged but never prevent the
// remaining closures. Idempotent.
func (a *Agent) Cleanup(ctx context.Context) error {
	a.mu.RLock()
	if a.state == StateStopped {
		a.mu.RUnlock()
		return nil
	}
	a.mu.RUnlock()

	a.emitter.Emit(events.TypeAgentStopped, a.def.ID, nil)
	a.closeToolClients()

	var hookErr error
	if err := a.runner.OnCleanup(ctx); err != nil {
		hookErr = fmt.Errorf("agent %s: cleanup hook: %w", a.def.ID, err)
		log.WithError(err).WithField("agent_id", a.def.ID).Warn("Cleanup hook failed")
	}

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()

	return hookErr
}

func (a *Agent) closeToolClients() {
	a.mu.Lock()
	clients := make(map[string]toolclient.Client, len(a.toolClients))
	for name, client := range a.toolClients {
		clients[name] = client
		delete(a.toolClients, name)
	}
	a.mu.Unlock()

	for name, client := range clients {
		if err := client.Disconnect(); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"agent_id": a.def.ID,
				"server":   name,
			}).Warn("Failed to disconnect tool client")
		}
	}
}

// ToolClient returns the connected client for a declared server name.
func (a *Agent) ToolClient(name string) (toolclient.Client, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	client, ok := a.toolClients[name]
	return client, ok
}

// ExecutionHistory returns a copy of the retained execution records.
func (a *Agent) ExecutionHistory() []ExecutionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	history := make([]ExecutionRecord, len(a.history))
	copy(history, a.history)
	return history
}

// GetStatus returns a snapshot of the agent's state and execution metrics.
func (a *Agent) GetStatus() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := Status{
		ID:    a.def.ID,
		Name:  a.def.Name,
		Type:  a.def.Type,
		State: a.state,
	}

	status.Executions = a.executions
	if status.Executions > 0 {
		status.SuccessRate = float64(a.successes) / float64(status.Executions)
		status.AverageDuration = a.totalDur / time.Duration(status.Executions)
	}

	servers := make([]string, 0, len(a.toolClients))
	for name := range a.toolClients {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	status.ConnectedServers = servers

	return status
}

// ValidateInput runs the compiled input validator.
func (a *Agent) ValidateInput(input map[string]interface{}) (*schema.Result, error) {
	if a.inputValidator == nil {
		return &schema.Result{Valid: true}, nil
	}
	return a.inputValidator.Validate(input)
}

// ValidateOutput runs the compiled output validator.
func (a *Agent) ValidateOutput(output map[string]interface{}) (*schema.Result, error) {
	if a.outputValidator == nil {
		return &schema.Result{Valid: true}, nil
	}
	return a.outputValidator.Validate(output)
}
