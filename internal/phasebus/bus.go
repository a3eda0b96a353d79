package phasebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/bus"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/schema"
)

const (
	defaultProcessInterval = 100 * time.Millisecond
	defaultMaxPerTick      = 10
	defaultMaxRetries      = 3
	defaultBaseBackoff     = time.Second
	defaultMaxBackoff      = 30 * time.Second
	defaultBackoffFactor   = 2.0
	defaultDeliveryTimeout = 5 * time.Second
)

// Config tunes the enhanced bus.
type Config struct {
	// ProcessInterval is the processor loop cadence
	ProcessInterval time.Duration

	// MaxPerTick bounds deliveries per processor tick
	MaxPerTick int

	// MaxRetries is the number of retries after a failed delivery before
	// the message dead-letters (MaxRetries+1 delivery attempts in all)
	MaxRetries int

	// BaseBackoff, BackoffFactor and MaxBackoff shape the retry delay
	// min(MaxBackoff, BaseBackoff * BackoffFactor^retryCount)
	BaseBackoff   time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration

	// DeliveryTimeout bounds one handler invocation
	DeliveryTimeout time.Duration
}

// phaseMessageSchema is the structural contract every phase message must
// satisfy at publish time. The bus never delivers a message that failed it.
var phaseMessageSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"message_id":          map[string]interface{}{"type": "string", "minLength": 1},
		"current_phase":       map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 11},
		"message_type":        map[string]interface{}{"enum": []interface{}{"execution", "validation_gate", "escalation", "notification"}},
		"payload":             map[string]interface{}{"type": "object"},
		"from_agent":          map[string]interface{}{"type": "string"},
		"required_capability": map[string]interface{}{"type": "string"},
		"approval_required":   map[string]interface{}{"type": "boolean"},
		"priority":            map[string]interface{}{"type": "integer"},
		"retry_count":         map[string]interface{}{"type": "integer", "minimum": 0},
		"enqueued_at":         map[string]interface{}{"type": "string"},
	},
	"required":             []interface{}{"message_id", "current_phase", "message_type", "payload"},
	"additionalProperties": false,
}

// EnhancedBus layers phase-aware routing, strict priority tiers, retry with
// exponential backoff, a dead-letter queue, phase transitions and approval
// gates over the base bus. Every queued message was validated at publish
// time.
//
// Priority is derived from (phase, messageType); escalation messages enter
// CRITICAL regardless of phase.
type EnhancedBus struct {
	config  Config
	base    *bus.Bus
	emitter *events.Emitter

	validator *schema.Validator

	queues *priorityQueues

	handlersMu sync.RWMutex
	handlers   map[string]PhaseHandler

	dlqMu      sync.Mutex
	deadLetter []*DeadLetterEntry

	approvalsMu sync.Mutex
	approvals   map[string]*ApprovalRequest

	metricsMu sync.Mutex
	metrics   Metrics

	runMu      sync.Mutex
	cancelRun  context.CancelFunc
	processing sync.WaitGroup

	repo SnapshotRepository
}

// Option configures the enhanced bus.
type Option func(*EnhancedBus)

// WithSnapshotRepository sets the persistence hook used by PersistState and
// RestoreState.
func WithSnapshotRepository(repo SnapshotRepository) Option {
	return func(b *EnhancedBus) {
		b.repo = repo
	}
}

// New creates an enhanced bus over a base bus.
func New(config Config, base *bus.Bus, emitter *events.Emitter, opts ...Option) *EnhancedBus {
	if config.ProcessInterval <= 0 {
		config.ProcessInterval = defaultProcessInterval
	}
	if config.MaxPerTick <= 0 {
		config.MaxPerTick = defaultMaxPerTick
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaultBaseBackoff
	}
	if config.BackoffFactor <= 1 {
		config.BackoffFactor = defaultBackoffFactor
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultMaxBackoff
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaultDeliveryTimeout
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}

	validator, err := schema.Compile(phaseMessageSchema)
	if err != nil {
		panic(fmt.Sprintf("phase message schema does not compile: %v", err))
	}

	b := &EnhancedBus{
		config:    config,
		base:      base,
		emitter:   emitter,
		validator: validator,
		queues:    newPriorityQueues(),
		handlers:  make(map[string]PhaseHandler),
		approvals: make(map[string]*ApprovalRequest),
		repo:      NewMemorySnapshotRepository(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Events exposes the bus emitter.
func (b *EnhancedBus) Events() *events.Emitter {
	return b.emitter
}

// SubscribeAgent registers an agent's phase message handler. Routing targets
// are resolved at dequeue time, so agents registered after a message was
// queued still receive it.
func (b *EnhancedBus) SubscribeAgent(agentID string, handler PhaseHandler) error {
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	b.handlersMu.Lock()
	b.handlers[agentID] = handler
	b.handlersMu.Unlock()
	return nil
}

// UnsubscribeAgent removes an agent's handler.
func (b *EnhancedBus) UnsubscribeAgent(agentID string) {
	b.handlersMu.Lock()
	delete(b.handlers, agentID)
	b.handlersMu.Unlock()
}

// Publish validates the message, derives its priority tier and enqueues it.
// Publish is fire-and-queue: delivery failures surface as events, never as
// errors to the publisher.
func (b *EnhancedBus) Publish(msg *PhaseMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("message is required")
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.Payload == nil {
		msg.Payload = map[string]interface{}{}
	}
	msg.Priority = phases.PriorityFor(msg.CurrentPhase, msg.MessageType)
	msg.EnqueuedAt = time.Now().UTC()

	if err := b.validate(msg); err != nil {
		return "", err
	}

	b.enqueue(msg)

	b.metricsMu.Lock()
	b.metrics.MessagesReceived++
	b.metricsMu.Unlock()

	b.emitter.Emit(events.TypeMessageQueued, msg.FromAgent, map[string]interface{}{
		"message_id": msg.MessageID,
		"phase":      msg.CurrentPhase,
		"priority":   msg.Priority.String(),
	})

	return msg.MessageID, nil
}

func (b *EnhancedBus) validate(msg *PhaseMessage) error {
	wire := map[string]interface{}{
		"message_id":    msg.MessageID,
		"current_phase": msg.CurrentPhase,
		"message_type":  string(msg.MessageType),
		"payload":       msg.Payload,
		"retry_count":   msg.RetryCount,
	}
	if msg.FromAgent != "" {
		wire["from_agent"] = msg.FromAgent
	}
	if msg.RequiredCapability != "" {
		wire["required_capability"] = msg.RequiredCapability
	}
	if msg.ApprovalRequired != nil {
		wire["approval_required"] = *msg.ApprovalRequired
	}
	return b.validator.MustValidate("phase message", wire)
}

func (b *EnhancedBus) enqueue(msg *PhaseMessage) {
	b.queues.tier(msg.Priority).push(msg)
}

// Start launches the processor loop on its fixed cadence.
func (b *EnhancedBus) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.cancelRun != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancelRun = cancel

	b.processing.Add(1)
	go b.run(runCtx)

	log.WithField("interval", b.config.ProcessInterval).Info("Enhanced bus processor started")
}

// Stop halts the processor loop and waits for the in-flight tick.
func (b *EnhancedBus) Stop() {
	b.runMu.Lock()
	cancel := b.cancelRun
	b.cancelRun = nil
	b.runMu.Unlock()

	if cancel != nil {
		cancel()
		b.processing.Wait()
	}
}

func (b *EnhancedBus) run(ctx context.Context) {
	defer b.processing.Done()

	ticker := time.NewTicker(b.config.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.processTick(ctx)
		}
	}
}

// processTick drains up to MaxPerTick messages, always from the highest
// non-empty tier first. Within a tier, order is FIFO.
func (b *EnhancedBus) processTick(ctx context.Context) {
	b.metricsMu.Lock()
	b.metrics.CurrentlyProcessing = true
	b.metricsMu.Unlock()

	defer func() {
		b.metricsMu.Lock()
		b.metrics.CurrentlyProcessing = false
		b.metricsMu.Unlock()
	}()

	for i := 0; i < b.config.MaxPerTick; i++ {
		msg := b.queues.popHighest()
		if msg == nil {
			return
		}
		b.deliver(ctx, msg)
	}
}

// ProcessPending drains the queues synchronously. Intended for tests and
// for flushing on shutdown.
func (b *EnhancedBus) ProcessPending(ctx context.Context) {
	for {
		msg := b.queues.popHighest()
		if msg == nil {
			return
		}
		b.deliver(ctx, msg)
	}
}

// RoutingTargets resolves the agents a message routes to: the agents
// assigned to the phase, filtered by required capability, that currently
// have a handler registered.
func (b *EnhancedBus) RoutingTargets(phase int, msg *PhaseMessage) []string {
	assigned := phases.AgentsFor(phase, msg.RequiredCapability)

	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()

	var targets []string
	for _, agentID := range assigned {
		if _, ok := b.handlers[agentID]; ok {
			targets = append(targets, agentID)
		}
	}
	return targets
}

func (b *EnhancedBus) deliver(ctx context.Context, msg *PhaseMessage) {
	targets := b.RoutingTargets(msg.CurrentPhase, msg)
	if len(targets) == 0 {
		b.handleFailure(msg, fmt.Errorf("no routing targets for phase %d", msg.CurrentPhase))
		return
	}

	var failures []string
	for _, agentID := range targets {
		b.handlersMu.RLock()
		handler := b.handlers[agentID]
		b.handlersMu.RUnlock()
		if handler == nil {
			failures = append(failures, fmt.Sprintf("%s: handler gone", agentID))
			continue
		}

		if err := b.invoke(ctx, handler, msg); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", agentID, err))
		}
	}

	if len(failures) > 0 {
		b.handleFailure(msg, fmt.Errorf("delivery failed: %s", strings.Join(failures, "; ")))
		return
	}

	// Mirror the delivered message onto the validated base bus so
	// observers and history see phase traffic.
	b.mirror(ctx, msg)

	b.metricsMu.Lock()
	b.metrics.MessagesProcessed++
	b.metricsMu.Unlock()

	b.emitter.Emit(events.TypeMessageProcessed, msg.FromAgent, map[string]interface{}{
		"message_id": msg.MessageID,
		"phase":      msg.CurrentPhase,
		"targets":    len(targets),
	})
}

func (b *EnhancedBus) invoke(ctx context.Context, handler PhaseHandler, msg *PhaseMessage) error {
	deliveryCtx, cancel := context.WithTimeout(ctx, b.config.DeliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- handler(deliveryCtx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-deliveryCtx.Done():
		return fmt.Errorf("delivery timed out after %s", b.config.DeliveryTimeout)
	}
}

func (b *EnhancedBus) mirror(ctx context.Context, msg *PhaseMessage) {
	if b.base == nil {
		return
	}

	err := b.base.Publish(ctx, &bus.Envelope{
		Type:  bus.MessageTypeEvent,
		Topic: fmt.Sprintf("phase.%d", msg.CurrentPhase),
		From:  msg.FromAgent,
		Payload: map[string]interface{}{
			"message_id":   msg.MessageID,
			"message_type": string(msg.MessageType),
			"payload":      msg.Payload,
		},
	})
	if err != nil {
		log.WithError(err).WithField("message_id", msg.MessageID).
			Debug("Failed to mirror phase message onto base bus")
	}
}

// handleFailure retries the message with exponential backoff until the retry
// budget is exhausted, then promotes it to the dead-letter queue.
func (b *EnhancedBus) handleFailure(msg *PhaseMessage, cause error) {
	b.metricsMu.Lock()
	b.metrics.MessagesFailed++
	b.metricsMu.Unlock()

	if msg.RetryCount >= b.config.MaxRetries {
		b.promoteToDeadLetter(msg, cause)
		return
	}

	msg.RetryCount++
	delay := b.retryDelay(msg.RetryCount)

	b.metricsMu.Lock()
	b.metrics.MessagesRetried++
	b.metricsMu.Unlock()

	b.emitter.Emit(events.TypeMessageRetry, msg.FromAgent, map[string]interface{}{
		"message_id":  msg.MessageID,
		"retry_count": msg.RetryCount,
		"delay_ms":    delay.Milliseconds(),
		"error":       cause.Error(),
	})

	log.WithFields(log.Fields{
		"message_id":  msg.MessageID,
		"retry_count": msg.RetryCount,
		"delay":       delay,
	}).WithError(cause).Debug("Scheduling message retry")

	time.AfterFunc(delay, func() {
		msg.EnqueuedAt = time.Now().UTC()
		b.enqueue(msg)
	})
}

// retryDelay computes min(MaxBackoff, BaseBackoff * BackoffFactor^retryCount).
func (b *EnhancedBus) retryDelay(retryCount int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.config.BaseBackoff
	bo.Multiplier = b.config.BackoffFactor
	bo.MaxInterval = b.config.MaxBackoff
	bo.RandomizationFactor = 0
	// NewExponentialBackOff already reset the schedule with the library
	// default interval; reset again so it starts at BaseBackoff.
	bo.Reset()

	delay := bo.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = bo.NextBackOff()
	}
	if delay > b.config.MaxBackoff {
		delay = b.config.MaxBackoff
	}
	return delay
}

func (b *EnhancedBus) promoteToDeadLetter(msg *PhaseMessage, cause error) {
	entry := &DeadLetterEntry{
		Message:       msg,
		FailureReason: cause.Error(),
		FailedAt:      time.Now().UTC(),
		RetryCount:    msg.RetryCount,
	}

	b.dlqMu.Lock()
	b.deadLetter = append(b.deadLetter, entry)
	b.dlqMu.Unlock()

	b.metricsMu.Lock()
	b.metrics.DeadLetterCount++
	b.metricsMu.Unlock()

	// Dead-letter promotion is an escalation alert, not an exception to
	// the publisher.
	b.emitter.Emit(events.TypeMessageDeadLetter, msg.FromAgent, map[string]interface{}{
		"message_id":  msg.MessageID,
		"phase":       msg.CurrentPhase,
		"retry_count": msg.RetryCount,
		"reason":      cause.Error(),
	})

	log.WithFields(log.Fields{
		"message_id":  msg.MessageID,
		"phase":       msg.CurrentPhase,
		"retry_count": msg.RetryCount,
	}).WithError(cause).Warn("Message moved to dead-letter queue")
}

// GetMetrics returns a snapshot of the bus counters.
func (b *EnhancedBus) GetMetrics() Metrics {
	b.metricsMu.Lock()
	metrics := b.metrics
	b.metricsMu.Unlock()

	metrics.QueueStats = b.queues.stats()

	b.dlqMu.Lock()
	metrics.DeadLetterCount = len(b.deadLetter)
	b.dlqMu.Unlock()

	return metrics
}
