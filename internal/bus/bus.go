package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/schema"
)

const (
	defaultMaxHistorySize  = 1000
	defaultDeliveryTimeout = 5 * time.Second
	defaultRequestTimeout  = 30 * time.Second

	responseTopicPrefix = "response."
)

// Config tunes the base message bus.
type Config struct {
	// MaxHistorySize caps the message history ring
	MaxHistorySize int

	// DeliveryTimeout bounds each handler invocation
	DeliveryTimeout time.Duration

	// RequestTimeout bounds Request round trips
	RequestTimeout time.Duration
}

// subscription binds a subscriber's handler to one topic.
type subscription struct {
	subscriberID string
	handler      Handler
	order        int
}

// Bus is the in-process topic pub/sub and request/response hub. Delivery
// initiation is serialized per topic; handler execution is not.
type Bus struct {
	config  Config
	emitter *events.Emitter

	validator *schema.Validator

	mu          sync.RWMutex
	topics      map[string]map[string]*subscription // topic -> subscriberID -> subscription
	subscribers map[string][]*subscription          // subscriberID -> subscriptions in registration order
	history     []*Envelope
	orderSeq    int

	topicLocks sync.Map // topic -> *sync.Mutex
}

// New creates a message bus with defaults applied.
func New(config Config, emitter *events.Emitter) *Bus {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = defaultMaxHistorySize
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaultDeliveryTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if emitter == nil {
		emitter = events.NewEmitter()
	}

	validator, err := schema.Compile(envelopeSchema)
	if err != nil {
		// The envelope schema is a package constant; failing to compile it
		// is a programming error.
		panic(fmt.Sprintf("envelope schema does not compile: %v", err))
	}

	return &Bus{
		config:      config,
		emitter:     emitter,
		validator:   validator,
		topics:      make(map[string]map[string]*subscription),
		subscribers: make(map[string][]*subscription),
	}
}

// Events exposes the bus emitter.
func (b *Bus) Events() *events.Emitter {
	return b.emitter
}

// Subscribe registers a handler for one or more topics. Subscribing the same
// subscriber to the same topic again replaces the handler rather than adding
// a duplicate.
func (b *Bus) Subscribe(subscriberID string, handler Handler, topics ...string) error {
	if subscriberID == "" {
		return fmt.Errorf("subscriber id is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range topics {
		if b.topics[topic] == nil {
			b.topics[topic] = make(map[string]*subscription)
		}
		if existing, ok := b.topics[topic][subscriberID]; ok {
			existing.handler = handler
			continue
		}

		b.orderSeq++
		sub := &subscription{subscriberID: subscriberID, handler: handler, order: b.orderSeq}
		b.topics[topic][subscriberID] = sub
		b.subscribers[subscriberID] = append(b.subscribers[subscriberID], sub)
	}

	return nil
}

// Unsubscribe removes a subscriber from a topic, or from every topic when
// topic is empty.
func (b *Bus) Unsubscribe(subscriberID string, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topic != "" {
		if subs, ok := b.topics[topic]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
		return
	}

	for name, subs := range b.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(b.topics, name)
		}
	}
	delete(b.subscribers, subscriberID)
}

// Publish validates the envelope, stores it in history and delivers it to
// every subscriber of its topic. A failed delivery emits delivery:error and
// does not abort delivery to the remaining subscribers.
func (b *Bus) Publish(ctx context.Context, env *Envelope) error {
	if err := b.prepare(env); err != nil {
		return err
	}

	b.recordHistory(env)

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.topics[env.Topic]))
	for _, sub := range b.topics[env.Topic] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	b.deliverToAll(ctx, env.Topic, env, targets)
	return nil
}

// Send delivers the envelope to a single addressed subscriber. It fails if
// the subscriber is unknown.
func (b *Bus) Send(ctx context.Context, subscriberID string, env *Envelope) error {
	if err := b.prepare(env); err != nil {
		return err
	}
	env.To = subscriberID

	b.mu.RLock()
	subs := b.subscribers[subscriberID]
	var target *subscription
	if env.Topic != "" {
		if topicSubs, ok := b.topics[env.Topic]; ok {
			target = topicSubs[subscriberID]
		}
	}
	if target == nil && len(subs) > 0 {
		target = subs[0]
	}
	b.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("unknown subscriber %s", subscriberID)
	}

	b.recordHistory(env)
	b.deliverToAll(ctx, env.Topic, env, []*subscription{target})
	return nil
}

// Broadcast delivers the envelope once to every registered subscriber.
func (b *Bus) Broadcast(ctx context.Context, env *Envelope) error {
	if err := b.prepare(env); err != nil {
		return err
	}

	b.recordHistory(env)

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subscribers))
	for _, subs := range b.subscribers {
		if len(subs) > 0 {
			targets = append(targets, subs[0])
		}
	}
	b.mu.RUnlock()

	b.deliverToAll(ctx, env.Topic, env, targets)
	return nil
}

// Request publishes a request envelope and waits for the first response
// correlated to it. The transient response subscription is removed on both
// success and timeout.
func (b *Bus) Request(ctx context.Context, env *Envelope) (*Envelope, error) {
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.New().String()
	}
	env.Type = MessageTypeRequest

	responseTopic := responseTopicPrefix + env.CorrelationID
	listenerID := "request-listener-" + env.CorrelationID
	responses := make(chan *Envelope, 1)

	err := b.Subscribe(listenerID, func(_ context.Context, response *Envelope) error {
		select {
		case responses <- response:
		default:
		}
		return nil
	}, responseTopic)
	if err != nil {
		return nil, err
	}
	defer b.Unsubscribe(listenerID, "")

	if err := b.Publish(ctx, env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(b.config.RequestTimeout)
	defer timer.Stop()

	select {
	case response := <-responses:
		return response, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s timed out after %s", env.ID, b.config.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes a response correlated to the original request.
func (b *Bus) Reply(ctx context.Context, original *Envelope, payload map[string]interface{}) error {
	if original.CorrelationID == "" {
		return fmt.Errorf("original message has no correlation id")
	}

	response := &Envelope{
		Type:          MessageTypeResponse,
		Topic:         responseTopicPrefix + original.CorrelationID,
		From:          original.To,
		To:            original.From,
		CorrelationID: original.CorrelationID,
		Payload:       payload,
	}
	return b.Publish(ctx, response)
}

// History returns the most recent messages, optionally filtered by topic.
// Newest last. limit <= 0 returns everything retained.
func (b *Bus) History(topic string, limit int) []*Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]*Envelope, 0, len(b.history))
	for _, env := range b.history {
		if topic == "" || env.Topic == topic {
			matched = append(matched, env)
		}
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// prepare assigns defaults and validates the envelope against the standard
// schema. Invalid messages are rejected before storage.
func (b *Bus) prepare(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("message is required")
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Type == "" {
		env.Type = MessageTypeEvent
	}
	if env.Payload == nil {
		env.Payload = map[string]interface{}{}
	}

	// Validate the wire form, in which the timestamp is ISO-8601 text; the
	// schema checks only that it is a string.
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	var wire map[string]interface{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	return b.validator.MustValidate("message", wire)
}

func (b *Bus) recordHistory(env *Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, env)
	if len(b.history) > b.config.MaxHistorySize {
		b.history = b.history[len(b.history)-b.config.MaxHistorySize:]
	}
}

// deliverToAll fans delivery out to every target concurrently. Only the
// initiation of a message's deliveries is serialized per topic (the lock is
// held until all handlers for this message return), so each subscriber
// observes topic messages in publish order while handlers for the same
// message run concurrently across subscribers.
func (b *Bus) deliverToAll(ctx context.Context, topic string, env *Envelope, targets []*subscription) {
	lock := b.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target *subscription) {
			defer wg.Done()
			b.deliverOne(ctx, env, target)
		}(target)
	}
	wg.Wait()
}

func (b *Bus) deliverOne(ctx context.Context, env *Envelope, target *subscription) {
	deliveryCtx, cancel := context.WithTimeout(ctx, b.config.DeliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- target.handler(deliveryCtx, env)
	}()

	var deliveryErr error
	select {
	case err := <-done:
		deliveryErr = err
	case <-deliveryCtx.Done():
		deliveryErr = fmt.Errorf("delivery timed out after %s", b.config.DeliveryTimeout)
	}

	if deliveryErr != nil {
		log.WithFields(log.Fields{
			"message_id": env.ID,
			"topic":      env.Topic,
			"subscriber": target.subscriberID,
		}).WithError(deliveryErr).Warn("Message delivery failed")

		b.emitter.Emit(events.TypeDeliveryError, target.subscriberID, map[string]interface{}{
			"message_id": env.ID,
			"topic":      env.Topic,
			"error":      deliveryErr.Error(),
		})
	}
}

func (b *Bus) topicLock(topic string) *sync.Mutex {
	lock, _ := b.topicLocks.LoadOrStore(topic, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
