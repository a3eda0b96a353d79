package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Emitter dispatches events to registered handlers. Dispatch is synchronous:
// global handlers run first, then the handlers for the event's type, each
// group in registration order; a panicking handler does not prevent delivery
// to the remaining handlers.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	global   []Handler
}

// NewEmitter creates a new event emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[Type][]Handler),
	}
}

// On registers a handler for the given event types. With no types the handler
// receives every event.
func (e *Emitter) On(handler Handler, types ...Type) {
	if handler == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(types) == 0 {
		e.global = append(e.global, handler)
		return
	}

	for _, t := range types {
		e.handlers[t] = append(e.handlers[t], handler)
	}
}

// Emit builds an event from the given type, source and data and dispatches it.
func (e *Emitter) Emit(eventType Type, source string, data map[string]interface{}) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	e.mu.RLock()
	targets := make([]Handler, 0, len(e.global)+len(e.handlers[eventType]))
	targets = append(targets, e.global...)
	targets = append(targets, e.handlers[eventType]...)
	e.mu.RUnlock()

	for _, handler := range targets {
		e.dispatch(handler, event)
	}
}

func (e *Emitter) dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"event_type": event.Type,
				"event_id":   event.ID,
				"panic":      r,
			}).Error("Event handler panicked")
		}
	}()

	handler(event)
}

// HandlerCount returns the total number of registered handlers.
func (e *Emitter) HandlerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := len(e.global)
	for _, handlers := range e.handlers {
		count += len(handlers)
	}
	return count
}
