package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToRegisteredType(t *testing.T) {
	emitter := NewEmitter()

	var received []Event
	emitter.On(func(event Event) {
		received = append(received, event)
	}, TypeStepComplete)

	emitter.Emit(TypeStepComplete, "engine", map[string]interface{}{"step": "extract"})
	emitter.Emit(TypeStepStart, "engine", nil)

	require.Len(t, received, 1)
	assert.Equal(t, TypeStepComplete, received[0].Type)
	assert.Equal(t, "engine", received[0].Source)
	assert.Equal(t, "extract", received[0].Data["step"])
	assert.NotEmpty(t, received[0].ID)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestGlobalHandlerReceivesAllEvents(t *testing.T) {
	emitter := NewEmitter()

	count := 0
	emitter.On(func(Event) { count++ })

	emitter.Emit(TypeWorkflowStart, "engine", nil)
	emitter.Emit(TypeMessageQueued, "bus", nil)
	emitter.Emit(TypeAgentReady, "agent-1", nil)

	assert.Equal(t, 3, count)
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	emitter := NewEmitter()

	emitter.On(func(Event) { panic("boom") }, TypeAgentError)

	delivered := false
	emitter.On(func(Event) { delivered = true }, TypeAgentError)

	emitter.Emit(TypeAgentError, "agent-1", nil)

	assert.True(t, delivered)
}

func TestHandlerCount(t *testing.T) {
	emitter := NewEmitter()
	assert.Equal(t, 0, emitter.HandlerCount())

	emitter.On(func(Event) {})
	emitter.On(func(Event) {}, TypeStepStart, TypeStepComplete)

	assert.Equal(t, 3, emitter.HandlerCount())
}
