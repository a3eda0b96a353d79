package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/schema"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/toolclient"
)

// stubRunner is a configurable Runner for tests.
type stubRunner struct {
	initErr    error
	cleanupErr error
	execute    func(ctx context.Context, input map[string]interface{}, attempt int64) (map[string]interface{}, error)
	calls      int64
}

func (r *stubRunner) OnInitialize(context.Context) error { return r.initErr }
func (r *stubRunner) OnCleanup(context.Context) error    { return r.cleanupErr }

func (r *stubRunner) OnExecute(ctx context.Context, input map[string]interface{}, _ *Context, _ string) (map[string]interface{}, error) {
	attempt := atomic.AddInt64(&r.calls, 1)
	if r.execute == nil {
		return map[string]interface{}{"echo": input}, nil
	}
	return r.execute(ctx, input, attempt)
}

// stubClient implements toolclient.Client in memory.
type stubClient struct {
	connectErr    error
	disconnectErr error
	connected     bool
	disconnects   int
}

func (c *stubClient) Connect(context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *stubClient) Call(context.Context, string, map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func (c *stubClient) HealthCheck(context.Context) bool { return c.connected }

func (c *stubClient) Disconnect() error {
	c.disconnects++
	c.connected = false
	return c.disconnectErr
}

func testDefinition() Definition {
	return Definition{
		ID:      "extract",
		Name:    "Task Extractor",
		Type:    TypeTask,
		Timeout: time.Second,
		Retry:   RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond},
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	a, err := New(testDefinition(), &stubRunner{})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())

	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, StateReady, a.State())

	output, err := a.Execute(context.Background(), map[string]interface{}{"x": 1}, nil)
	require.NoError(t, err)
	assert.NotNil(t, output)
	assert.Equal(t, StateReady, a.State())

	require.NoError(t, a.Cleanup(context.Background()))
	assert.Equal(t, StateStopped, a.State())
}

func TestExecuteBeforeInitializeFails(t *testing.T) {
	a, err := New(testDefinition(), &stubRunner{})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), nil, nil)
	var stateErr *StateTransitionError
	require.ErrorAs(t, err, &stateErr)
}

func TestInitializeConnectsToolClients(t *testing.T) {
	def := testDefinition()
	def.MCPServers = []toolclient.ServerRef{
		{Name: "pricing", Transport: toolclient.TransportHTTP},
		{Name: "templates", Transport: toolclient.TransportStdio},
	}

	clients := map[string]*stubClient{}
	factory := func(ref toolclient.ServerRef) (toolclient.Client, error) {
		client := &stubClient{}
		clients[ref.Name] = client
		return client, nil
	}

	a, err := New(def, &stubRunner{}, WithClientFactory(factory))
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	assert.True(t, clients["pricing"].connected)
	assert.True(t, clients["templates"].connected)

	status := a.GetStatus()
	assert.Equal(t, []string{"pricing", "templates"}, status.ConnectedServers)
}

func TestInitializeConnectFailureClosesPartial(t *testing.T) {
	def := testDefinition()
	def.MCPServers = []toolclient.ServerRef{{Name: "broken"}}

	client := &stubClient{connectErr: errors.New("refused")}
	factory := func(toolclient.ServerRef) (toolclient.Client, error) { return client, nil }

	a, err := New(def, &stubRunner{}, WithClientFactory(factory))
	require.NoError(t, err)

	err = a.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, a.State())
	assert.GreaterOrEqual(t, client.disconnects, 1)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	def := testDefinition()
	def.Retry = RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond}

	runner := &stubRunner{
		execute: func(_ context.Context, _ map[string]interface{}, attempt int64) (map[string]interface{}, error) {
			if attempt < 2 {
				return nil, errors.New("transient")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}

	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	output, err := a.Execute(context.Background(), map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, output["ok"])

	history := a.ExecutionHistory()
	require.Len(t, history, 1)
	assert.Equal(t, ExecutionSuccess, history[0].Status)
	assert.Equal(t, 2, history[0].Attempt)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	def := testDefinition()
	def.Retry = RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond}

	runner := &stubRunner{
		execute: func(context.Context, map[string]interface{}, int64) (map[string]interface{}, error) {
			return nil, errors.New("always broken")
		},
	}

	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	_, err = a.Execute(context.Background(), map[string]interface{}{}, nil)
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&runner.calls))
	assert.Equal(t, StateError, a.State())

	history := a.ExecutionHistory()
	require.Len(t, history, 1)
	assert.Equal(t, ExecutionError, history[0].Status)
	assert.Equal(t, 2, history[0].Attempt)
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	def := testDefinition()
	def.Retry = RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	def.Inputs = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"userRequest": map[string]interface{}{"type": "string"},
		},
		"required":             []interface{}{"userRequest"},
		"additionalProperties": false,
	}

	runner := &stubRunner{}
	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	_, err = a.Execute(context.Background(), map[string]interface{}{"wrong": 1}, nil)

	var validationErr *schema.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.EqualValues(t, 0, atomic.LoadInt64(&runner.calls))
}

func TestOutputValidationFailureSurfacesImmediately(t *testing.T) {
	def := testDefinition()
	def.Retry = RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond}
	def.Outputs = map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"tasks"},
	}

	runner := &stubRunner{
		execute: func(context.Context, map[string]interface{}, int64) (map[string]interface{}, error) {
			return map[string]interface{}{"unexpected": true}, nil
		},
	}

	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	_, err = a.Execute(context.Background(), map[string]interface{}{}, nil)
	var validationErr *schema.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.EqualValues(t, 1, atomic.LoadInt64(&runner.calls))
}

func TestExecuteTimeout(t *testing.T) {
	def := testDefinition()
	def.Timeout = 30 * time.Millisecond
	def.Retry = RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond}

	runner := &stubRunner{
		execute: func(ctx context.Context, _ map[string]interface{}, _ int64) (map[string]interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	_, err = a.Execute(context.Background(), map[string]interface{}{}, nil)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestCleanupClosesAllClientsDespiteFailures(t *testing.T) {
	def := testDefinition()
	def.MCPServers = []toolclient.ServerRef{{Name: "a"}, {Name: "b"}}

	clients := map[string]*stubClient{}
	factory := func(ref toolclient.ServerRef) (toolclient.Client, error) {
		client := &stubClient{}
		if ref.Name == "a" {
			client.disconnectErr = errors.New("close failed")
		}
		clients[ref.Name] = client
		return client, nil
	}

	a, err := New(def, &stubRunner{}, WithClientFactory(factory))
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	require.NoError(t, a.Cleanup(context.Background()))
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, 1, clients["a"].disconnects)
	assert.Equal(t, 1, clients["b"].disconnects)

	// Idempotent.
	require.NoError(t, a.Cleanup(context.Background()))
	assert.Equal(t, 1, clients["b"].disconnects)
}

func TestStepPolicyOverridesAgentRetry(t *testing.T) {
	def := testDefinition()
	def.Retry = RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond}

	runner := &stubRunner{
		execute: func(_ context.Context, _ map[string]interface{}, attempt int64) (map[string]interface{}, error) {
			if attempt < 2 {
				return nil, errors.New("transient")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}

	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	_, err = a.ExecuteWithPolicy(context.Background(), map[string]interface{}{}, nil,
		&RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
}

func TestGetStatusMetrics(t *testing.T) {
	def := testDefinition()
	def.Retry = RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond}

	fail := false
	runner := &stubRunner{
		execute: func(context.Context, map[string]interface{}, int64) (map[string]interface{}, error) {
			if fail {
				return nil, errors.New("broken")
			}
			return map[string]interface{}{}, nil
		},
	}

	a, err := New(def, runner)
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	_, err = a.Execute(context.Background(), map[string]interface{}{}, nil)
	require.NoError(t, err)

	fail = true
	a.Execute(context.Background(), map[string]interface{}{}, nil)

	status := a.GetStatus()
	assert.Equal(t, 2, status.Executions)
	assert.InDelta(t, 0.5, status.SuccessRate, 0.001)
}
