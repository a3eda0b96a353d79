package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	basebus "github.com/RobertAgterhuis/AgenticCoder-sub011/internal/bus"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/events"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phasebus"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/registry"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/workflow"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	emitter := events.NewEmitter()
	reg := registry.New(nil)
	bus := phasebus.New(phasebus.Config{BaseBackoff: time.Millisecond},
		basebus.New(basebus.Config{}, emitter), emitter)
	engine := workflow.NewEngine(reg, emitter)

	router := gin.New()
	NewHandler(reg, bus, engine, "test").RegisterRoutes(router)
	return router
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestReadyEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	agents := body["agents"].(map[string]interface{})
	assert.EqualValues(t, 0, agents["count"])
	assert.Contains(t, body, "bus")
	assert.Contains(t, body, "approvals")
}
