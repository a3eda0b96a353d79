package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phasebus"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/registry"
	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/workflow"
)

// Handler serves the operational HTTP surface: liveness, readiness and a
// status snapshot of the registry, bus and workflow engine.
type Handler struct {
	registry  *registry.Registry
	bus       *phasebus.EnhancedBus
	engine    *workflow.Engine
	startTime time.Time
	version   string
}

// NewHandler creates the health handler.
func NewHandler(reg *registry.Registry, bus *phasebus.EnhancedBus, engine *workflow.Engine, version string) *Handler {
	return &Handler{
		registry:  reg,
		bus:       bus,
		engine:    engine,
		startTime: time.Now().UTC(),
		version:   version,
	}
}

// RegisterRoutes mounts the handler on a gin router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/health/ready", h.Ready)
	router.GET("/status", h.Status)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Ready reports readiness: the registry and bus are wired.
func (h *Handler) Ready(c *gin.Context) {
	if h.registry == nil || h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Status returns a snapshot of the orchestration core.
func (h *Handler) Status(c *gin.Context) {
	agentStatuses := make([]interface{}, 0)
	for _, id := range h.registry.IDs() {
		if a, err := h.registry.Get(id); err == nil {
			agentStatuses = append(agentStatuses, a.GetStatus())
		}
	}

	status := gin.H{
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
		"agents": gin.H{
			"count":    h.registry.Count(),
			"statuses": agentStatuses,
		},
		"bus": h.bus.GetMetrics(),
	}

	if h.engine != nil {
		status["workflows"] = gin.H{
			"registered": h.engine.Workflows(),
			"executions": len(h.engine.ListExecutions("")),
		}
	}

	pending := h.bus.PendingApprovals()
	status["approvals"] = gin.H{"pending": len(pending)}

	c.JSON(http.StatusOK, status)
}
